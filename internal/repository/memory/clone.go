package memory

import (
	"slices"

	"pix_processor/internal/domain"
)

// Stored entities are copied on the way in and out so callers never alias
// state that a rollback may need to restore.

func cloneAccount(a *domain.Account) *domain.Account {
	c := *a
	return &c
}

func cloneKey(k *domain.TransferKey) *domain.TransferKey {
	c := *k
	if k.DeactivatedAt != nil {
		t := *k.DeactivatedAt
		c.DeactivatedAt = &t
	}
	return &c
}

func cloneTransfer(t *domain.Transfer) *domain.Transfer {
	c := *t
	c.TriggeredRules = slices.Clone(t.TriggeredRules)
	if t.ScheduledFor != nil {
		s := *t.ScheduledFor
		c.ScheduledFor = &s
	}
	if t.CompletedAt != nil {
		s := *t.CompletedAt
		c.CompletedAt = &s
	}
	return &c
}

func cloneLimit(w *domain.LimitWindow) *domain.LimitWindow {
	c := *w
	return &c
}

func cloneProfile(p *domain.RiskProfile) *domain.RiskProfile {
	c := *p
	c.KnownDevices = slices.Clone(p.KnownDevices)
	return &c
}

func cloneAlert(a *domain.Alert) *domain.Alert {
	c := *a
	c.TriggeredRules = slices.Clone(a.TriggeredRules)
	return &c
}

func cloneRule(r *domain.FraudRule) *domain.FraudRule {
	c := *r
	c.Conditions.SuspiciousHours = slices.Clone(r.Conditions.SuspiciousHours)
	return &c
}

func cloneAudit(e *domain.AuditEntry) *domain.AuditEntry {
	c := *e
	c.Payload = slices.Clone(e.Payload)
	return &c
}

func cloneLedger(e *domain.LedgerEntry) *domain.LedgerEntry {
	c := *e
	return &c
}

func cloneWebhook(e *domain.WebhookEvent) *domain.WebhookEvent {
	c := *e
	c.RawPayload = slices.Clone(e.RawPayload)
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}
