package memory

import (
	"context"
	"sync"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

var (
	_ repository.Store              = (*Store)(nil)
	_ repository.AccountRepository  = (*AccountRepository)(nil)
	_ repository.KeyRepository      = (*KeyRepository)(nil)
	_ repository.TransferRepository = (*TransferRepository)(nil)
	_ repository.LimitRepository    = (*LimitRepository)(nil)
	_ repository.RiskRepository     = (*RiskRepository)(nil)
	_ repository.RuleRepository     = (*RuleRepository)(nil)
	_ repository.AuditRepository    = (*AuditRepository)(nil)
	_ repository.LedgerRepository   = (*LedgerRepository)(nil)
	_ repository.WebhookRepository  = (*WebhookRepository)(nil)
)

type state struct {
	accounts       map[string]*domain.Account
	ownerIndex     map[string]string
	keys           map[string]*domain.TransferKey
	transfers      map[string]*domain.Transfer
	limits         map[string]*domain.LimitWindow
	profiles       map[string]*domain.RiskProfile
	alerts         map[string]*domain.Alert
	rules          map[string]*domain.FraudRule
	ruleGeneration int
	audit          map[string][]*domain.AuditEntry
	ledger         []*domain.LedgerEntry
	webhooks       map[string]*domain.WebhookEvent
}

// Store keeps every entity behind one RWMutex. WithinTx holds the write lock
// for the whole unit and rolls back through an undo log on error.
type Store struct {
	mu   sync.RWMutex
	data *state
}

type txLog struct {
	undo []func()
}

// view binds repositories either to the shared lock (tx == nil) or to an
// open transaction that already holds it.
type view struct {
	s  *Store
	tx *txLog
}

func NewStore() *Store {
	return &Store{
		data: &state{
			accounts:   make(map[string]*domain.Account),
			ownerIndex: make(map[string]string),
			keys:       make(map[string]*domain.TransferKey),
			transfers:  make(map[string]*domain.Transfer),
			limits:     make(map[string]*domain.LimitWindow),
			profiles:   make(map[string]*domain.RiskProfile),
			alerts:     make(map[string]*domain.Alert),
			rules:      make(map[string]*domain.FraudRule),
			audit:      make(map[string][]*domain.AuditEntry),
			webhooks:   make(map[string]*domain.WebhookEvent),
		},
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repositories) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := &txLog{}
	defer func() {
		if r := recover(); r != nil {
			log.rollback()
			panic(r)
		}
		if err != nil {
			log.rollback()
		}
	}()

	return fn(ctx, repos{view{s: s, tx: log}})
}

func (l *txLog) rollback() {
	for i := len(l.undo) - 1; i >= 0; i-- {
		l.undo[i]()
	}
	l.undo = nil
}

func (v view) rlock() func() {
	if v.tx != nil {
		return func() {}
	}
	v.s.mu.RLock()
	return v.s.mu.RUnlock
}

func (v view) lock() func() {
	if v.tx != nil {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func (v view) onRollback(undo func()) {
	if v.tx != nil {
		v.tx.undo = append(v.tx.undo, undo)
	}
}

type repos struct {
	v view
}

func (r repos) Accounts() repository.AccountRepository   { return &AccountRepository{r.v} }
func (r repos) Keys() repository.KeyRepository           { return &KeyRepository{r.v} }
func (r repos) Transfers() repository.TransferRepository { return &TransferRepository{r.v} }
func (r repos) Limits() repository.LimitRepository       { return &LimitRepository{r.v} }
func (r repos) Risk() repository.RiskRepository          { return &RiskRepository{r.v} }
func (r repos) Rules() repository.RuleRepository         { return &RuleRepository{r.v} }
func (r repos) Audit() repository.AuditRepository        { return &AuditRepository{r.v} }
func (r repos) Ledger() repository.LedgerRepository      { return &LedgerRepository{r.v} }
func (r repos) Webhooks() repository.WebhookRepository   { return &WebhookRepository{r.v} }

func (s *Store) root() repos { return repos{view{s: s}} }

func (s *Store) Accounts() repository.AccountRepository   { return s.root().Accounts() }
func (s *Store) Keys() repository.KeyRepository           { return s.root().Keys() }
func (s *Store) Transfers() repository.TransferRepository { return s.root().Transfers() }
func (s *Store) Limits() repository.LimitRepository       { return s.root().Limits() }
func (s *Store) Risk() repository.RiskRepository          { return s.root().Risk() }
func (s *Store) Rules() repository.RuleRepository         { return s.root().Rules() }
func (s *Store) Audit() repository.AuditRepository        { return s.root().Audit() }
func (s *Store) Ledger() repository.LedgerRepository      { return s.root().Ledger() }
func (s *Store) Webhooks() repository.WebhookRepository   { return s.root().Webhooks() }
