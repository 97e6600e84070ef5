package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"pix_processor/internal/domain"
)

type LimitRepository struct {
	repos
}

const limitColumns = `user_id, daily_limit, nightly_limit, per_transaction_limit, monthly_limit,
	used_today, used_this_month, last_reset_at`

func scanLimit(row scanner) (*domain.LimitWindow, error) {
	w := &domain.LimitWindow{}
	err := row.Scan(&w.UserID, &w.DailyLimit, &w.NightlyLimit, &w.PerTransactionLimit, &w.MonthlyLimit,
		&w.UsedToday, &w.UsedThisMonth, &w.LastResetAt)
	return w, err
}

func (r *LimitRepository) Get(ctx context.Context, userID string) (*domain.LimitWindow, error) {
	w, err := scanLimit(r.q.QueryRowContext(ctx, `SELECT `+limitColumns+` FROM limit_windows WHERE user_id = $1`, userID))
	if err != nil {
		return nil, notFound(err, "limits for user", userID)
	}
	return w, nil
}

func (r *LimitRepository) GetForUpdate(ctx context.Context, userID string) (*domain.LimitWindow, error) {
	query := r.forUpdate(`SELECT ` + limitColumns + ` FROM limit_windows WHERE user_id = $1`)
	w, err := scanLimit(r.q.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, notFound(err, "limits for user", userID)
	}
	return w, nil
}

func (r *LimitRepository) Save(ctx context.Context, w *domain.LimitWindow) error {
	query := `INSERT INTO limit_windows (` + limitColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			daily_limit = EXCLUDED.daily_limit,
			nightly_limit = EXCLUDED.nightly_limit,
			per_transaction_limit = EXCLUDED.per_transaction_limit,
			monthly_limit = EXCLUDED.monthly_limit,
			used_today = EXCLUDED.used_today,
			used_this_month = EXCLUDED.used_this_month,
			last_reset_at = EXCLUDED.last_reset_at`
	_, err := r.q.ExecContext(ctx, query,
		w.UserID, w.DailyLimit, w.NightlyLimit, w.PerTransactionLimit, w.MonthlyLimit,
		w.UsedToday, w.UsedThisMonth, w.LastResetAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save limits: %w", mapError(err))
	}
	return nil
}

type RiskRepository struct {
	repos
}

const profileColumns = `user_id, score, average_amount, transfer_count, typical_hours, flag_count,
	is_blocked, blocked_reason, known_devices, updated_at`

func scanProfile(row scanner) (*domain.RiskProfile, error) {
	p := &domain.RiskProfile{}
	var hours pq.Int64Array
	var devices []string
	err := row.Scan(&p.UserID, &p.Score, &p.AverageTransactionAmount, &p.TransferCount, &hours, &p.FlagCount,
		&p.IsBlocked, &p.BlockedReason, pq.Array(&devices), &p.UpdatedAt)
	for i := 0; i < len(hours) && i < len(p.TypicalHours); i++ {
		p.TypicalHours[i] = int(hours[i])
	}
	if len(devices) > 0 {
		p.KnownDevices = devices
	}
	return p, err
}

func (r *RiskRepository) GetProfile(ctx context.Context, userID string) (*domain.RiskProfile, error) {
	p, err := scanProfile(r.q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM risk_profiles WHERE user_id = $1`, userID))
	if err != nil {
		return nil, notFound(err, "risk profile", userID)
	}
	return p, nil
}

func (r *RiskRepository) GetProfileForUpdate(ctx context.Context, userID string) (*domain.RiskProfile, error) {
	query := r.forUpdate(`SELECT ` + profileColumns + ` FROM risk_profiles WHERE user_id = $1`)
	p, err := scanProfile(r.q.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, notFound(err, "risk profile", userID)
	}
	return p, nil
}

func (r *RiskRepository) SaveProfile(ctx context.Context, p *domain.RiskProfile) error {
	hours := make(pq.Int64Array, len(p.TypicalHours))
	for i, h := range p.TypicalHours {
		hours[i] = int64(h)
	}

	query := `INSERT INTO risk_profiles (` + profileColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			score = EXCLUDED.score,
			average_amount = EXCLUDED.average_amount,
			transfer_count = EXCLUDED.transfer_count,
			typical_hours = EXCLUDED.typical_hours,
			flag_count = EXCLUDED.flag_count,
			is_blocked = EXCLUDED.is_blocked,
			blocked_reason = EXCLUDED.blocked_reason,
			known_devices = EXCLUDED.known_devices,
			updated_at = EXCLUDED.updated_at`
	_, err := r.q.ExecContext(ctx, query,
		p.UserID, p.Score, p.AverageTransactionAmount, p.TransferCount, hours, p.FlagCount,
		p.IsBlocked, p.BlockedReason, stringArray(p.KnownDevices), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save risk profile: %w", mapError(err))
	}
	return nil
}

const alertColumns = `id, user_id, transfer_id, severity, score, triggered_rules, status, created_at, updated_at`

func scanAlert(row scanner) (*domain.Alert, error) {
	a := &domain.Alert{}
	err := row.Scan(&a.ID, &a.UserID, &a.TransferID, &a.Severity, &a.Score, pq.Array(&a.TriggeredRules),
		&a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *RiskRepository) SaveAlert(ctx context.Context, a *domain.Alert) error {
	query := `INSERT INTO fraud_alerts (` + alertColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.ExecContext(ctx, query,
		a.ID, a.UserID, a.TransferID, a.Severity, a.Score, stringArray(a.TriggeredRules),
		a.Status, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", mapError(err))
	}
	return nil
}

func (r *RiskRepository) UpdateAlert(ctx context.Context, a *domain.Alert) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE fraud_alerts SET status = $1, updated_at = $2 WHERE id = $3`,
		a.Status, a.UpdatedAt.UTC(), a.ID)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", mapError(err))
	}
	return expectRow(result, "alert", a.ID)
}

func (r *RiskRepository) GetAlert(ctx context.Context, id string) (*domain.Alert, error) {
	query := r.forUpdate(`SELECT ` + alertColumns + ` FROM fraud_alerts WHERE id = $1`)
	a, err := scanAlert(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "alert", id)
	}
	return a, nil
}

func (r *RiskRepository) ListAlertsByUser(ctx context.Context, userID string) ([]*domain.Alert, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM fraud_alerts WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return collect(rows, scanAlert)
}
