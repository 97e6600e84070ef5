package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

type RuleRepository struct {
	repos
}

const ruleColumns = `id, name, type, description, conditions, score, priority, is_active, version`

func scanRule(row scanner) (*domain.FraudRule, error) {
	rule := &domain.FraudRule{}
	var conditions []byte
	if err := row.Scan(&rule.ID, &rule.Name, &rule.Type, &rule.Description, &conditions,
		&rule.Score, &rule.Priority, &rule.IsActive, &rule.Version); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to decode conditions of rule %s: %w", rule.ID, err)
	}
	return rule, nil
}

// bumpGeneration marks every mutation so Snapshot callers can tell rule sets apart.
func (r *RuleRepository) bumpGeneration(ctx context.Context) error {
	if _, err := r.q.ExecContext(ctx, `UPDATE rule_generation SET generation = generation + 1`); err != nil {
		return fmt.Errorf("failed to bump rule generation: %w", err)
	}
	return nil
}

func (r *RuleRepository) Save(ctx context.Context, rule *domain.FraudRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode rule conditions: %w", err)
	}
	rule.Version = 1

	query := `INSERT INTO fraud_rules (` + ruleColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.q.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Type, rule.Description, string(conditions),
		rule.Score, rule.Priority, rule.IsActive, rule.Version); err != nil {
		return fmt.Errorf("failed to save rule: %w", mapError(err))
	}
	return r.bumpGeneration(ctx)
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*domain.FraudRule, error) {
	rule, err := scanRule(r.q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM fraud_rules WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "rule", id)
	}
	return rule, nil
}

func (r *RuleRepository) list(ctx context.Context, activeOnly bool) ([]*domain.FraudRule, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM fraud_rules WHERE NOT $1 OR is_active ORDER BY priority DESC, id`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return collect(rows, scanRule)
}

func (r *RuleRepository) GetAll(ctx context.Context) ([]*domain.FraudRule, error) {
	return r.list(ctx, false)
}

func (r *RuleRepository) GetActiveRules(ctx context.Context) ([]*domain.FraudRule, error) {
	return r.list(ctx, true)
}

func (r *RuleRepository) Update(ctx context.Context, rule *domain.FraudRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode rule conditions: %w", err)
	}

	err = r.q.QueryRowContext(ctx, `UPDATE fraud_rules SET
		name = $1, type = $2, description = $3, conditions = $4, score = $5, priority = $6,
		is_active = $7, version = version + 1
		WHERE id = $8 RETURNING version`,
		rule.Name, rule.Type, rule.Description, string(conditions), rule.Score, rule.Priority,
		rule.IsActive, rule.ID).Scan(&rule.Version)
	if err != nil {
		return notFound(err, "rule", rule.ID)
	}
	return r.bumpGeneration(ctx)
}

func (r *RuleRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE fraud_rules SET is_active = FALSE, version = version + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", mapError(err))
	}
	if err := expectRow(result, "rule", id); err != nil {
		return err
	}
	return r.bumpGeneration(ctx)
}

// Snapshot reads the generation and the rules in one statement so both come
// from the same database snapshot.
func (r *RuleRepository) Snapshot(ctx context.Context) (domain.RuleSet, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT g.generation,
		r.id, r.name, r.type, r.description, r.conditions, r.score, r.priority, r.is_active, r.version
		FROM rule_generation g LEFT JOIN fraud_rules r ON r.is_active`)
	if err != nil {
		return domain.RuleSet{}, fmt.Errorf("failed to load rule snapshot: %w", err)
	}
	defer rows.Close()

	generation := 0
	var rules []domain.FraudRule
	for rows.Next() {
		var (
			id, name, ruleType, description *string
			conditions                      []byte
			score, priority, version        *int
			active                          *bool
		)
		if err := rows.Scan(&generation, &id, &name, &ruleType, &description, &conditions,
			&score, &priority, &active, &version); err != nil {
			return domain.RuleSet{}, err
		}
		if id == nil {
			continue
		}
		rule := domain.FraudRule{
			ID:          *id,
			Name:        *name,
			Type:        domain.RuleType(*ruleType),
			Description: *description,
			Score:       *score,
			Priority:    *priority,
			IsActive:    *active,
			Version:     *version,
		}
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return domain.RuleSet{}, fmt.Errorf("%w: rule %s has unreadable conditions", repository.ErrConflict, rule.ID)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return domain.RuleSet{}, err
	}
	return domain.NewRuleSet(generation, rules), nil
}
