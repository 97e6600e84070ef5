package memory

import (
	"context"
	"fmt"
	"sort"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

type RuleRepository struct {
	v view
}

func (r *RuleRepository) Save(ctx context.Context, rule *domain.FraudRule) error {
	defer r.v.lock()()
	d := r.v.s.data

	if _, exists := d.rules[rule.ID]; exists {
		return fmt.Errorf("%w: rule %s", repository.ErrDuplicate, rule.ID)
	}

	rule.Version = 1
	d.rules[rule.ID] = cloneRule(rule)
	d.ruleGeneration++
	r.v.onRollback(func() {
		delete(d.rules, rule.ID)
		d.ruleGeneration--
	})

	return nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*domain.FraudRule, error) {
	defer r.v.rlock()()

	rule, exists := r.v.s.data.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: rule %s", repository.ErrNotFound, id)
	}
	return cloneRule(rule), nil
}

func (r *RuleRepository) GetAll(ctx context.Context) ([]*domain.FraudRule, error) {
	defer r.v.rlock()()

	return r.collect(func(*domain.FraudRule) bool { return true }), nil
}

func (r *RuleRepository) GetActiveRules(ctx context.Context) ([]*domain.FraudRule, error) {
	defer r.v.rlock()()

	return r.collect(func(rule *domain.FraudRule) bool { return rule.IsActive }), nil
}

func (r *RuleRepository) Update(ctx context.Context, rule *domain.FraudRule) error {
	defer r.v.lock()()
	d := r.v.s.data

	existing, exists := d.rules[rule.ID]
	if !exists {
		return fmt.Errorf("%w: rule %s", repository.ErrNotFound, rule.ID)
	}

	rule.Version = existing.Version + 1
	d.rules[rule.ID] = cloneRule(rule)
	d.ruleGeneration++
	r.v.onRollback(func() {
		d.rules[rule.ID] = existing
		d.ruleGeneration--
	})

	return nil
}

func (r *RuleRepository) Deactivate(ctx context.Context, id string) error {
	defer r.v.lock()()
	d := r.v.s.data

	existing, exists := d.rules[id]
	if !exists {
		return fmt.Errorf("%w: rule %s", repository.ErrNotFound, id)
	}

	rule := cloneRule(existing)
	rule.IsActive = false
	rule.Version++
	d.rules[id] = rule
	d.ruleGeneration++
	r.v.onRollback(func() {
		d.rules[id] = existing
		d.ruleGeneration--
	})

	return nil
}

func (r *RuleRepository) Snapshot(ctx context.Context) (domain.RuleSet, error) {
	defer r.v.rlock()()

	active := r.collect(func(rule *domain.FraudRule) bool { return rule.IsActive })
	rules := make([]domain.FraudRule, 0, len(active))
	for _, rule := range active {
		rules = append(rules, *rule)
	}
	return domain.NewRuleSet(r.v.s.data.ruleGeneration, rules), nil
}

func (r *RuleRepository) collect(keep func(*domain.FraudRule) bool) []*domain.FraudRule {
	var result []*domain.FraudRule
	for _, rule := range r.v.s.data.rules {
		if keep(rule) {
			result = append(result, cloneRule(rule))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority == result[j].Priority {
			return result[i].ID < result[j].ID
		}
		return result[i].Priority > result[j].Priority
	})

	return result
}
