package repository

import (
	"database/sql"
	"fmt"

	"github.com/impactly/consolidator/internal/domain"
)

// RuleRepo stores elimination rules.
type RuleRepo struct {
	db *sql.DB
}

func NewRuleRepo(db *sql.DB) *RuleRepo {
	return &RuleRepo{db: db}
}

func (r *RuleRepo) Insert(rule *domain.EliminationRule) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO elimination_rules
		(id, org_id, type, active, description, source_event, tenant_a, tenant_b, tag, metric, amount)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, rule.OrgID, string(rule.Type), boolToInt(rule.Active),
		nullableString(rule.Description), nullableString(rule.SourceEvent),
		nullableString(rule.TenantA), nullableString(rule.TenantB),
		nullableString(rule.Tag), nullableString(rule.Metric), rule.Amount,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// ByOrg returns all of an org's rules, active and inactive; the engine
// decides what participates.
func (r *RuleRepo) ByOrg(orgID string) ([]domain.EliminationRule, error) {
	rows, err := r.db.Query(
		`SELECT id, org_id, type, active, description, source_event,
		        tenant_a, tenant_b, tag, metric, amount
		 FROM elimination_rules WHERE org_id = ? ORDER BY id`, orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.EliminationRule
	for rows.Next() {
		var rule domain.EliminationRule
		var ruleType string
		var active int
		var desc, srcEvent, tenantA, tenantB, tag, metric sql.NullString
		if err := rows.Scan(&rule.ID, &rule.OrgID, &ruleType, &active, &desc,
			&srcEvent, &tenantA, &tenantB, &tag, &metric, &rule.Amount); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule.Type = domain.RuleType(ruleType)
		rule.Active = active != 0
		rule.Description = desc.String
		rule.SourceEvent = srcEvent.String
		rule.TenantA = tenantA.String
		rule.TenantB = tenantB.String
		rule.Tag = tag.String
		rule.Metric = metric.String
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
