// Package collect gathers per-tenant metric observations in scope for
// a consolidation period.
package collect

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/impactly/consolidator/internal/domain"
)

// SourceStore is the collector's view of raw observation storage.
type SourceStore interface {
	SourceRecords(tenantID, period, metric string) ([]domain.MetricSourceRecord, error)
}

// Calculator reduces a tenant's raw source records to a single metric
// value. Custom calculators are registered per metric; the default sums
// record values.
type Calculator func(records []domain.MetricSourceRecord) (float64, error)

// SumCalculator is the default reduction: the sum of record values.
func SumCalculator(records []domain.MetricSourceRecord) (float64, error) {
	var total float64
	for _, r := range records {
		total += r.Value
	}
	return total, nil
}

// Collector resolves the tenant scope from a validated hierarchy and
// produces one TenantMetricData per (tenant, metric) with data.
type Collector struct {
	store       SourceStore
	calculators map[string]Calculator
	log         *logrus.Logger
}

func New(store SourceStore, log *logrus.Logger) *Collector {
	return &Collector{
		store:       store,
		calculators: make(map[string]Calculator),
		log:         log,
	}
}

// Register installs a custom calculator for a metric, replacing the
// default sum.
func (c *Collector) Register(metric string, calc Calculator) {
	c.calculators[metric] = calc
}

// Collect gathers metric data for every tenant in scope. Tenants with
// no data for a metric are logged and skipped; partial data is expected
// and never aborts the run.
func (c *Collector) Collect(orgID, period string, metrics []string,
	units []domain.OrgUnit, memberships []domain.OrgUnitMembership) ([]domain.TenantMetricData, error) {

	tenants := TenantScope(units, memberships)

	var out []domain.TenantMetricData
	for _, tenantID := range tenants {
		for _, metric := range metrics {
			records, err := c.store.SourceRecords(tenantID, period, metric)
			if err != nil {
				return nil, fmt.Errorf("source records for %s/%s: %w", tenantID, metric, err)
			}
			if len(records) == 0 {
				c.log.WithFields(logrus.Fields{
					"component": "collect",
					"org":       orgID,
					"tenant":    tenantID,
					"metric":    metric,
				}).Debug("no source records, skipping")
				continue
			}

			calc := c.calculators[metric]
			if calc == nil {
				calc = SumCalculator
			}
			value, err := calc(records)
			if err != nil {
				c.log.WithFields(logrus.Fields{
					"component": "collect",
					"tenant":    tenantID,
					"metric":    metric,
				}).Warnf("calculator failed, skipping: %v", err)
				continue
			}

			out = append(out, domain.TenantMetricData{
				TenantID: tenantID,
				Period:   period,
				Metric:   metric,
				Value:    value,
				Currency: records[0].Currency,
				Metadata: sourceMeta(records),
			})
		}
	}

	c.log.WithFields(logrus.Fields{
		"component": "collect",
		"org":       orgID,
		"period":    period,
		"tenants":   len(tenants),
		"collected": len(out),
	}).Info("metric collection finished")

	return out, nil
}

// TenantScope returns the ids of members of active units that are not
// themselves units, deduplicated, in membership order.
func TenantScope(units []domain.OrgUnit, memberships []domain.OrgUnitMembership) []string {
	unitIDs := make(map[string]bool, len(units))
	activeUnits := make(map[string]bool, len(units))
	for _, u := range units {
		unitIDs[u.ID] = true
		if u.Active {
			activeUnits[u.ID] = true
		}
	}

	seen := make(map[string]bool)
	var tenants []string
	for _, m := range memberships {
		if !activeUnits[m.OrgUnitID] {
			continue
		}
		if unitIDs[m.MemberID] {
			continue
		}
		if seen[m.MemberID] {
			continue
		}
		seen[m.MemberID] = true
		tenants = append(tenants, m.MemberID)
	}
	return tenants
}

// sourceMeta folds the source records' elimination-relevant metadata
// into the collected value. Single-record collections carry their
// record's metadata through unchanged.
func sourceMeta(records []domain.MetricSourceRecord) map[string]string {
	if len(records) == 1 && len(records[0].Metadata) > 0 {
		meta := make(map[string]string, len(records[0].Metadata))
		for k, v := range records[0].Metadata {
			meta[k] = v
		}
		return meta
	}

	meta := make(map[string]string)
	for _, r := range records {
		for _, key := range []string{domain.MetaSourceEvent, domain.MetaCounterparty, domain.MetaTags} {
			if v, ok := r.Metadata[key]; ok && meta[key] == "" {
				meta[key] = v
			}
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
