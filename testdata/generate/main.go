// Command generate writes testdata/demo.json, a coherent demo dataset:
// one org with a three-unit hierarchy, four tenants, a quarter of
// metric observations, FX rates, elimination rules, and a draft
// adjustment.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/impactly/consolidator/internal/domain"
)

type seedFile struct {
	Orgs        []domain.Org                `json:"orgs"`
	Units       []domain.OrgUnit            `json:"units"`
	Memberships []domain.OrgUnitMembership  `json:"memberships"`
	Sources     []domain.MetricSourceRecord `json:"sources"`
	Rates       []domain.FxRate             `json:"rates"`
	Rules       []domain.EliminationRule    `json:"rules"`
	Adjustments []domain.Adjustment         `json:"adjustments"`
}

func main() {
	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
	const period = "2025-Q1"

	seed := seedFile{
		Orgs: []domain.Org{
			{ID: "acme", Name: "ACME Group", Active: true, CreatedAt: now},
		},
		Units: []domain.OrgUnit{
			{ID: "u-root", OrgID: "acme", Name: "ACME Global", Active: true},
			{ID: "u-emea", OrgID: "acme", ParentID: "u-root", Name: "EMEA Division", Active: true},
			{ID: "u-amer", OrgID: "acme", ParentID: "u-root", Name: "Americas Division", Active: true},
		},
		Memberships: []domain.OrgUnitMembership{
			{OrgUnitID: "u-root", MemberID: "u-emea", PercentShare: 60},
			{OrgUnitID: "u-root", MemberID: "u-amer", PercentShare: 40},
			{OrgUnitID: "u-emea", MemberID: "t-berlin", PercentShare: 70},
			{OrgUnitID: "u-emea", MemberID: "t-nairobi", PercentShare: 30},
			{OrgUnitID: "u-amer", MemberID: "t-austin", PercentShare: 50},
			{OrgUnitID: "u-amer", MemberID: "t-bogota", PercentShare: 50},
		},
		Rates: []domain.FxRate{
			{ID: "fx-eur-usd-jan", Base: "EUR", Quote: "USD", Day: day(2025, 1, 2), Rate: dec("1.04")},
			{ID: "fx-eur-usd-mar", Base: "EUR", Quote: "USD", Day: day(2025, 3, 3), Rate: dec("1.08")},
			{ID: "fx-usd-kes", Base: "USD", Quote: "KES", Day: day(2025, 3, 3), Rate: dec("129.5")},
			{ID: "fx-cop-usd", Base: "COP", Quote: "USD", Day: day(2025, 2, 14), Rate: dec("0.00024")},
		},
		Rules: []domain.EliminationRule{
			{
				ID: "rule-gala", OrgID: "acme", Type: domain.RuleEventSource, Active: true,
				Description: "Annual gala reported by both EMEA tenants",
				SourceEvent: "evt-gala-2025",
			},
			{
				ID: "rule-intercompany", OrgID: "acme", Type: domain.RuleTenantPair, Active: true,
				Description: "Berlin <-> Austin service recharges",
				TenantA:     "t-berlin", TenantB: "t-austin",
			},
			{
				ID: "rule-legacy", OrgID: "acme", Type: domain.RuleManual, Active: false,
				Description: "Retired manual correction",
				Metric:      "donations", Amount: 250,
			},
		},
		Adjustments: []domain.Adjustment{
			{
				ID: "adj-audit-reserve", OrgID: "acme", OrgUnitID: "u-root",
				Period: period, Metric: "donations", AmountBase: -1500, Currency: "USD",
				Note:   "Reserve for pledged but unconfirmed gala donations",
				Status: domain.AdjustmentDraft, CreatedAt: now,
			},
		},
	}

	tenants := []struct {
		id       string
		currency string
		donation float64
		revenue  float64
	}{
		{"t-berlin", "EUR", 48000, 310000},
		{"t-nairobi", "KES", 5200000, 41000000},
		{"t-austin", "USD", 61000, 450000},
		{"t-bogota", "COP", 190000000, 1400000000},
	}

	i := 0
	for _, t := range tenants {
		seed.Sources = append(seed.Sources,
			domain.MetricSourceRecord{
				ID: fmt.Sprintf("src-%03d", i), TenantID: t.id, Period: period,
				Metric: "donations", Value: t.donation, Currency: t.currency,
				RecordedAt: now.AddDate(0, 0, -i),
			},
			domain.MetricSourceRecord{
				ID: fmt.Sprintf("src-%03d", i+1), TenantID: t.id, Period: period,
				Metric: "revenue", Value: t.revenue, Currency: t.currency,
				RecordedAt: now.AddDate(0, 0, -i),
			},
		)
		i += 2
	}

	// The gala event is reported by both EMEA tenants; rule-gala nets
	// the duplicate.
	seed.Sources = append(seed.Sources,
		domain.MetricSourceRecord{
			ID: "src-gala-berlin", TenantID: "t-berlin", Period: period,
			Metric: "donations", Value: 12000, Currency: "EUR",
			Metadata:   map[string]string{domain.MetaSourceEvent: "evt-gala-2025"},
			RecordedAt: now,
		},
		domain.MetricSourceRecord{
			ID: "src-gala-nairobi", TenantID: "t-nairobi", Period: period,
			Metric: "donations", Value: 1560000, Currency: "KES",
			Metadata:   map[string]string{domain.MetaSourceEvent: "evt-gala-2025"},
			RecordedAt: now,
		},
	)

	data, err := json.MarshalIndent(seed, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal: %v\n", err)
		os.Exit(1)
	}

	out := "testdata/demo.json"
	if len(os.Args) > 1 {
		out = os.Args[1]
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", out, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s: %d units, %d sources, %d rates\n",
		out, len(seed.Units), len(seed.Sources), len(seed.Rates))
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
