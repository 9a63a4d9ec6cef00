package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/impactly/consolidator/internal/adjust"
	"github.com/impactly/consolidator/internal/api"
	"github.com/impactly/consolidator/internal/collect"
	"github.com/impactly/consolidator/internal/config"
	"github.com/impactly/consolidator/internal/consolidation"
	"github.com/impactly/consolidator/internal/domain"
	"github.com/impactly/consolidator/internal/ingestion"
	"github.com/impactly/consolidator/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	log.Infof("Initializing database at %s", cfg.DBPath)
	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.Close()

	// Create repositories.
	orgRepo := repository.NewOrgRepo(db)
	sourceRepo := repository.NewMetricSourceRepo(db)
	rateRepo := repository.NewFxRateRepo(db)
	ruleRepo := repository.NewRuleRepo(db)
	adjRepo := repository.NewAdjustmentRepo(db)
	runRepo := repository.NewRunRepo(db)
	factRepo := repository.NewFactRepo(db)

	// Create services.
	collector := collect.New(sourceRepo, log)
	adjuster := adjust.NewEngine(adjRepo)
	svc := consolidation.NewService(orgRepo, runRepo, factRepo, ruleRepo,
		rateRepo, collector, adjuster, log)
	ingestionSvc := ingestion.NewService(sourceRepo, rateRepo, log)

	// Seed a demo org if the DB is empty.
	if cfg.SeedDemo {
		count, err := orgRepo.CountOrgs()
		if err != nil {
			log.Fatalf("Failed to count orgs: %v", err)
		}
		if count == 0 {
			log.Info("Database is empty, seeding demo data from testdata...")
			if err := seedDemo(orgRepo, sourceRepo, rateRepo, ruleRepo, adjRepo); err != nil {
				log.Warnf("Failed to seed demo data: %v", err)
			}
		} else {
			log.Infof("Database already has %d org(s), skipping seed", count)
		}
	}

	router := api.NewRouter(svc, adjuster, adjRepo, rateRepo, ingestionSvc, log)

	log.Info("Impactly Consolidation Service")
	log.Infof("Listening on http://localhost:%s", cfg.Port)
	log.Infof("API base: http://localhost:%s/api/v1", cfg.Port)

	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// seedFile mirrors the structure testdata/generate emits.
type seedFile struct {
	Orgs        []domain.Org                `json:"orgs"`
	Units       []domain.OrgUnit            `json:"units"`
	Memberships []domain.OrgUnitMembership  `json:"memberships"`
	Sources     []domain.MetricSourceRecord `json:"sources"`
	Rates       []domain.FxRate             `json:"rates"`
	Rules       []domain.EliminationRule    `json:"rules"`
	Adjustments []domain.Adjustment         `json:"adjustments"`
}

func seedDemo(
	orgRepo *repository.OrgRepo,
	sourceRepo *repository.MetricSourceRepo,
	rateRepo *repository.FxRateRepo,
	ruleRepo *repository.RuleRepo,
	adjRepo *repository.AdjustmentRepo,
) error {
	// Try multiple possible locations for testdata.
	candidates := []string{
		"testdata/demo.json",
		filepath.Join(".", "testdata", "demo.json"),
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "testdata", "demo.json"),
			filepath.Join(dir, "..", "..", "testdata", "demo.json"),
		)
	}

	var data []byte
	var loadErr error
	for _, path := range candidates {
		data, loadErr = os.ReadFile(path)
		if loadErr == nil {
			break
		}
	}
	if loadErr != nil {
		return fmt.Errorf("could not find demo.json in any candidate path: %w", loadErr)
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("unmarshal demo data: %w", err)
	}

	for i := range seed.Orgs {
		if err := orgRepo.InsertOrg(&seed.Orgs[i]); err != nil {
			return err
		}
	}
	for i := range seed.Units {
		if err := orgRepo.InsertUnit(&seed.Units[i]); err != nil {
			return err
		}
	}
	for i := range seed.Memberships {
		if err := orgRepo.InsertMembership(&seed.Memberships[i]); err != nil {
			return err
		}
	}
	if _, err := sourceRepo.BulkInsert(seed.Sources); err != nil {
		return err
	}
	if _, err := rateRepo.BulkInsert(seed.Rates); err != nil {
		return err
	}
	for i := range seed.Rules {
		if err := ruleRepo.Insert(&seed.Rules[i]); err != nil {
			return err
		}
	}
	for i := range seed.Adjustments {
		if err := adjRepo.Insert(&seed.Adjustments[i]); err != nil {
			return err
		}
	}
	return nil
}
