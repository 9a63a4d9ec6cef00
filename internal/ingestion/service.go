// Package ingestion accepts tenant metric observation files and FX
// rate files from source systems.
package ingestion

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/impactly/consolidator/internal/domain"
	"github.com/impactly/consolidator/internal/repository"
)

// IngestResult is returned from a successful ingestion.
type IngestResult struct {
	ReportID          string `json:"report_id"`
	RecordsIngested   int    `json:"records_ingested"`
	DuplicatesSkipped int    `json:"duplicates_skipped"`
}

// Service handles ingestion of metric observation and FX rate reports.
type Service struct {
	sourceRepo *repository.MetricSourceRepo
	rateRepo   *repository.FxRateRepo
	log        *logrus.Logger
}

func NewService(sourceRepo *repository.MetricSourceRepo, rateRepo *repository.FxRateRepo,
	log *logrus.Logger) *Service {
	return &Service{sourceRepo: sourceRepo, rateRepo: rateRepo, log: log}
}

// IngestMetrics parses a metric observation file and stores the
// records. Re-submitting the same file is a no-op (SHA-256 hash check).
//
// format must be one of: csv, json
func (s *Service) IngestMetrics(data []byte, source, format string) (*IngestResult, error) {
	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	exists, err := s.sourceRepo.ReportExistsByHash(hash)
	if err != nil {
		return nil, fmt.Errorf("check hash: %w", err)
	}
	if exists {
		return &IngestResult{ReportID: "already-ingested"}, nil
	}

	var records []domain.MetricSourceRecord
	switch format {
	case "csv":
		records, err = ParseMetricsCSV(data)
	case "json":
		records, err = ParseMetricsJSON(data)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", format, err)
	}

	report := &domain.MetricReport{
		ID:          uuid.NewString(),
		Source:      source,
		ReportDate:  time.Now().UTC(),
		FileHash:    hash,
		RecordCount: len(records),
		IngestedAt:  time.Now().UTC(),
	}
	if err := s.sourceRepo.InsertReport(report); err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}

	inserted, err := s.sourceRepo.BulkInsert(records)
	if err != nil {
		return nil, fmt.Errorf("insert records: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"component": "ingestion",
		"report":    report.ID,
		"source":    source,
		"records":   len(records),
		"new":       inserted,
	}).Info("metric report ingested")

	return &IngestResult{
		ReportID:          report.ID,
		RecordsIngested:   inserted,
		DuplicatesSkipped: len(records) - inserted,
	}, nil
}

// IngestRates parses an FX rate CSV and appends the rows to the rate
// series. Duplicate ids are skipped; existing rows are never updated.
func (s *Service) IngestRates(data []byte) (*IngestResult, error) {
	rates, err := ParseRatesCSV(data)
	if err != nil {
		return nil, fmt.Errorf("parse rates: %w", err)
	}

	inserted, err := s.rateRepo.BulkInsert(rates)
	if err != nil {
		return nil, fmt.Errorf("insert rates: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"component": "ingestion",
		"rates":     len(rates),
		"new":       inserted,
	}).Info("fx rates ingested")

	return &IngestResult{
		RecordsIngested:   inserted,
		DuplicatesSkipped: len(rates) - inserted,
	}, nil
}
