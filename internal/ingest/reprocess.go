package ingest

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/ngs-project/noisegate/internal/correlator"
	"github.com/ngs-project/noisegate/internal/database"
	"github.com/ngs-project/noisegate/internal/errs"
	"github.com/ngs-project/noisegate/internal/parser"
)

// ReprocessSweeper re-dispatches RawEmails that have sat in parse_status
// pending past StaleAfter back through the parser pipeline, covering the
// case where a prior ingest run crashed or was killed between storing the
// raw email and completing its idempotency reservation.
type ReprocessSweeper struct {
	DB         *gorm.DB
	Pipeline   *parser.Pipeline
	CorrConfig correlator.Config
	StaleAfter time.Duration
	BatchSize  int
}

// NewReprocessSweeper builds a ReprocessSweeper with a default batch size.
func NewReprocessSweeper(db *gorm.DB, pipeline *parser.Pipeline, corrConfig correlator.Config, staleAfter time.Duration) *ReprocessSweeper {
	return &ReprocessSweeper{
		DB:         db,
		Pipeline:   pipeline,
		CorrConfig: corrConfig,
		StaleAfter: staleAfter,
		BatchSize:  100,
	}
}

// Start runs SweepOnce on a ticker until stop is closed, in the same
// ticker+stop-channel shape as Ingester.Start and maintenance.TickSweeper.
func (s *ReprocessSweeper) Start(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				log.Printf("reprocess: sweep error: %v", err)
			}
		case <-stop:
			log.Println("reprocess: sweeper stopped")
			return
		}
	}
}

// SweepOnce re-runs the parser pipeline over every RawEmail still pending
// older than StaleAfter, up to BatchSize rows per call.
func (s *ReprocessSweeper) SweepOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-s.StaleAfter)

	var stale []database.RawEmail
	err := s.DB.Where("parse_status = ? AND created_at < ?", database.RawEmailPending, cutoff).
		Order("created_at ASC").
		Limit(s.BatchSize).
		Find(&stale).Error
	if err != nil {
		return errs.Transient("reprocess.find_stale", err)
	}

	for i := range stale {
		re := &stale[i]
		if err := s.reprocessOne(ctx, re); err != nil {
			log.Printf("reprocess: raw_email id=%d failed: %v", re.ID, err)
		}
	}
	return nil
}

func (s *ReprocessSweeper) reprocessOne(ctx context.Context, re *database.RawEmail) error {
	result, err := s.Pipeline.Process(ctx, re)
	if err != nil {
		return err
	}
	if result.Outcome != "parsed" {
		return nil
	}

	var event database.AlertEvent
	if err := s.DB.First(&event, result.AlertEventID).Error; err != nil {
		return errs.Transient("reprocess.load_alert_event", err)
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		_, err := correlator.ApplyEvent(tx, s.CorrConfig, &event, time.Now())
		return err
	})
}
