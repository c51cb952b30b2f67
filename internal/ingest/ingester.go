// Package ingest implements the per-folder polling loop that turns raw
// provider messages into stored RawEmail rows and hands them to the
// parser pipeline or the maintenance engine, grounded in the original
// worker's IMAPPoller._process_folder cycle.
package ingest

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ngs-project/noisegate/internal/correlator"
	"github.com/ngs-project/noisegate/internal/database"
	"github.com/ngs-project/noisegate/internal/errs"
	"github.com/ngs-project/noisegate/internal/idempotency"
	"github.com/ngs-project/noisegate/internal/maintenance"
	"github.com/ngs-project/noisegate/internal/parser"
)

// Config holds the ingest tunables sourced from
// internal/config.IngestConfig plus the maintenance subject prefixes
// used to route messages; the correlator config lives on Ingester.
type Config struct {
	Folders               []string
	BackfillDays          int
	IdempotencyTTL        time.Duration
	IdempotencyStaleAfter time.Duration
	SubjectPrefixes       []string
}

// Ingester drives one provider against the database, one folder at a
// time.
type Ingester struct {
	DB         *gorm.DB
	Provider   Provider
	Pipeline   *parser.Pipeline
	CorrConfig correlator.Config
	Cfg        Config
}

// Start runs PollOnce on interval until stop is closed, mirroring the
// ticker+stop-channel shape used by the correlator and maintenance
// sweepers (itself grounded in the original poller's run/stop loop,
// translated from asyncio.sleep to a time.Ticker).
func (ig *Ingester) Start(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ig.PollOnce(ctx); err != nil {
				log.Printf("ingest: poll cycle error: %v", err)
			}
		case <-stop:
			log.Println("ingest: poller stopped")
			return
		}
	}
}

// PollOnce runs one pass over every configured folder.
func (ig *Ingester) PollOnce(ctx context.Context) error {
	for _, folder := range ig.Cfg.Folders {
		if err := ig.processFolder(ctx, folder); err != nil {
			log.Printf("ingest: folder %s failed: %v", folder, err)
			ig.recordPollError(folder, err)
		}
	}
	return nil
}

func (ig *Ingester) processFolder(ctx context.Context, folder string) error {
	cursor, err := ig.getCursor(folder)
	if err != nil {
		return err
	}

	messages, err := ig.Provider.Fetch(ctx, folder, cursor.LastUID, ig.Cfg.BackfillDays)
	if err != nil {
		return err
	}

	maxUID := cursor.LastUID
	processed := int64(0)
	for _, msg := range messages {
		if err := ig.processMessage(ctx, folder, msg); err != nil {
			log.Printf("ingest: failed to process message uid=%d folder=%s: %v", msg.UID, folder, err)
			continue
		}
		if msg.UID > maxUID {
			maxUID = msg.UID
		}
		processed++
	}

	return ig.updateCursor(folder, maxUID, processed)
}

func (ig *Ingester) processMessage(ctx context.Context, folder string, msg FetchedMessage) error {
	parsed, err := ParseMIME(msg.Raw)
	if err != nil {
		return errs.Data("ingest.parse_mime", err)
	}

	idempotencyKey := idempotencyKeyFor(folder, msg.UID, parsed.MessageID)
	reservation, err := idempotency.Begin(ig.DB, idempotencyKey, ig.Cfg.IdempotencyTTL, ig.Cfg.IdempotencyStaleAfter, time.Now())
	if err != nil {
		if err == idempotency.ErrAlreadyProcessing {
			return nil
		}
		return err
	}
	if reservation.AlreadyDone {
		return nil
	}

	re, err := ig.storeRawEmail(folder, msg.UID, parsed, msg.Raw)
	if err != nil {
		return err
	}
	if re == nil {
		// Another worker already stored this (folder, uid) pair.
		return reservation.Complete(ig.DB, map[string]interface{}{"skipped": true})
	}

	// Maintenance detection runs independently of which folder the
	// message arrived in (§4.2 step 6): a subject-prefix match or a
	// calendar invite anywhere routes to the maintenance path instead
	// of the alert parser.
	isMaintenance := maintenance.HasMaintenancePrefix(ig.Cfg.SubjectPrefixes, re.Subject) || re.HasCalendarInvite()
	if isMaintenance {
		if err := ig.processMaintenanceEmail(re); err != nil {
			return err
		}
	} else if err := ig.processAlertEmail(ctx, re); err != nil {
		return err
	}

	return reservation.Complete(ig.DB, map[string]interface{}{"raw_email_id": re.ID})
}

func (ig *Ingester) storeRawEmail(folder string, uid uint64, parsed *ParsedMessage, raw []byte) (*database.RawEmail, error) {
	attachments := make([]interface{}, len(parsed.Attachments))
	for i, a := range parsed.Attachments {
		attachments[i] = map[string]interface{}{
			"filename":     a.Filename,
			"content_type": a.ContentType,
			"size":         a.Size,
		}
	}

	re := &database.RawEmail{
		UUID:        uuid.NewString(),
		Folder:      folder,
		UID:         uid,
		MessageID:   parsed.MessageID,
		Subject:     parsed.Subject,
		FromAddress: parsed.FromAddress,
		ToAddresses: database.StringSlice(parsed.ToAddresses),
		DateHeader:  parsed.DateHeader,
		Headers:     parsed.Headers,
		BodyText:    parsed.BodyText,
		BodyHTML:    parsed.BodyHTML,
		ICSPayload:  parsed.ICSPayload,
		Attachments: database.JSONB{"items": attachments},
		ReceivedAt:  time.Now(),
		ParseStatus: database.RawEmailPending,
	}

	result := ig.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(re)
	if result.Error != nil {
		return nil, errs.Transient("ingest.store_raw_email", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return re, nil
}

func (ig *Ingester) processAlertEmail(ctx context.Context, re *database.RawEmail) error {
	result, err := ig.Pipeline.Process(ctx, re)
	if err != nil {
		return err
	}
	if result.Outcome != "parsed" {
		return nil
	}

	var event database.AlertEvent
	if err := ig.DB.First(&event, result.AlertEventID).Error; err != nil {
		return errs.Transient("ingest.load_alert_event", err)
	}

	err = ig.DB.Transaction(func(tx *gorm.DB) error {
		_, err := correlator.ApplyEvent(tx, ig.CorrConfig, &event, time.Now())
		return err
	})
	if err != nil {
		return err
	}
	return nil
}

func (ig *Ingester) processMaintenanceEmail(re *database.RawEmail) error {
	var window *database.MaintenanceWindow
	var err error

	if re.HasCalendarInvite() {
		window, err = maintenance.DetectFromICS(re.ICSPayload, "")
	} else {
		var ok bool
		window, ok, err = maintenance.DetectFromBody(ig.Cfg.SubjectPrefixes, re.Subject, re.BodyText)
		if !ok {
			return nil
		}
	}
	if err != nil {
		return errs.Data("ingest.detect_maintenance_window", err)
	}

	return ig.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(window).Error; err != nil {
			return errs.Invariant("ingest.create_maintenance_window", err)
		}
		return tx.Model(re).Update("parse_status", database.RawEmailParsed).Error
	})
}

func (ig *Ingester) getCursor(folder string) (*database.FolderCursor, error) {
	var cursor database.FolderCursor
	err := ig.DB.Where("folder = ?", folder).First(&cursor).Error
	if err == gorm.ErrRecordNotFound {
		return &database.FolderCursor{Folder: folder}, nil
	}
	if err != nil {
		return nil, errs.Transient("ingest.get_cursor", err)
	}
	return &cursor, nil
}

func (ig *Ingester) updateCursor(folder string, maxUID uint64, processed int64) error {
	now := time.Now()
	cursor := &database.FolderCursor{
		Folder:        folder,
		LastUID:       maxUID,
		LastPollAt:    &now,
		LastSuccessAt: &now,
	}
	err := ig.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "folder"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_uid", "last_poll_at", "last_success_at", "error_count", "updated_at"}),
	}).Create(cursor).Error
	if err != nil {
		return errs.Transient("ingest.update_cursor", err)
	}
	// Incrementing emails_processed and ensuring last_uid never regresses
	// needs a second UPDATE against the stored row, since GORM's upsert
	// assignment can only copy the inserted values; the insert above
	// therefore leaves emails_processed at its zero default.
	return ig.DB.Model(&database.FolderCursor{}).Where("folder = ?", folder).
		Updates(map[string]interface{}{
			"last_uid":         gorm.Expr("CASE WHEN last_uid > ? THEN last_uid ELSE ? END", maxUID, maxUID),
			"emails_processed": gorm.Expr("emails_processed + ?", processed),
		}).Error
}

func (ig *Ingester) recordPollError(folder string, cause error) {
	now := time.Now()
	err := ig.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "folder"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_poll_at", "last_error", "error_count", "updated_at"}),
	}).Create(&database.FolderCursor{
		Folder:     folder,
		LastPollAt: &now,
		LastError:  cause.Error(),
		ErrorCount: 1,
	}).Error
	if err != nil {
		log.Printf("ingest: failed to record poll error for folder %s: %v", folder, err)
		return
	}
	_ = ig.DB.Model(&database.FolderCursor{}).Where("folder = ?", folder).
		Update("error_count", gorm.Expr("error_count + 1")).Error
}

func idempotencyKeyFor(folder string, uid uint64, messageID string) string {
	return folder + ":" + uuid.NewMD5(uuid.Nil, []byte(messageID)).String()
}
