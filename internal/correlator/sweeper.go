package correlator

import (
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/ngs-project/noisegate/internal/database"
)

// AutoResolveSweeper periodically resolves incidents that no longer need
// a new event to settle: a resolving incident whose quiet period has
// elapsed, or any live incident whose last state is not firing and that
// has gone silent past the auto-resolve window (§4.5, "Auto-resolve
// sweeper").
type AutoResolveSweeper struct {
	db  *gorm.DB
	cfg Config
}

// NewAutoResolveSweeper builds a sweeper bound to db and cfg.
func NewAutoResolveSweeper(db *gorm.DB, cfg Config) *AutoResolveSweeper {
	return &AutoResolveSweeper{db: db, cfg: cfg}
}

// Sweep runs one pass and returns how many incidents it resolved.
func (s *AutoResolveSweeper) Sweep(now time.Time) (int, error) {
	resolved := 0

	n, err := s.resolveQuietPeriodElapsed(now)
	if err != nil {
		return resolved, err
	}
	resolved += n

	n, err = s.resolveSilence(now)
	if err != nil {
		return resolved, err
	}
	resolved += n

	return resolved, nil
}

func (s *AutoResolveSweeper) resolveQuietPeriodElapsed(now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.ResolveQuietPeriod)
	var incidents []database.Incident
	err := s.db.Where("status = ? AND last_state_change_at < ?", database.IncidentStatusResolving, cutoff).
		Find(&incidents).Error
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range incidents {
		inc := incidents[i]
		resolve(&inc, now, database.ResolutionReasonQuietPeriod)
		if err := s.db.Save(&inc).Error; err != nil {
			log.Printf("correlator: failed to resolve incident %s after quiet period: %v", inc.UUID, err)
			continue
		}
		count++
	}
	return count, nil
}

func (s *AutoResolveSweeper) resolveSilence(now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.AutoResolveAfter)
	var incidents []database.Incident
	err := s.db.Where("status IN ? AND last_seen_at < ? AND last_state <> ?", database.LiveIncidentStatuses, cutoff, database.AlertStateFiring).
		Find(&incidents).Error
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range incidents {
		inc := incidents[i]
		resolve(&inc, now, database.ResolutionReasonSilenceTimeout)
		if err := s.db.Save(&inc).Error; err != nil {
			log.Printf("correlator: failed to auto-resolve silent incident %s: %v", inc.UUID, err)
			continue
		}
		count++
	}
	return count, nil
}

// Start runs Sweep on interval until stop is closed.
func (s *AutoResolveSweeper) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.Sweep(time.Now())
			if err != nil {
				log.Printf("correlator: auto-resolve sweep error: %v", err)
			} else if n > 0 {
				log.Printf("correlator: auto-resolve sweep resolved %d incidents", n)
			}
		case <-stop:
			log.Println("correlator: auto-resolve sweeper stopped")
			return
		}
	}
}
