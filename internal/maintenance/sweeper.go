package maintenance

import (
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/ngs-project/noisegate/internal/database"
)

// TickSweeper periodically re-evaluates is_in_maintenance for every live
// incident, flipping it back to false once none of its covering windows
// are still active (§4.6).
type TickSweeper struct {
	db *gorm.DB
}

// NewTickSweeper builds a sweeper bound to db.
func NewTickSweeper(db *gorm.DB) *TickSweeper {
	return &TickSweeper{db: db}
}

// Tick runs one evaluation pass and returns how many incidents changed.
func (s *TickSweeper) Tick(now time.Time) (int, error) {
	var incidents []database.Incident
	if err := s.db.Where("is_in_maintenance = ? AND status IN ?", true, database.LiveIncidentStatuses).
		Find(&incidents).Error; err != nil {
		return 0, err
	}

	changed := 0
	for i := range incidents {
		inc := incidents[i]
		stillActive, err := ApplyToIncident(s.db, &inc, now)
		if err != nil {
			log.Printf("maintenance: failed to re-evaluate incident %s: %v", inc.UUID, err)
			continue
		}
		if stillActive {
			continue
		}
		inc.IsInMaintenance = false
		inc.MaintenanceWindowID = nil
		if err := s.db.Save(&inc).Error; err != nil {
			log.Printf("maintenance: failed to clear maintenance flag on incident %s: %v", inc.UUID, err)
			continue
		}
		changed++
	}
	return changed, nil
}

// Start runs Tick on interval until stop is closed.
func (s *TickSweeper) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.Tick(time.Now())
			if err != nil {
				log.Printf("maintenance: tick sweep error: %v", err)
			} else if n > 0 {
				log.Printf("maintenance: tick sweep cleared maintenance flag on %d incidents", n)
			}
		case <-stop:
			log.Println("maintenance: tick sweeper stopped")
			return
		}
	}
}
