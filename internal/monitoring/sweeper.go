package monitoring

import (
	"time"

	"github.com/mfiguera/lexbot-be/internal/filestore"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically deletes generated artifacts older than the retention
// window.
type Sweeper struct {
	files     *filestore.Store
	retention time.Duration
	cron      *cron.Cron
}

// NewSweeper creates a sweeper driven by a standard cron expression.
func NewSweeper(files *filestore.Store, schedule string, retention time.Duration) (*Sweeper, error) {
	s := &Sweeper{
		files:     files,
		retention: retention,
		cron:      cron.New(),
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Run starts the sweep schedule.
func (s *Sweeper) Run() {
	log.Info().Dur("retention", s.retention).Msg("Starting artifact sweeper...")
	s.cron.Start()
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Stopped artifact sweeper.")
}

func (s *Sweeper) sweep() {
	removed, err := s.files.SweepOlderThan(s.retention)
	if err != nil {
		log.Error().Err(err).Msg("Artifact sweep failed")
		return
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("Swept expired artifacts")
	}
}
