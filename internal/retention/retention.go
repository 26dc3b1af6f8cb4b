// Package retention prunes old run history on a cron schedule.
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"waorganizer/internal/config"
	"waorganizer/internal/storage/sqlite"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// ParseSchedule parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(expr))
}

// PruneOnce deletes runs older than days before now.
func PruneOnce(db *sql.DB, days int, now time.Time) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := now.UTC().AddDate(0, 0, -days)
	removed, err := sqlite.PruneRunsBefore(db, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning runs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return removed, nil
}

// Run prunes on the configured schedule until ctx is cancelled. An empty
// schedule or a non-positive retention disables it.
func Run(ctx context.Context, cfg config.Config, db *sql.DB) error {
	schedule := strings.TrimSpace(cfg.HistoryPruneSchedule)
	if schedule == "" || cfg.HistoryRetentionDays <= 0 {
		log.Println("History pruning disabled")
		return nil
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		log.Printf("Invalid history_prune_schedule '%s': %v, pruning disabled", schedule, err)
		return nil
	}
	log.Printf("History pruning scheduled (cron: %s, keep %d days)", schedule, cfg.HistoryRetentionDays)

	for {
		now := time.Now()
		next := sched.Next(now)
		wait := next.Sub(now)
		log.Printf("Next history prune at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		removed, err := PruneOnce(db, cfg.HistoryRetentionDays, time.Now())
		if err != nil {
			log.Printf("History prune error: %v", err)
			continue
		}
		log.Printf("History prune complete removed=%d", removed)
	}
}
