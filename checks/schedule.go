package checks

import (
	"context"
	"fmt"

	"teedops/logger"

	"github.com/robfig/cron/v3"
)

// ParseSchedule validates a standard five-field cron spec or a descriptor
// such as "@every 15m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Schedule runs job on spec until ctx is cancelled. Overlapping runs are
// skipped rather than queued.
func Schedule(ctx context.Context, spec string, log logger.Logger, job func(ctx context.Context)) error {
	if _, err := ParseSchedule(spec); err != nil {
		return err
	}
	if log == nil {
		log = logger.NewNop()
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		job(ctx)
	}); err != nil {
		return err
	}

	c.Start()
	log.Info("check schedule started", logger.String("schedule", spec))
	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("check schedule stopped")
	return nil
}
