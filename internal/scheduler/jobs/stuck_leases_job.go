package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/services"
)

const (
	stuckLeasesJobName            = "stuck_leases_job"
	StuckLeasesJobDefaultInterval = time.Minute
)

// stuckLeasesJob requeues in-progress dispense jobs whose agent stopped
// reporting, so a crashed kiosk doesn't hold its lease forever.
type stuckLeasesJob struct {
	janitor  *services.Janitor
	interval time.Duration
}

func NewStuckLeasesJob(janitor *services.Janitor, interval time.Duration) Job {
	if interval <= 0 {
		interval = StuckLeasesJobDefaultInterval
	}
	return stuckLeasesJob{janitor: janitor, interval: interval}
}

func (j stuckLeasesJob) Execute(ctx context.Context) error {
	if _, err := j.janitor.ReviveStuckLeases(ctx); err != nil {
		return fmt.Errorf("executing %s: %w", stuckLeasesJobName, err)
	}
	return nil
}

func (j stuckLeasesJob) GetInterval() time.Duration {
	return j.interval
}

func (j stuckLeasesJob) GetName() string {
	return stuckLeasesJobName
}

var _ Job = (*stuckLeasesJob)(nil)
