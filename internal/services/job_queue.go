package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/data"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/monitor"
)

// JobQueue is the agent-facing half of a cash-out: leasing dispense jobs to
// kiosks and settling their outcome reports.
type JobQueue struct {
	Models         *data.Models
	MonitorService monitor.MonitorServiceInterface
}

func NewJobQueue(models *data.Models, monitorService monitor.MonitorServiceInterface) (*JobQueue, error) {
	if models == nil {
		return nil, fmt.Errorf("models cannot be nil")
	}
	return &JobQueue{Models: models, MonitorService: monitorService}, nil
}

// Next leases the kiosk's next dispense job. It returns (nil, nil) when there
// is no work, which the edge turns into an empty poll response.
func (q *JobQueue) Next(ctx context.Context, kioskID string) (*data.DispenseJob, error) {
	if strings.TrimSpace(kioskID) == "" {
		return nil, fmt.Errorf("validating kiosk id: %w", data.ErrMissingInput)
	}

	now := time.Now()
	job, err := db.RunInTransactionWithResult(ctx, q.Models.DBConnectionPool, db.SerializableTxOptions, func(dbTx db.DBTransaction) (*data.DispenseJob, error) {
		if _, touchErr := q.Models.Kiosks.Touch(ctx, dbTx, kioskID, now); touchErr != nil {
			return nil, fmt.Errorf("registering kiosk: %w", touchErr)
		}

		return q.Models.DispenseJobs.LeaseNext(ctx, dbTx, kioskID, now)
	})
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("leasing next job for kiosk %s: %w", kioskID, err)
	}

	log.Ctx(ctx).Debugf("leased job %s (attempt %d) to kiosk %s", job.ID, job.Attempts+1, kioskID)

	return job, nil
}

// Report settles an agent's outcome report for a leased job.
func (q *JobQueue) Report(ctx context.Context, jobID, kioskID string, success bool, errorText string) (*data.DispenseJob, data.CompleteOutcome, error) {
	if strings.TrimSpace(jobID) == "" || strings.TrimSpace(kioskID) == "" {
		return nil, "", fmt.Errorf("validating report: %w", data.ErrMissingInput)
	}

	now := time.Now()
	type reportResult struct {
		job     *data.DispenseJob
		outcome data.CompleteOutcome
	}
	result, err := db.RunInTransactionWithResult(ctx, q.Models.DBConnectionPool, db.SerializableTxOptions, func(dbTx db.DBTransaction) (reportResult, error) {
		if _, touchErr := q.Models.Kiosks.Touch(ctx, dbTx, kioskID, now); touchErr != nil {
			return reportResult{}, fmt.Errorf("registering kiosk: %w", touchErr)
		}

		job, outcome, completeErr := q.Models.DispenseJobs.Complete(ctx, dbTx, jobID, kioskID, success, errorText, now)
		if completeErr != nil {
			return reportResult{}, completeErr
		}
		return reportResult{job: job, outcome: outcome}, nil
	})
	if err != nil {
		return nil, "", err
	}

	log.Ctx(ctx).Infof("job %s reported by kiosk %s: %s", jobID, kioskID, result.outcome)

	if q.MonitorService != nil {
		labels := monitor.DispenseReportLabels{Outcome: string(result.outcome)}
		if monitorErr := q.MonitorService.MonitorCounters(monitor.DispenseReportsCounterTag, labels.ToMap()); monitorErr != nil {
			log.Ctx(ctx).Errorf("monitoring dispense reports counter: %v", monitorErr)
		}
	}

	return result.job, result.outcome, nil
}
