package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/agent/hardware"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/serve/middleware"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultIdleDelay       = 2 * time.Second
	DefaultDispenseTimeout = 30 * time.Second

	// actuatedCacheSize bounds the dedupe memory; entries only matter while
	// their job's report is still in flight.
	actuatedCacheSize = 128

	reportMaxAttempts = 10
	reportRetryDelay  = 2 * time.Second
)

type Options struct {
	APIBaseURL string
	KioskID    string
	Driver     hardware.Driver

	PollInterval    time.Duration
	IdleDelay       time.Duration
	DispenseTimeout time.Duration
	HTTPClient      *http.Client
}

func (o *Options) Validate() error {
	if strings.TrimSpace(o.APIBaseURL) == "" {
		return fmt.Errorf("API base URL cannot be empty")
	}
	if strings.TrimSpace(o.KioskID) == "" {
		return fmt.Errorf("kiosk id cannot be empty")
	}
	if o.Driver == nil {
		return fmt.Errorf("hardware driver cannot be nil")
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.IdleDelay <= 0 {
		o.IdleDelay = DefaultIdleDelay
	}
	if o.DispenseTimeout <= 0 {
		o.DispenseTimeout = DefaultDispenseTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return nil
}

// dispenseResult is remembered per job id so a job re-leased after a lost
// report reply is never actuated twice.
type dispenseResult struct {
	success   bool
	errorText string
}

// Agent is the single-threaded kiosk-side loop: poll for a job, actuate the
// hopper at most once per job, then report the outcome until the coordinator
// acknowledges it.
type Agent struct {
	opts     Options
	actuated *lru.Cache[string, dispenseResult]
}

func New(opts Options) (*Agent, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("validating agent options: %w", err)
	}

	actuated, err := lru.New[string, dispenseResult](actuatedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating actuated jobs cache: %w", err)
	}

	return &Agent{opts: opts, actuated: actuated}, nil
}

// Run polls and dispenses until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	log.Ctx(ctx).Infof("agent starting for kiosk %s against %s", a.opts.KioskID, a.opts.APIBaseURL)

	for {
		job, err := a.fetchJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Ctx(ctx).Errorf("polling for a job: %v", err)
			if !sleep(ctx, a.opts.PollInterval) {
				return nil
			}
			continue
		}

		if job == nil {
			if !sleep(ctx, a.opts.IdleDelay) {
				return nil
			}
			continue
		}

		a.handleJob(ctx, job)

		if ctx.Err() != nil {
			return nil
		}
	}
}

// leasedJob mirrors the coordinator's job response.
type leasedJob struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	CoinCount     int    `json:"coin_count"`
	Attempts      int    `json:"attempts"`
	MaxAttempts   int    `json:"max_attempts"`
}

func (a *Agent) handleJob(ctx context.Context, job *leasedJob) {
	result, alreadyActuated := a.actuated.Get(job.ID)
	if alreadyActuated {
		// Lost the previous report reply; the coins already moved, so only
		// the report is replayed.
		log.Ctx(ctx).Warnf("job %s was already actuated, re-sending its report", job.ID)
	} else {
		result = a.dispense(ctx, job)
		a.actuated.Add(job.ID, result)
	}

	if err := a.report(ctx, job.ID, result); err != nil {
		log.Ctx(ctx).Errorf("reporting job %s: %v", job.ID, err)
		return
	}

	// Acknowledged; the server will never hand this job id out again.
	a.actuated.Remove(job.ID)
}

func (a *Agent) dispense(ctx context.Context, job *leasedJob) dispenseResult {
	log.Ctx(ctx).Infof("dispensing %d coins for job %s (attempt %d/%d)",
		job.CoinCount, job.ID, job.Attempts+1, job.MaxAttempts)

	dispenseCtx, cancel := context.WithTimeout(ctx, a.opts.DispenseTimeout)
	defer cancel()

	if err := a.opts.Driver.Dispense(dispenseCtx, job.CoinCount); err != nil {
		log.Ctx(ctx).Errorf("dispense failed for job %s: %v", job.ID, err)
		return dispenseResult{success: false, errorText: err.Error()}
	}

	return dispenseResult{success: true}
}

func (a *Agent) fetchJob(ctx context.Context) (*leasedJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.opts.APIBaseURL+"/jobs/pending", nil)
	if err != nil {
		return nil, fmt.Errorf("creating poll request: %w", err)
	}
	req.Header.Set(middleware.KioskIDHeaderKey, a.opts.KioskID)

	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling for pending job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polling for pending job: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Job *leasedJob `json:"job"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding pending job response: %w", err)
	}

	return body.Job, nil
}

// report delivers the job outcome, retrying transient failures. A 4xx reply
// means the coordinator made a final decision about this report and retrying
// would not change it.
func (a *Agent) report(ctx context.Context, jobID string, result dispenseResult) error {
	reqBody, err := json.Marshal(map[string]any{
		"success": result.success,
		"error":   result.errorText,
	})
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	return retry.Do(
		func() error {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost,
				fmt.Sprintf("%s/jobs/%s/complete", a.opts.APIBaseURL, jobID), bytes.NewReader(reqBody))
			if reqErr != nil {
				return retry.Unrecoverable(fmt.Errorf("creating report request: %w", reqErr))
			}
			req.Header.Set(middleware.KioskIDHeaderKey, a.opts.KioskID)
			req.Header.Set("Content-Type", "application/json")

			resp, doErr := a.opts.HTTPClient.Do(req)
			if doErr != nil {
				return fmt.Errorf("sending report: %w", doErr)
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode < 300:
				return nil
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				return retry.Unrecoverable(fmt.Errorf("report rejected with status %d", resp.StatusCode))
			default:
				return fmt.Errorf("report failed with status %d", resp.StatusCode)
			}
		},
		retry.Context(ctx),
		retry.Attempts(reportMaxAttempts),
		retry.Delay(reportRetryDelay),
		retry.LastErrorOnly(true),
	)
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
