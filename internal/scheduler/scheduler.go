package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/crashtracker"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/scheduler/jobs"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/services"
)

// Scheduler manages a list of jobs and executes them at their specified intervals.
// It uses a job queue to distribute jobs to workers.
type Scheduler struct {
	jobs               map[string]jobs.Job
	cancel             context.CancelFunc
	crashTrackerClient crashtracker.CrashTrackerClient
	jobQueue           chan jobs.Job
	// enqueuedJobs is used to keep track of enqueued jobs to avoid enqueuing the same job multiple times in case it takes longer to execute than its interval.
	enqueuedJobs sync.Map
}

type SchedulerJobRegisterOption func(*Scheduler)

// SchedulerWorkerCount is the number of workers that will be started to process jobs
const SchedulerWorkerCount = 2

// StartScheduler initializes and starts the scheduler. This method blocks until the scheduler is stopped.
func StartScheduler(crashTrackerClient crashtracker.CrashTrackerClient, schedulerJobRegisters ...SchedulerJobRegisterOption) {
	// Call crash tracker FlushEvents to flush buffered events before the scheduler terminates
	defer crashTrackerClient.FlushEvents(2 * time.Second)
	// Call crash tracker Recover for recover from unhandled panics
	defer crashTrackerClient.Recover()

	ctx, cancel := context.WithCancel(context.Background())

	// create a channel to listen for a shutdown signal
	signalChan := make(chan os.Signal, 1)

	// register signal listeners for graceful shutdown
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	scheduler := newScheduler(cancel)
	scheduler.crashTrackerClient = crashTrackerClient

	// Registering jobs
	for _, schedulerJobRegister := range schedulerJobRegisters {
		schedulerJobRegister(scheduler)
	}

	scheduler.start(ctx)

	// wait for the shutdown signal here.
	<-signalChan

	scheduler.stop()
}

// newScheduler creates a new scheduler.
func newScheduler(cancel context.CancelFunc) *Scheduler {
	return &Scheduler{
		jobs:     make(map[string]jobs.Job),
		cancel:   cancel,
		jobQueue: make(chan jobs.Job),
	}
}

// addJob adds a job to the scheduler. This method does not start the job. To start the job, call start().
func (s *Scheduler) addJob(job jobs.Job) {
	log.Infof("registering job to scheduler [name: %s], [interval: %s]", job.GetName(), job.GetInterval())
	s.jobs[job.GetName()] = job
}

// start starts the scheduler and all jobs. This method blocks until the scheduler is stopped.
func (s *Scheduler) start(ctx context.Context) {
	if len(s.jobs) == 0 {
		log.Ctx(ctx).Info("No jobs to start")
		s.stop()
		return
	}
	log.Ctx(ctx).Infof("Starting scheduler with %d workers...", SchedulerWorkerCount)

	// 1. We start all the workers that will process jobs from the job queue.
	for i := 1; i <= SchedulerWorkerCount; i++ {
		// start a new worker passing a CrashTrackerClient clone to report errors when the job is executed
		go worker(ctx, i, s.crashTrackerClient.Clone(), s)
	}

	// 2. Enqueue jobs to jobQueue.
	// We start one goroutine per job but these are lightweight because they only wait for the ticker to tick then enqueue the job.
	for _, job := range s.jobs {
		go func(job jobs.Job) {
			ticker := time.NewTicker(job.GetInterval())
			for {
				select {
				case <-ticker.C:
					jobName := job.GetName()
					if _, alreadyEnqueued := s.enqueuedJobs.LoadOrStore(jobName, true); !alreadyEnqueued {
						log.Ctx(ctx).Debugf("Enqueuing job: %s", jobName)
						s.jobQueue <- job
					} else {
						log.Ctx(ctx).Debugf("Skipping job %s, already in queue", jobName)
					}
				case <-ctx.Done():
					ticker.Stop()
					return
				}
			}
		}(job)
	}
}

// stop uses the context to stop the scheduler and all jobs.
func (s *Scheduler) stop() {
	log.Info("Stopping scheduler...")
	s.cancel()
}

// worker is a goroutine that processes jobs from the job queue.
func worker(ctx context.Context, workerID int, crashTrackerClient crashtracker.CrashTrackerClient, scheduler *Scheduler) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Errorf("Worker %d encountered a panic while processing a job: %v", workerID, r)
		}
	}()
	for {
		select {
		case job := <-scheduler.jobQueue:
			executeJob(ctx, job, workerID, crashTrackerClient)
			scheduler.enqueuedJobs.Delete(job.GetName()) // Remove job from tracking after execution
		case <-ctx.Done():
			log.Ctx(ctx).Infof("Worker %d stopping...", workerID)
			return
		}
	}
}

// executeJob executes a job and reports any errors to the crash tracker.
func executeJob(ctx context.Context, job jobs.Job, workerID int, crashTrackerClient crashtracker.CrashTrackerClient) {
	log.Ctx(ctx).Debugf("Processing job %s on worker %d", job.GetName(), workerID)
	if err := job.Execute(ctx); err != nil {
		msg := fmt.Sprintf("error processing job %s on worker %d", job.GetName(), workerID)
		crashTrackerClient.LogAndReportErrors(ctx, err, msg)
	}
}

func WithExpiredTransactionsJobOption(janitor *services.Janitor, interval time.Duration) SchedulerJobRegisterOption {
	return func(s *Scheduler) {
		s.addJob(jobs.NewExpiredTransactionsJob(janitor, interval))
	}
}

func WithStuckLeasesJobOption(janitor *services.Janitor, interval time.Duration) SchedulerJobRegisterOption {
	return func(s *Scheduler) {
		s.addJob(jobs.NewStuckLeasesJob(janitor, interval))
	}
}
