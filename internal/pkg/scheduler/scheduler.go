package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/loyalty"
)

// Jobs are the periodic sweeps of the loyalty engine.
type Jobs interface {
	RunBillingTick(ctx context.Context) (loyalty.BillingTickReport, error)
	ArchiveExpiredSubscriptions(ctx context.Context) (int, error)
	RunBirthdaySweep(ctx context.Context) (int, error)
}

// Schedule holds standard five-field cron specs for each sweep. An empty
// spec disables that sweep.
type Schedule struct {
	Billing  string
	Archive  string
	Birthday string
}

// Scheduler runs the loyalty sweeps on cron schedules.
type Scheduler struct {
	Cron *cron.Cron
	Jobs Jobs
	Ctx  context.Context
}

// New creates a scheduler. Overlapping runs of the same job are skipped and
// panics are recovered.
func New(ctx context.Context, jobs Jobs) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		Cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		Jobs: jobs,
		Ctx:  ctx,
	}
}

// Register adds every sweep with a non-empty spec.
func (s *Scheduler) Register(schedule Schedule) error {
	tasks := []struct {
		name string
		spec string
		run  func()
	}{
		{"billing", schedule.Billing, s.billingTask},
		{"archive", schedule.Archive, s.archiveTask},
		{"birthday", schedule.Birthday, s.birthdayTask},
	}
	for _, task := range tasks {
		if task.spec == "" {
			continue
		}
		if _, err := s.Cron.AddFunc(task.spec, task.run); err != nil {
			return fmt.Errorf("register %s task: %w", task.name, err)
		}
		log.Infof("[Scheduler] Registered %s task (%s)", task.name, task.spec)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info("[Scheduler] Started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info("[Scheduler] Stopped")
}

// RunAllNow runs every sweep once, for startup catch-up.
func (s *Scheduler) RunAllNow() {
	s.archiveTask()
	s.billingTask()
	s.birthdayTask()
}

func (s *Scheduler) billingTask() {
	report, err := s.Jobs.RunBillingTick(s.Ctx)
	if errors.Is(err, loyalty.ErrNoPaymentGateway) {
		log.Debug("[Scheduler] Billing tick skipped, no payment gateway")
		return
	}
	if err != nil {
		log.Errorf("[Scheduler] Billing tick failed: %v", err)
		return
	}
	if report.Due > 0 {
		log.Infof("[Scheduler] Billing tick submitted %d of %d due charges", report.Submitted, report.Due)
	}
}

func (s *Scheduler) archiveTask() {
	n, err := s.Jobs.ArchiveExpiredSubscriptions(s.Ctx)
	if err != nil {
		log.Errorf("[Scheduler] Archive sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Infof("[Scheduler] Archived %d subscriptions", n)
	}
}

func (s *Scheduler) birthdayTask() {
	n, err := s.Jobs.RunBirthdaySweep(s.Ctx)
	if err != nil {
		log.Errorf("[Scheduler] Birthday sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Infof("[Scheduler] Birthday sweep notified %d customers", n)
	}
}

// cronLogger routes cron's logging through fiber's logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debugw("[Scheduler] "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Errorw(fmt.Sprintf("[Scheduler] %s: %v", msg, err), keysAndValues...)
}
