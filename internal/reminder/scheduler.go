package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ashureev/deadlinebot/internal/logfields"
)

// Scheduler fires digest runs on wall-clock schedules.
type Scheduler struct {
	scheduler gocron.Scheduler
	runner    *Runner
	timeout   time.Duration
	now       func() time.Time
}

// NewScheduler creates a scheduler whose times are interpreted in loc.
func NewScheduler(runner *Runner, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		timeout:   10 * time.Minute,
		now:       time.Now,
	}, nil
}

// ScheduleDaily runs kind every day at the given time and returns the job id.
func (s *Scheduler) ScheduleDaily(kind Kind, at Clock) (string, error) {
	return s.schedule(kind, gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(at.Hour, at.Minute, 0))))
}

// ScheduleWeekly runs kind once a week on day at the given time.
func (s *Scheduler) ScheduleWeekly(kind Kind, day time.Weekday, at Clock) (string, error) {
	return s.schedule(kind, gocron.WeeklyJob(1,
		gocron.NewWeekdays(day),
		gocron.NewAtTimes(gocron.NewAtTime(at.Hour, at.Minute, 0)),
	))
}

func (s *Scheduler) schedule(kind Kind, def gocron.JobDefinition) (string, error) {
	job, err := s.scheduler.NewJob(
		def,
		gocron.NewTask(s.fire, kind),
		gocron.WithName(fmt.Sprintf("%s-digest", kind)),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create %s digest job: %w", kind, err)
	}
	return job.ID().String(), nil
}

// NextRuns returns the next fire time of every job by name.
func (s *Scheduler) NextRuns() map[string]time.Time {
	out := make(map[string]time.Time)
	for _, job := range s.scheduler.Jobs() {
		next, err := job.NextRun()
		if err != nil {
			continue
		}
		out[job.Name()] = next
	}
	return out
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	slog.Info("Starting digest scheduler")
	s.scheduler.Start()
}

// Stop waits for running jobs and shuts down the scheduler.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping digest scheduler")
	return s.scheduler.Shutdown()
}

func (s *Scheduler) fire(kind Kind) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report, err := s.runner.Run(ctx, kind, s.now())
	if err != nil {
		slog.Error("Scheduled digest failed",
			logfields.DigestKind(string(kind)),
			logfields.RunID(report.RunID),
			logfields.Error(err))
	}
}
