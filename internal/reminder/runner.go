package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/deadlinebot/internal/chat"
	"github.com/ashureev/deadlinebot/internal/digest"
	"github.com/ashureev/deadlinebot/internal/domain"
	"github.com/ashureev/deadlinebot/internal/logfields"
	"github.com/google/uuid"
)

// SharedDeadlines is the read side of the shared deadline table.
type SharedDeadlines interface {
	DueBetween(from, to time.Time) []domain.SharedDeadline
}

// Records is the read side of the task and subscription repositories.
type Records interface {
	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	TasksDueBetween(ctx context.Context, from, to time.Time) ([]domain.PersonalTask, error)
}

// Metrics receives dispatch outcomes.
type Metrics interface {
	RecordDigestSend(kind string, ok bool)
	RecordDigestRun(kind string, took time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordDigestSend(string, bool)          {}
func (noopMetrics) RecordDigestRun(string, time.Duration) {}

// Report summarises one firing.
type Report struct {
	RunID      string
	Kind       Kind
	From, To   time.Time
	Recipients int
	Sent       int
	Skipped    int
	Failed     int
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Shared      SharedDeadlines
	Records     Records
	Sender      chat.Sender
	Metrics     Metrics
	Location    *time.Location
	SendTimeout time.Duration
}

// Runner executes digest firings. It holds no state between runs, so
// concurrent firings of different kinds are independent.
type Runner struct {
	shared      SharedDeadlines
	records     Records
	sender      chat.Sender
	metrics     Metrics
	loc         *time.Location
	sendTimeout time.Duration
}

// NewRunner validates cfg and creates a runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Shared == nil || cfg.Records == nil || cfg.Sender == nil {
		return nil, errors.New("reminder: shared deadlines, records and sender are required")
	}
	r := &Runner{
		shared:      cfg.Shared,
		records:     cfg.Records,
		sender:      cfg.Sender,
		metrics:     cfg.Metrics,
		loc:         cfg.Location,
		sendTimeout: cfg.SendTimeout,
	}
	if r.metrics == nil {
		r.metrics = noopMetrics{}
	}
	if r.loc == nil {
		r.loc = time.Local
	}
	if r.sendTimeout <= 0 {
		r.sendTimeout = 10 * time.Second
	}
	return r, nil
}

// Run sends one digest per distinct subscribed recipient with something due
// in kind's window. A failed send is logged and counted; it does not stop
// the run. The returned error covers only failures to read the inputs.
func (r *Runner) Run(ctx context.Context, kind Kind, now time.Time) (Report, error) {
	started := time.Now()
	from, to := kind.Window(now.In(r.loc))
	report := Report{RunID: uuid.NewString(), Kind: kind, From: from, To: to}
	log := slog.With(logfields.RunID(report.RunID), logfields.DigestKind(string(kind)))
	defer func() { r.metrics.RecordDigestRun(string(kind), time.Since(started)) }()

	shared := r.shared.DueBetween(from, to)

	subs, err := r.records.ListSubscriptions(ctx)
	if err != nil {
		return report, fmt.Errorf("list subscriptions: %w", err)
	}
	recipients := distinctRecipients(kind, subs)
	report.Recipients = len(recipients)
	if len(recipients) == 0 {
		log.Info("No subscribers for digest")
		return report, nil
	}

	tasks, err := r.records.TasksDueBetween(ctx, from, to)
	if err != nil {
		return report, fmt.Errorf("list tasks due: %w", err)
	}
	byRecipient := make(map[string][]domain.PersonalTask)
	for _, t := range tasks {
		byRecipient[t.Recipient] = append(byRecipient[t.Recipient], t)
	}

	heading := kind.Heading()
	for _, recipient := range recipients {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		personal := byRecipient[recipient]
		if len(shared) == 0 && len(personal) == 0 {
			report.Skipped++
			continue
		}
		domain.SortTasksByDue(personal)

		msg := chat.Outbound{
			Recipient: recipient,
			Reply:     chat.Reply{Text: digest.Compose(heading, shared, personal)},
		}
		if err := r.send(ctx, msg); err != nil {
			report.Failed++
			r.metrics.RecordDigestSend(string(kind), false)
			log.Warn("Failed to deliver digest", logfields.Recipient(recipient), logfields.Error(err))
			continue
		}
		report.Sent++
		r.metrics.RecordDigestSend(string(kind), true)
	}

	log.Info("Digest run completed",
		"from", from.Format(time.DateOnly),
		"to", to.Format(time.DateOnly),
		"recipients", report.Recipients,
		"sent", report.Sent,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report, nil
}

func (r *Runner) send(ctx context.Context, msg chat.Outbound) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	return r.sender.Send(sendCtx, msg)
}

// distinctRecipients keeps subscriptions for kind, collapses duplicate
// (owner, recipient) rows, and returns each recipient once in first-seen order.
func distinctRecipients(kind Kind, subs []domain.Subscription) []string {
	type pair struct{ owner, recipient string }
	seenPair := make(map[pair]struct{})
	seenRecipient := make(map[string]struct{})
	var out []string
	for _, s := range subs {
		if !kind.wants(s) {
			continue
		}
		p := pair{s.Owner, s.Recipient}
		if _, ok := seenPair[p]; ok {
			continue
		}
		seenPair[p] = struct{}{}
		if _, ok := seenRecipient[s.Recipient]; ok {
			continue
		}
		seenRecipient[s.Recipient] = struct{}{}
		out = append(out, s.Recipient)
	}
	return out
}
