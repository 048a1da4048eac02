package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/deadlinebot/internal/chat"
	"github.com/ashureev/deadlinebot/internal/digest"
	"github.com/ashureev/deadlinebot/internal/domain"
	"github.com/ashureev/deadlinebot/internal/logfields"
)

// Deadlines is the read-only shared deadline table.
type Deadlines interface {
	Upcoming(now time.Time) []domain.SharedDeadline
	DueBetween(from, to time.Time) []domain.SharedDeadline
	SortedByCourse() []domain.SharedDeadline
	ByCourse(course string) []domain.SharedDeadline
	Courses() []string
}

// Tasks is the personal task repository used by the personal flows.
type Tasks interface {
	ListTasks(ctx context.Context, owner string) ([]domain.PersonalTask, error)
	GetTask(ctx context.Context, owner, description string) (*domain.PersonalTask, error)
	InsertTask(ctx context.Context, task *domain.PersonalTask) error
	UpdateTaskDescription(ctx context.Context, owner, description, newDescription string) error
	UpdateTaskDue(ctx context.Context, owner, description string, due time.Time) error
	DeleteTask(ctx context.Context, owner, description string) error
}

// Subscriptions is the reminder subscription repository.
type Subscriptions interface {
	InsertSubscription(ctx context.Context, sub *domain.Subscription) error
	DeleteSubscriptions(ctx context.Context, owner string) (int64, error)
}

// Metrics receives conversation events. All methods must be safe for
// concurrent use.
type Metrics interface {
	RecordTransition(from, to string)
	RecordFallback(state string)
	RecordTimeout()
	SetActiveSessions(n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordTransition(string, string) {}
func (noopMetrics) RecordFallback(string)           {}
func (noopMetrics) RecordTimeout()                  {}
func (noopMetrics) SetActiveSessions(int)           {}

// Config wires an Engine.
type Config struct {
	Sessions      Store
	Deadlines     Deadlines
	Tasks         Tasks
	Subscriptions Subscriptions
	// Sender delivers timeout notices, which are not a reply to any message.
	Sender  chat.Sender
	Metrics Metrics

	IdleTimeout   time.Duration
	NoticeTimeout time.Duration
	Location      *time.Location
	Now           func() time.Time
}

// Engine routes inbound messages through the conversation state machine.
type Engine struct {
	sessions      Store
	deadlines     Deadlines
	tasks         Tasks
	subscriptions Subscriptions
	sender        chat.Sender
	metrics       Metrics

	loc           *time.Location
	now           func() time.Time
	noticeTimeout time.Duration

	locks    *keyedMutex
	timeouts *Supervisor
}

// NewEngine validates cfg and creates an engine.
func NewEngine(cfg Config) (*Engine, error) {
	switch {
	case cfg.Deadlines == nil:
		return nil, errors.New("conversation: deadlines table is required")
	case cfg.Tasks == nil:
		return nil, errors.New("conversation: task repository is required")
	case cfg.Subscriptions == nil:
		return nil, errors.New("conversation: subscription repository is required")
	case cfg.Sender == nil:
		return nil, errors.New("conversation: sender is required")
	}

	e := &Engine{
		sessions:      cfg.Sessions,
		deadlines:     cfg.Deadlines,
		tasks:         cfg.Tasks,
		subscriptions: cfg.Subscriptions,
		sender:        cfg.Sender,
		metrics:       cfg.Metrics,
		loc:           cfg.Location,
		now:           cfg.Now,
		noticeTimeout: cfg.NoticeTimeout,
		locks:         newKeyedMutex(),
	}
	if e.sessions == nil {
		e.sessions = NewMemoryStore()
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.noticeTimeout <= 0 {
		e.noticeTimeout = 10 * time.Second
	}
	e.timeouts = NewSupervisor(cfg.IdleTimeout, e.expire)
	return e, nil
}

// Close cancels all idle timers. Live sessions are dropped silently.
func (e *Engine) Close() {
	e.timeouts.StopAll()
}

// Session returns a copy of the live session for key.
func (e *Engine) Session(key chat.SessionKey) (Session, bool) {
	return e.sessions.Get(key)
}

// Handle processes one inbound message and returns the replies to send back.
// Repository failures are reported to the user, not returned; the error is
// non-nil only when ctx is already done.
func (e *Engine) Handle(ctx context.Context, in chat.Inbound) ([]chat.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(in.Text)

	unlock := e.locks.Lock(in.Key)
	defer unlock()
	e.timeouts.Disarm(in.Key)

	if isStart(text) {
		return e.restart(in), nil
	}

	sess, ok := e.sessions.Get(in.Key)
	if !ok {
		return e.handleStateless(ctx, in, text), nil
	}

	r, ok := match(sess.State, text)
	if !ok {
		return e.fallback(in, sess.State, text), nil
	}

	t := &turn{
		ctx:     ctx,
		in:      in,
		text:    text,
		now:     e.now().In(e.loc),
		scratch: sess.Scratch,
		next:    r.next,
	}
	if err := r.handle(e, t); err != nil {
		slog.Error("Conversation step failed",
			logfields.UserID(in.Key.UserID),
			logfields.ChannelID(in.Key.ChannelID),
			logfields.State(sess.State.String()),
			logfields.Error(err))
		e.finish(in.Key)
		return []chat.Reply{{Text: textFailure}, returnHint()}, nil
	}

	slog.Info("Conversation step",
		logfields.UserID(in.Key.UserID),
		logfields.ChannelID(in.Key.ChannelID),
		logfields.State(sess.State.String()),
		logfields.NextState(t.next.String()),
		"choice", text)
	e.metrics.RecordTransition(sess.State.String(), t.next.String())

	if !t.next.Valid() {
		e.finish(in.Key)
		return append(t.replies, returnHint()), nil
	}

	sess.State = t.next
	sess.Scratch = t.scratch
	sess.LastActivity = in.ReceivedAt
	if sess.LastActivity.IsZero() {
		sess.LastActivity = e.now()
	}
	e.sessions.Put(sess)
	e.timeouts.Arm(in.Key)
	return t.replies, nil
}

// restart begins a fresh session at the main menu, discarding any scratch.
func (e *Engine) restart(in chat.Inbound) []chat.Reply {
	prev, had := e.sessions.Get(in.Key)
	from := End
	if had {
		from = prev.State
	}

	sess := Session{Key: in.Key, State: MainMenu, LastActivity: in.ReceivedAt}
	if sess.LastActivity.IsZero() {
		sess.LastActivity = e.now()
	}
	e.sessions.Put(sess)
	e.timeouts.Arm(in.Key)

	slog.Info("User entered main menu",
		logfields.UserID(in.Key.UserID),
		logfields.ChannelID(in.Key.ChannelID),
		logfields.State(from.String()),
		"user_name", in.UserName)
	e.metrics.RecordTransition(from.String(), MainMenu.String())
	e.metrics.SetActiveSessions(e.sessions.Len())

	return []chat.Reply{greeting()}
}

// handleStateless serves the legacy shortcuts that work without a session.
func (e *Engine) handleStateless(ctx context.Context, in chat.Inbound, text string) []chat.Reply {
	r, ok := firstMatch(legacyRoutes, text)
	if !ok {
		slog.Info("Unrecognized message without session",
			logfields.UserID(in.Key.UserID),
			logfields.ChannelID(in.Key.ChannelID),
			"text", text)
		e.metrics.RecordFallback(End.String())
		return []chat.Reply{{Text: textUnrecognized}, returnHint()}
	}

	t := &turn{ctx: ctx, in: in, text: text, now: e.now().In(e.loc), next: End}
	if err := r.handle(e, t); err != nil {
		slog.Error("Legacy command failed",
			logfields.UserID(in.Key.UserID),
			logfields.ChannelID(in.Key.ChannelID),
			logfields.Error(err))
		return []chat.Reply{{Text: textFailure}, returnHint()}
	}

	slog.Info("Legacy command served",
		logfields.UserID(in.Key.UserID),
		logfields.ChannelID(in.Key.ChannelID),
		"command", text)
	return append(t.replies, returnHint())
}

func (e *Engine) fallback(in chat.Inbound, state State, text string) []chat.Reply {
	slog.Info("Unrecognized choice, ending conversation",
		logfields.UserID(in.Key.UserID),
		logfields.ChannelID(in.Key.ChannelID),
		logfields.State(state.String()),
		"text", text)
	e.metrics.RecordFallback(state.String())
	e.finish(in.Key)
	return []chat.Reply{{Text: textUnrecognized}, returnHint()}
}

// finish removes the session. The caller holds the session lock.
func (e *Engine) finish(key chat.SessionKey) {
	e.timeouts.Disarm(key)
	e.sessions.Delete(key)
	e.metrics.SetActiveSessions(e.sessions.Len())
}

// expire ends an idle session and sends a single timeout notice.
func (e *Engine) expire(key chat.SessionKey, gen uint64) {
	unlock := e.locks.Lock(key)
	defer unlock()

	if !e.timeouts.Current(key, gen) {
		return
	}
	sess, ok := e.sessions.Get(key)
	e.finish(key)
	if !ok {
		return
	}

	slog.Info("Conversation timed out",
		logfields.UserID(key.UserID),
		logfields.ChannelID(key.ChannelID),
		logfields.State(sess.State.String()))
	e.metrics.RecordTimeout()

	ctx, cancel := context.WithTimeout(context.Background(), e.noticeTimeout)
	defer cancel()
	notice := chat.Outbound{
		Recipient: key.ChannelID,
		Reply: chat.Reply{
			Text:           fmt.Sprintf("%s\n\n%s", textTimeout, digest.ReturnHint),
			RemoveKeyboard: true,
		},
	}
	if err := e.sender.Send(ctx, notice); err != nil {
		slog.Warn("Failed to send timeout notice",
			logfields.UserID(key.UserID),
			logfields.Recipient(key.ChannelID),
			logfields.Error(err))
	}
}

func isStart(text string) bool {
	return text == "/start" || strings.EqualFold(text, "start")
}

func returnHint() chat.Reply {
	return chat.Reply{Text: digest.ReturnHint}
}
