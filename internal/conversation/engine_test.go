package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/deadlinebot/internal/chat"
	"github.com/ashureev/deadlinebot/internal/deadlines"
	"github.com/ashureev/deadlinebot/internal/digest"
	"github.com/ashureev/deadlinebot/internal/domain"
)

// 2026-10-15 is a Thursday; the next Sunday is 2026-10-18.
var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type fakeTasks struct {
	mu    sync.Mutex
	tasks []domain.PersonalTask
	err   error
}

func (f *fakeTasks) ListTasks(_ context.Context, owner string) ([]domain.PersonalTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.PersonalTask
	for _, t := range f.tasks {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTasks) GetTask(_ context.Context, owner, description string) (*domain.PersonalTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, t := range f.tasks {
		if t.Owner == owner && t.Description == description {
			task := t
			return &task, nil
		}
	}
	return nil, nil
}

func (f *fakeTasks) InsertTask(_ context.Context, task *domain.PersonalTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, t := range f.tasks {
		if t.Owner == task.Owner && t.Description == task.Description {
			return domain.ErrDuplicateTask
		}
	}
	task.ID = int64(len(f.tasks) + 1)
	f.tasks = append(f.tasks, *task)
	return nil
}

func (f *fakeTasks) UpdateTaskDescription(_ context.Context, owner, description, newDescription string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.Owner == owner && t.Description == newDescription {
			return domain.ErrDuplicateTask
		}
	}
	return f.update(owner, description, func(t *domain.PersonalTask) { t.Description = newDescription })
}

func (f *fakeTasks) UpdateTaskDue(_ context.Context, owner, description string, due time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.update(owner, description, func(t *domain.PersonalTask) { t.Due = due })
}

func (f *fakeTasks) DeleteTask(_ context.Context, owner, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.tasks {
		if t.Owner == owner && t.Description == description {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return nil
		}
	}
	return domain.ErrTaskNotFound
}

func (f *fakeTasks) update(owner, description string, apply func(*domain.PersonalTask)) error {
	for i := range f.tasks {
		if f.tasks[i].Owner == owner && f.tasks[i].Description == description {
			apply(&f.tasks[i])
			return nil
		}
	}
	return domain.ErrTaskNotFound
}

func (f *fakeTasks) snapshot() []domain.PersonalTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PersonalTask(nil), f.tasks...)
}

type fakeSubscriptions struct {
	mu   sync.Mutex
	rows []domain.Subscription
}

func (f *fakeSubscriptions) InsertSubscription(_ context.Context, sub *domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *sub)
	return nil
}

func (f *fakeSubscriptions) DeleteSubscriptions(_ context.Context, owner string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []domain.Subscription
	var n int64
	for _, r := range f.rows {
		if r.Owner == owner {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return n, nil
}

type recordingSender struct {
	sent chan chat.Outbound
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(chan chat.Outbound, 16)}
}

func (s *recordingSender) Send(_ context.Context, msg chat.Outbound) error {
	s.sent <- msg
	return nil
}

type harness struct {
	engine *Engine
	tasks  *fakeTasks
	subs   *fakeSubscriptions
	sender *recordingSender
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sharedTable() *deadlines.Table {
	soon, later, past := day(2026, 10, 17), day(2026, 10, 30), day(2026, 10, 1)
	return deadlines.NewTable([]domain.SharedDeadline{
		{Course: "Statistics", Assignment: "Midterm", Due: &later, Weight: 0.3},
		{Course: "Finance", Assignment: "Quiz", Due: &soon, Weight: 0.25},
		{Course: "Accounting", Assignment: "Homework", Due: &past, Weight: 0.05},
		{Course: "Finance", Assignment: "Case study", Weight: 0.1},
	})
}

func newHarness(t *testing.T, idle time.Duration) *harness {
	t.Helper()
	h := &harness{
		tasks:  &fakeTasks{},
		subs:   &fakeSubscriptions{},
		sender: newRecordingSender(),
	}
	e, err := NewEngine(Config{
		Deadlines:     sharedTable(),
		Tasks:         h.tasks,
		Subscriptions: h.subs,
		Sender:        h.sender,
		IdleTimeout:   idle,
		Location:      time.UTC,
		Now:           func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(e.Close)
	h.engine = e
	return h
}

var alice = chat.SessionKey{UserID: "alice", ChannelID: "chat-a"}

func (h *harness) send(t *testing.T, key chat.SessionKey, text string) []chat.Reply {
	t.Helper()
	replies, err := h.engine.Handle(context.Background(), chat.Inbound{Key: key, Text: text, ReceivedAt: fixedNow})
	if err != nil {
		t.Fatalf("Handle(%q) failed: %v", text, err)
	}
	return replies
}

func (h *harness) sendAll(t *testing.T, key chat.SessionKey, texts ...string) []chat.Reply {
	t.Helper()
	var last []chat.Reply
	for _, text := range texts {
		last = h.send(t, key, text)
	}
	return last
}

func (h *harness) requireState(t *testing.T, key chat.SessionKey, want State) Session {
	t.Helper()
	sess, ok := h.engine.Session(key)
	if !ok {
		t.Fatalf("expected session in %s, got none", want)
	}
	if sess.State != want {
		t.Fatalf("expected state %s, got %s", want, sess.State)
	}
	if !sess.State.Valid() {
		t.Fatalf("stored state %s is not a valid live state", sess.State)
	}
	return sess
}

func (h *harness) requireNoSession(t *testing.T, key chat.SessionKey) {
	t.Helper()
	if sess, ok := h.engine.Session(key); ok {
		t.Fatalf("expected no session, found one in %s", sess.State)
	}
}

func joined(replies []chat.Reply) string {
	parts := make([]string, 0, len(replies))
	for _, r := range replies {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, "\n")
}

func lastIsReturnHint(replies []chat.Reply) bool {
	return len(replies) > 0 && replies[len(replies)-1].Text == digest.ReturnHint
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := NewEngine(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestEngine_StartOpensMainMenu(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)

	replies := h.send(t, alice, "/start")
	if len(replies) != 1 || len(replies[0].Keyboard) != 2 {
		t.Fatalf("expected greeting with main keyboard, got %+v", replies)
	}
	h.requireState(t, alice, MainMenu)

	h.send(t, alice, "start")
	h.requireState(t, alice, MainMenu)
}

func TestEngine_NoSessionUnrecognized(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)

	replies := h.send(t, alice, "Date")
	if replies[0].Text != textUnrecognized || !lastIsReturnHint(replies) {
		t.Fatalf("expected unrecognized reply with hint, got %+v", replies)
	}
	h.requireNoSession(t, alice)
}

func TestEngine_LegacyCommandsWithoutSession(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text     string
		contains []string
		excludes []string
	}{
		{text: "/next", contains: []string{"Quiz"}, excludes: []string{"Midterm", "Homework"}},
		{text: "hey, what is due BY NEXT SUNDAY?", contains: []string{"Quiz"}, excludes: []string{"Midterm"}},
		{text: "/course", contains: []string{"Homework", "Case study", "Midterm"}},
		{text: "/study", contains: []string{"Quiz", "Midterm"}, excludes: []string{"Homework", "Case study"}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, time.Minute)
			replies := h.send(t, alice, tt.text)
			body := joined(replies)
			for _, want := range tt.contains {
				if !strings.Contains(body, want) {
					t.Errorf("expected %q in %q", want, body)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(body, unwanted) {
					t.Errorf("did not expect %q in %q", unwanted, body)
				}
			}
			if !lastIsReturnHint(replies) {
				t.Error("expected return hint as last reply")
			}
			h.requireNoSession(t, alice)
		})
	}
}

func TestEngine_DateFlowEndsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)

	h.sendAll(t, alice, "/start", "Date")
	h.requireState(t, alice, DateMode)

	replies := h.send(t, alice, "By next Sunday")
	body := joined(replies)
	if !strings.Contains(body, "Assignment: Quiz") || strings.Contains(body, "Midterm") {
		t.Errorf("expected only the Quiz due by Sunday, got %q", body)
	}
	if !lastIsReturnHint(replies) {
		t.Error("expected return hint after terminal transition")
	}
	h.requireNoSession(t, alice)
}

func TestEngine_CourseFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)

	replies := h.sendAll(t, alice, "/start", "Course", "Show specific course")
	h.requireState(t, alice, CourseOnly)
	if len(replies[0].Keyboard) != 3 || replies[0].Keyboard[0][0] != "Accounting" {
		t.Fatalf("expected sorted course keyboard, got %+v", replies[0].Keyboard)
	}

	replies = h.send(t, alice, "Finance")
	body := joined(replies)
	if !strings.HasPrefix(body, "You have chosen Finance") {
		t.Errorf("expected course echo first, got %q", body)
	}
	if !strings.Contains(body, "Date: TBD") || strings.Contains(body, "Statistics") {
		t.Errorf("expected only Finance rows, got %q", body)
	}
	h.requireNoSession(t, alice)
}

func TestEngine_FallbackEndsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)

	h.sendAll(t, alice, "/start", "Date")
	replies := h.send(t, alice, "something else")
	if replies[0].Text != textUnrecognized || !lastIsReturnHint(replies) {
		t.Fatalf("expected fallback reply, got %+v", replies)
	}
	h.requireNoSession(t, alice)
}

func TestEngine_AddTaskFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)

	h.sendAll(t, alice, "/start", "Personal deadlines", "Add personal deadlines")
	h.requireState(t, alice, PersonalDateInput)

	h.send(t, alice, "Essay")
	sess := h.requireState(t, alice, PersonalAdded)
	if sess.Scratch.Add == nil || sess.Scratch.Add.Description != "Essay" {
		t.Fatalf("expected draft in scratch, got %+v", sess.Scratch)
	}

	replies := h.send(t, alice, "next friday")
	if replies[0].Text != textBadDueDate {
		t.Errorf("expected retry prompt, got %q", replies[0].Text)
	}
	h.requireState(t, alice, PersonalAdded)
	if len(h.tasks.snapshot()) != 0 {
		t.Fatal("invalid date must not insert")
	}

	replies = h.send(t, alice, "20/10/2026")
	h.requireState(t, alice, PersonalExit)
	if len(replies[0].Keyboard) != 1 || replies[0].Keyboard[0][1] != "Return to main menu" {
		t.Errorf("expected see/return keyboard, got %+v", replies[0].Keyboard)
	}

	tasks := h.tasks.snapshot()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 stored task, got %d", len(tasks))
	}
	if got := tasks[0]; got.Owner != "alice" || got.Recipient != "chat-a" || !got.Due.Equal(day(2026, 10, 20)) {
		t.Errorf("unexpected stored task %+v", got)
	}

	h.send(t, alice, "Return to main menu")
	sess = h.requireState(t, alice, MainMenu)
	if sess.Scratch.Add != nil {
		t.Error("expected scratch cleared after insert")
	}
}

func TestEngine_StartDiscardsPendingTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)

	h.sendAll(t, alice, "/start", "Personal deadlines", "Add personal deadlines", "Essay")
	h.requireState(t, alice, PersonalAdded)

	h.send(t, alice, "/start")
	sess := h.requireState(t, alice, MainMenu)
	if sess.Scratch.Add != nil || sess.Scratch.Edit != nil {
		t.Errorf("expected empty scratch after restart, got %+v", sess.Scratch)
	}
	if n := len(h.tasks.snapshot()); n != 0 {
		t.Fatalf("expected no task inserted, got %d", n)
	}
}

func TestEngine_DuplicateDescriptionRetries(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)
	h.tasks.tasks = []domain.PersonalTask{{Owner: "alice", Description: "Essay", Due: day(2026, 10, 20)}}

	replies := h.sendAll(t, alice, "/start", "Personal deadlines", "Add personal deadlines", "Essay")
	if !strings.Contains(replies[0].Text, "already have a task") {
		t.Errorf("expected duplicate prompt, got %q", replies[0].Text)
	}
	h.requireState(t, alice, PersonalDateInput)

	h.send(t, alice, "Essay 2")
	h.requireState(t, alice, PersonalAdded)
}

func TestEngine_SeePersonalFromToday(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)
	h.tasks.tasks = []domain.PersonalTask{
		{Owner: "alice", Description: "Later", Due: day(2026, 11, 1)},
		{Owner: "alice", Description: "Old", Due: day(2026, 10, 1)},
		{Owner: "alice", Description: "Today", Due: day(2026, 10, 15)},
		{Owner: "bob", Description: "Bobs", Due: day(2026, 10, 16)},
	}

	replies := h.sendAll(t, alice, "/start", "Personal deadlines", "See personal deadlines")
	body := joined(replies)
	if strings.Contains(body, "Old") || strings.Contains(body, "Bobs") {
		t.Errorf("expected only alice's current tasks, got %q", body)
	}
	if strings.Index(body, "Today") > strings.Index(body, "Later") {
		t.Errorf("expected tasks sorted by due date, got %q", body)
	}
	h.requireNoSession(t, alice)
}

func TestEngine_EditDescriptionTouchesExactPair(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)
	h.tasks.tasks = []domain.PersonalTask{
		{Owner: "alice", Description: "Essay", Due: day(2026, 10, 20)},
		{Owner: "alice", Description: "Presentation", Due: day(2026, 10, 22)},
		{Owner: "bob", Description: "Essay", Due: day(2026, 10, 21)},
	}

	replies := h.sendAll(t, alice, "/start", "Personal deadlines", "Edit personal deadlines")
	h.requireState(t, alice, PersonalEditSelectTask)
	if len(replies[0].Keyboard) != 2 {
		t.Fatalf("expected alice's two tasks offered, got %+v", replies[0].Keyboard)
	}

	h.send(t, alice, "Essay")
	h.requireState(t, alice, PersonalEditSelectAction)
	h.send(t, alice, "Change task description")
	sess := h.requireState(t, alice, PersonalEditInput)
	if sess.Scratch.Edit == nil || sess.Scratch.Edit.Task != "Essay" || sess.Scratch.Edit.Action != EditDescription {
		t.Fatalf("unexpected edit scratch %+v", sess.Scratch.Edit)
	}

	replies = h.send(t, alice, "Final essay")
	if replies[0].Text != textTaskUpdated {
		t.Errorf("expected success reply, got %q", replies[0].Text)
	}
	h.requireNoSession(t, alice)

	want := map[string]string{"alice": "", "bob": ""}
	for _, task := range h.tasks.snapshot() {
		if task.Description == "Final essay" && task.Owner != "alice" {
			t.Errorf("renamed wrong owner's task: %+v", task)
		}
		if task.Owner == "bob" {
			want["bob"] = task.Description
		}
		if task.Owner == "alice" && task.Description == "Presentation" {
			want["alice"] = task.Description
		}
	}
	if want["bob"] != "Essay" || want["alice"] != "Presentation" {
		t.Errorf("expected other tasks untouched, got %+v", h.tasks.snapshot())
	}
}

func TestEngine_EditDeadlineRetriesOnBadDate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)
	h.tasks.tasks = []domain.PersonalTask{{Owner: "alice", Description: "Essay", Due: day(2026, 10, 20)}}

	h.sendAll(t, alice, "/start", "Personal deadlines", "Edit personal deadlines", "Essay", "Change task deadline")
	replies := h.send(t, alice, "31/02/2026")
	if replies[0].Text != textBadDueDate {
		t.Errorf("expected retry prompt, got %q", replies[0].Text)
	}
	h.requireState(t, alice, PersonalEditInput)

	h.send(t, alice, "01/12/2026")
	h.requireNoSession(t, alice)
	if got := h.tasks.snapshot()[0].Due; !got.Equal(day(2026, 12, 1)) {
		t.Errorf("expected moved due date, got %v", got)
	}
}

func TestEngine_EditWithNoTasksEnds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)

	replies := h.sendAll(t, alice, "/start", "Personal deadlines", "Edit personal deadlines")
	if replies[0].Text != textNoTasksToEdit || !lastIsReturnHint(replies) {
		t.Fatalf("expected explanation and hint, got %+v", replies)
	}
	h.requireNoSession(t, alice)
}

func TestEngine_EditUnknownTaskEnds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)
	h.tasks.tasks = []domain.PersonalTask{{Owner: "alice", Description: "Essay", Due: day(2026, 10, 20)}}

	replies := h.sendAll(t, alice, "/start", "Personal deadlines", "Edit personal deadlines", "Nope")
	if !strings.Contains(replies[0].Text, "couldn't find") {
		t.Errorf("expected unknown task reply, got %q", replies[0].Text)
	}
	h.requireNoSession(t, alice)
}

func TestEngine_DeleteTaskShortCircuits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)
	h.tasks.tasks = []domain.PersonalTask{
		{Owner: "alice", Description: "Essay", Due: day(2026, 10, 20)},
		{Owner: "bob", Description: "Essay", Due: day(2026, 10, 21)},
	}

	replies := h.sendAll(t, alice, "/start", "Personal deadlines", "Edit personal deadlines", "Essay", "Delete task")
	if replies[0].Text != textTaskDeleted {
		t.Errorf("expected delete confirmation, got %q", replies[0].Text)
	}
	h.requireNoSession(t, alice)

	tasks := h.tasks.snapshot()
	if len(tasks) != 1 || tasks[0].Owner != "bob" {
		t.Errorf("expected only bob's task left, got %+v", tasks)
	}
}

func TestEngine_Subscriptions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)

	tests := []struct {
		choice            string
		nextDay, nextWeek bool
	}{
		{"24h reminder", true, false},
		{"Sunday reminder", false, true},
		{"Both", true, true},
	}
	for i, tt := range tests {
		replies := h.sendAll(t, alice, "/start", "Reminders", tt.choice)
		if replies[0].Text != textSettingsSaved {
			t.Errorf("%s: expected confirmation, got %q", tt.choice, replies[0].Text)
		}
		row := h.subs.rows[i]
		if row.NextDay != tt.nextDay || row.NextWeek != tt.nextWeek || row.Recipient != "chat-a" {
			t.Errorf("%s: unexpected row %+v", tt.choice, row)
		}
	}

	h.sendAll(t, alice, "/start", "Reminders", "Cancel reminders")
	if len(h.subs.rows) != 0 {
		t.Errorf("expected all rows cancelled, got %+v", h.subs.rows)
	}
	h.requireNoSession(t, alice)
}

func TestEngine_RepositoryFailureEndsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)
	h.tasks.err = errors.New("disk on fire")

	replies := h.sendAll(t, alice, "/start", "Personal deadlines", "See personal deadlines")
	if replies[0].Text != textFailure || !lastIsReturnHint(replies) {
		t.Fatalf("expected apology with hint, got %+v", replies)
	}
	h.requireNoSession(t, alice)
}

func TestEngine_SessionsAreIsolated(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)
	bob := chat.SessionKey{UserID: "bob", ChannelID: "chat-b"}

	h.sendAll(t, alice, "/start", "Date")
	h.send(t, bob, "/start")

	h.requireState(t, alice, DateMode)
	h.requireState(t, bob, MainMenu)
}

func TestEngine_HandleRejectsCancelledContext(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.engine.Handle(ctx, chat.Inbound{Key: alice, Text: "/start"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	h.requireNoSession(t, alice)
}
