package conversation

import (
	"context"
	"regexp"
	"time"

	"github.com/ashureev/deadlinebot/internal/chat"
)

// Button and command texts.
const (
	btnDate          = "Date"
	btnCourse        = "Course"
	btnPersonal      = "Personal deadlines"
	btnReminders     = "Reminders"
	btnNextSunday    = "By next Sunday"
	btnShowAll       = "Show all"
	btnAllCourses    = "Show all courses"
	btnOneCourse     = "Show specific course"
	btnSeePersonal   = "See personal deadlines"
	btnAddPersonal   = "Add personal deadlines"
	btnEditPersonal  = "Edit personal deadlines"
	btnReturnToMenu  = "Return to main menu"
	btnDailyReminder = "24h reminder"
	btnSundayRemind  = "Sunday reminder"
	btnBothReminders = "Both"
	btnCancelRemind  = "Cancel reminders"
)

var nextSundayPattern = regexp.MustCompile(`(?i)by next sunday`)

// matcher decides whether a route accepts the input text.
type matcher func(text string) bool

func exact(literals ...string) matcher {
	return func(text string) bool {
		for _, l := range literals {
			if text == l {
				return true
			}
		}
		return false
	}
}

func anyText() matcher {
	return func(text string) bool { return text != "" }
}

func pattern(re *regexp.Regexp) matcher {
	return re.MatchString
}

type handlerFunc func(e *Engine, t *turn) error

// route is one row of the transition table. next is the default target; the
// handler may redirect it.
type route struct {
	match  matcher
	handle handlerFunc
	next   State
}

// routes lists each state's accepted inputs in match order. Input matching
// none of them takes the fallback exit.
var routes = map[State][]route{
	MainMenu: {
		{exact(btnDate), (*Engine).dateMenu, DateMode},
		{exact(btnCourse), (*Engine).courseMenu, CourseMode},
		{exact(btnPersonal), (*Engine).personalMenu, PersonalEntry},
		{exact(btnReminders), (*Engine).reminderMenu, SubscriptionSettings},
	},
	DateMode: {
		{exact(btnNextSunday), (*Engine).showNextSunday, End},
		{exact(btnShowAll), (*Engine).showUpcoming, End},
	},
	CourseMode: {
		{exact(btnAllCourses), (*Engine).showAllCourses, End},
		{exact(btnOneCourse), (*Engine).pickCourse, CourseOnly},
	},
	CourseOnly: {
		{anyText(), (*Engine).showCourse, End},
	},
	SubscriptionSettings: {
		{exact(btnDailyReminder), subscribe(true, false), End},
		{exact(btnSundayRemind), subscribe(false, true), End},
		{exact(btnBothReminders), subscribe(true, true), End},
		{exact(btnCancelRemind), (*Engine).cancelReminders, End},
	},
	PersonalEntry: {
		{exact(btnSeePersonal), (*Engine).showPersonal, End},
		{exact(btnAddPersonal), (*Engine).askDescription, PersonalDateInput},
		{exact(btnEditPersonal), (*Engine).listTasksForEdit, PersonalEditSelectTask},
	},
	PersonalDateInput: {
		{anyText(), (*Engine).takeDescription, PersonalAdded},
	},
	PersonalAdded: {
		{anyText(), (*Engine).takeDueDate, PersonalExit},
	},
	PersonalExit: {
		{exact(btnSeePersonal), (*Engine).showPersonal, End},
		{exact(btnReturnToMenu), (*Engine).mainMenu, MainMenu},
	},
	PersonalEditSelectTask: {
		{anyText(), (*Engine).selectTask, PersonalEditSelectAction},
	},
	PersonalEditSelectAction: {
		{exact(string(EditDelete)), (*Engine).deleteTask, End},
		{exact(string(EditDescription), string(EditDeadline)), (*Engine).askNewValue, PersonalEditInput},
	},
	PersonalEditInput: {
		{anyText(), (*Engine).applyEdit, End},
	},
}

// legacyRoutes are shortcuts honoured when no session is live. They never
// create one.
var legacyRoutes = []route{
	{exact("/next"), (*Engine).showNextSunday, End},
	{pattern(nextSundayPattern), (*Engine).showNextSunday, End},
	{exact("/course"), (*Engine).showAllCourses, End},
	{exact("/study"), (*Engine).showUpcoming, End},
}

func match(state State, text string) (route, bool) {
	return firstMatch(routes[state], text)
}

func firstMatch(table []route, text string) (route, bool) {
	for _, r := range table {
		if r.match(text) {
			return r, true
		}
	}
	return route{}, false
}

// turn carries one message through a handler.
type turn struct {
	ctx     context.Context
	in      chat.Inbound
	text    string
	now     time.Time
	scratch Scratch
	next    State
	replies []chat.Reply
}

func (t *turn) say(text string) {
	t.replies = append(t.replies, chat.Reply{Text: text})
}

func (t *turn) ask(text string, keyboard [][]string) {
	t.replies = append(t.replies, chat.Reply{Text: text, Keyboard: keyboard})
}

// goTo overrides the route's declared next state.
func (t *turn) goTo(s State) {
	t.next = s
}

func (t *turn) owner() string     { return t.in.Key.UserID }
func (t *turn) recipient() string { return t.in.Key.ChannelID }
