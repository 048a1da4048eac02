package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/deadlinebot/internal/chat"
	"github.com/ashureev/deadlinebot/internal/digest"
	"github.com/ashureev/deadlinebot/internal/domain"
)

const (
	textGreeting = "Hey, good to see you! \n" +
		"Here's how it works:\n" +
		"- In the first line of options you can select how to get info about study courses: by date or by course.\n" +
		"- The next line of options will allow you to add and edit personal deadlines or subscribe to reminders."
	textDateMenu     = "Cool! Now choose if you want to see the nearest deadlines or all"
	textCourseMenu   = "Cool! Now choose how you want to see this information"
	textCoursePick   = "Cool! Now choose the course you want to see"
	textPersonalMenu = "Cool! Now choose what you would like to access"
	textReminderMenu = "Please choose one of the available options: \n" +
		"- 24h reminder will send you info about deadlines that are due tomorrow;\n" +
		"- Sunday notifications will send you info about deadlines in the upcoming week;\n" +
		"- Or choose to receive both types of notifications.\n" +
		"\nYou can also cancel notifications if you no longer want to receive any of them."
	textSettingsSaved   = "Thanks! The settings have been updated"
	textAskDescription  = "Type and send the task description you want to add"
	textAskDueDate      = "Please add deadline in format dd/mm/yyyy (e.g. 28/02/2021)"
	textBadDueDate      = "That doesn't look like a date. Please use format dd/mm/yyyy (e.g. 28/02/2021)"
	textEmptyDesc       = "The task description can't be empty. Please type it again"
	textAfterAdd        = "Cool! Now choose what you would like to do next"
	textNoTasksToEdit   = "Seems like you don't have any tasks added yet."
	textPickTask        = "Please select a task that you'd like to modify"
	textPickAction      = "Please select what you'd like to do"
	textAskNewDesc      = "Please enter the new description"
	textAskNewDue       = "Please enter the new deadline using format dd/mm/yyyy (e.g. 28/02/2021)"
	textTaskDeleted     = "Task was successfully deleted."
	textTaskUpdated     = "Task has been successfully updated!"
	textTaskGone        = "That task no longer exists."
	textUnrecognized    = "seems like I don't know this command yet!"
	textTimeout         = "You haven't selected anything in a minute, so I'm terminating this conversation"
	textFailure         = "Sorry, something went wrong on my side. Please try again later."
	textDuplicateFormat = "You already have a task called %q. Please type a different description"
	textUnknownFormat   = "I couldn't find a task called %q."
)

var (
	mainKeyboard     = [][]string{{btnDate, btnCourse}, {btnPersonal, btnReminders}}
	dateKeyboard     = [][]string{{btnNextSunday, btnShowAll}}
	courseKeyboard   = [][]string{{btnAllCourses, btnOneCourse}}
	personalKeyboard = [][]string{{btnSeePersonal}, {btnAddPersonal}, {btnEditPersonal}}
	reminderKeyboard = [][]string{{btnDailyReminder, btnSundayRemind}, {btnBothReminders, btnCancelRemind}}
	afterAddKeyboard = [][]string{{btnSeePersonal, btnReturnToMenu}}
	actionKeyboard   = [][]string{{string(EditDescription)}, {string(EditDeadline)}, {string(EditDelete)}}
)

func greeting() chat.Reply {
	return chat.Reply{Text: textGreeting, Keyboard: mainKeyboard}
}

func column(items []string) [][]string {
	out := make([][]string, 0, len(items))
	for _, item := range items {
		out = append(out, []string{item})
	}
	return out
}

func (e *Engine) mainMenu(t *turn) error {
	t.replies = append(t.replies, greeting())
	return nil
}

func (e *Engine) dateMenu(t *turn) error {
	t.ask(textDateMenu, dateKeyboard)
	return nil
}

func (e *Engine) courseMenu(t *turn) error {
	t.ask(textCourseMenu, courseKeyboard)
	return nil
}

func (e *Engine) personalMenu(t *turn) error {
	t.ask(textPersonalMenu, personalKeyboard)
	return nil
}

func (e *Engine) reminderMenu(t *turn) error {
	t.ask(textReminderMenu, reminderKeyboard)
	return nil
}

func (e *Engine) showNextSunday(t *turn) error {
	t.say(digest.FormatShared(e.deadlines.DueBetween(t.now, domain.NextSunday(t.now))))
	return nil
}

func (e *Engine) showUpcoming(t *turn) error {
	t.say(digest.FormatShared(e.deadlines.Upcoming(t.now)))
	return nil
}

func (e *Engine) showAllCourses(t *turn) error {
	t.say(digest.FormatShared(e.deadlines.SortedByCourse()))
	return nil
}

func (e *Engine) pickCourse(t *turn) error {
	courses := e.deadlines.Courses()
	if len(courses) == 0 {
		t.say(digest.NothingDue)
		t.goTo(End)
		return nil
	}
	t.ask(textCoursePick, column(courses))
	return nil
}

func (e *Engine) showCourse(t *turn) error {
	t.say("You have chosen " + t.text)
	t.say(digest.FormatShared(e.deadlines.ByCourse(t.text)))
	return nil
}

// subscribe returns a handler that appends one subscription row.
func subscribe(nextDay, nextWeek bool) handlerFunc {
	return func(e *Engine, t *turn) error {
		sub := &domain.Subscription{
			Owner:     t.owner(),
			Recipient: t.recipient(),
			NextDay:   nextDay,
			NextWeek:  nextWeek,
			CreatedAt: t.now,
		}
		if err := e.subscriptions.InsertSubscription(t.ctx, sub); err != nil {
			return fmt.Errorf("save subscription: %w", err)
		}
		t.say(textSettingsSaved)
		return nil
	}
}

func (e *Engine) cancelReminders(t *turn) error {
	if _, err := e.subscriptions.DeleteSubscriptions(t.ctx, t.owner()); err != nil {
		return fmt.Errorf("cancel subscriptions: %w", err)
	}
	t.say(textSettingsSaved)
	return nil
}

func (e *Engine) showPersonal(t *turn) error {
	tasks, err := e.tasks.ListTasks(t.ctx, t.owner())
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	var upcoming []domain.PersonalTask
	for _, task := range tasks {
		if domain.OnOrAfter(task.Due, t.now) {
			upcoming = append(upcoming, task)
		}
	}
	domain.SortTasksByDue(upcoming)
	t.say(digest.FormatPersonal(upcoming))
	return nil
}

func (e *Engine) askDescription(t *turn) error {
	t.scratch.Add = nil
	t.say(textAskDescription)
	return nil
}

func (e *Engine) takeDescription(t *turn) error {
	if t.text == "" {
		t.say(textEmptyDesc)
		t.goTo(PersonalDateInput)
		return nil
	}
	existing, err := e.tasks.GetTask(t.ctx, t.owner(), t.text)
	if err != nil {
		return fmt.Errorf("look up task: %w", err)
	}
	if existing != nil {
		t.say(fmt.Sprintf(textDuplicateFormat, t.text))
		t.goTo(PersonalDateInput)
		return nil
	}

	t.scratch.Add = &TaskDraft{Description: t.text}
	t.say(textAskDueDate)
	return nil
}

func (e *Engine) takeDueDate(t *turn) error {
	draft := t.scratch.Add
	if draft == nil {
		return errors.New("add flow has no task draft")
	}
	due, err := domain.ParseDueDate(t.text, e.loc)
	if err != nil {
		t.say(textBadDueDate)
		t.goTo(PersonalAdded)
		return nil
	}

	task := &domain.PersonalTask{
		Owner:       t.owner(),
		Recipient:   t.recipient(),
		Description: draft.Description,
		Due:         due,
		CreatedAt:   t.now,
	}
	if err := e.tasks.InsertTask(t.ctx, task); err != nil {
		if errors.Is(err, domain.ErrDuplicateTask) {
			t.scratch.Add = nil
			t.say(fmt.Sprintf(textDuplicateFormat, draft.Description))
			t.goTo(PersonalDateInput)
			return nil
		}
		return fmt.Errorf("insert task: %w", err)
	}

	t.scratch.Add = nil
	t.ask(textAfterAdd, afterAddKeyboard)
	return nil
}

func (e *Engine) listTasksForEdit(t *turn) error {
	tasks, err := e.tasks.ListTasks(t.ctx, t.owner())
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		t.say(textNoTasksToEdit)
		t.goTo(End)
		return nil
	}

	names := make([]string, 0, len(tasks))
	for _, task := range tasks {
		names = append(names, task.Description)
	}
	t.scratch.Edit = nil
	t.ask(textPickTask, column(names))
	return nil
}

func (e *Engine) selectTask(t *turn) error {
	task, err := e.tasks.GetTask(t.ctx, t.owner(), t.text)
	if err != nil {
		return fmt.Errorf("look up task: %w", err)
	}
	if task == nil {
		t.say(fmt.Sprintf(textUnknownFormat, t.text))
		t.goTo(End)
		return nil
	}
	t.scratch.Edit = &EditDraft{Task: task.Description}
	t.ask(textPickAction, actionKeyboard)
	return nil
}

func (e *Engine) deleteTask(t *turn) error {
	draft := t.scratch.Edit
	if draft == nil {
		return errors.New("edit flow has no selected task")
	}
	draft.Action = EditDelete

	err := e.tasks.DeleteTask(t.ctx, t.owner(), draft.Task)
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		t.say(textTaskGone)
	case err != nil:
		return fmt.Errorf("delete task: %w", err)
	default:
		t.say(textTaskDeleted)
	}
	return nil
}

func (e *Engine) askNewValue(t *turn) error {
	draft := t.scratch.Edit
	if draft == nil {
		return errors.New("edit flow has no selected task")
	}
	draft.Action = EditAction(t.text)
	if draft.Action == EditDeadline {
		t.say(textAskNewDue)
	} else {
		t.say(textAskNewDesc)
	}
	return nil
}

func (e *Engine) applyEdit(t *turn) error {
	draft := t.scratch.Edit
	if draft == nil {
		return errors.New("edit flow has no selected task")
	}

	var err error
	switch draft.Action {
	case EditDeadline:
		due, parseErr := domain.ParseDueDate(t.text, e.loc)
		if parseErr != nil {
			t.say(textBadDueDate)
			t.goTo(PersonalEditInput)
			return nil
		}
		err = e.tasks.UpdateTaskDue(t.ctx, t.owner(), draft.Task, due)
	case EditDescription:
		desc := strings.TrimSpace(t.text)
		if desc == "" {
			t.say(textEmptyDesc)
			t.goTo(PersonalEditInput)
			return nil
		}
		err = e.tasks.UpdateTaskDescription(t.ctx, t.owner(), draft.Task, desc)
		if errors.Is(err, domain.ErrDuplicateTask) {
			t.say(fmt.Sprintf(textDuplicateFormat, desc))
			t.goTo(PersonalEditInput)
			return nil
		}
	default:
		return fmt.Errorf("unknown edit action %q", draft.Action)
	}

	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		t.say(textTaskGone)
	case err != nil:
		return fmt.Errorf("update task: %w", err)
	default:
		t.say(textTaskUpdated)
	}
	return nil
}
