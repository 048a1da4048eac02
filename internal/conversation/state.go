// Package conversation drives the guided menu dialogue: one finite-state
// session per user and channel, with idle timeouts and a fallback exit.
package conversation

// State is a conversation step. End is terminal and never stored.
type State int

const (
	End State = iota
	MainMenu
	DateMode
	CourseMode
	SubscriptionSettings
	CourseOnly
	PersonalEntry
	PersonalDateInput
	PersonalAdded
	PersonalExit
	PersonalEditSelectTask
	PersonalEditSelectAction
	PersonalEditInput
)

var stateNames = [...]string{
	End:                      "end",
	MainMenu:                 "main_menu",
	DateMode:                 "date_mode",
	CourseMode:               "course_mode",
	SubscriptionSettings:     "subscription_settings",
	CourseOnly:               "course_only",
	PersonalEntry:            "personal_entry",
	PersonalDateInput:        "personal_date_input",
	PersonalAdded:            "personal_added",
	PersonalExit:             "personal_exit",
	PersonalEditSelectTask:   "personal_edit_select_task",
	PersonalEditSelectAction: "personal_edit_select_action",
	PersonalEditInput:        "personal_edit_input",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Valid reports whether s may be held by a live session.
func (s State) Valid() bool {
	return s >= MainMenu && s <= PersonalEditInput
}
