package events

import "time"

// TimerExpired is published when a timer's fire time passes, including
// timers found past due at startup.
type TimerExpired struct {
	TimerID   string
	Owner     string
	Class     string
	Name      string
	FireAt    time.Time
	ExpiredAt time.Time
	Late      bool // expired during startup reconciliation
}

// MenuChanged is published after menu attributes for a device were written.
type MenuChanged struct {
	Device      string
	Active      bool
	StatusIcons []string
}

// PlaybackFinished reports that a media player finished the current item.
type PlaybackFinished struct {
	Target string
}

// ViewChanged reports that a device switched to another view.
type ViewChanged struct {
	Device string
	View   string
}
