package pass

import (
	"time"

	"campusgate/gatepass/internal/model"
)

// Lifecycle is the derived validity state of a pass. It is computed on
// every read and never stored; in particular a pass is "expired" the
// moment its window closes regardless of what the store says.
const (
	LifecycleActive    = "active"
	LifecyclePending   = "pending"
	LifecycleExpired   = "expired"
	LifecycleCancelled = "cancelled"
	LifecycleDeleted   = "deleted"
)

// Entry sub-status values mirror model.EntryStatus but give the
// not-yet-entered case an explicit name for display.
const (
	EntryNotEntered = "not_entered"
	EntryEntered    = "entered"
	EntryExited     = "exited"
)

// DisplayTimeFormat matches the SPA's pass rendering ("May 3, 2025, 02:30 PM").
const DisplayTimeFormat = "Jan 2, 2006, 03:04 PM"

type Status struct {
	Lifecycle  string
	EntryState string
	Message    string
}

// Resolve derives the current status of a pass. Pure: no side effects,
// never fails. Administrative and time-window states take precedence
// over entry progress, and expiry outranks everything, so a visitor
// who entered before the window closed reports "expired" rather than
// "inside" once it does.
func Resolve(p model.Pass, now time.Time, display *time.Location) Status {
	now = now.UTC()
	switch {
	case now.After(p.ValidUntil):
		return Status{
			Lifecycle: LifecycleExpired,
			Message:   "Pass expired on " + p.ValidUntil.In(display).Format(DisplayTimeFormat),
		}
	case p.PassStatus == model.PassStatusCancelled:
		return Status{Lifecycle: LifecycleCancelled, Message: "Pass has been cancelled"}
	case p.PassStatus == model.PassStatusDeleted:
		return Status{Lifecycle: LifecycleDeleted, Message: "Pass has been deleted"}
	case now.Before(p.ValidFrom):
		return Status{
			Lifecycle: LifecyclePending,
			Message:   "Pass not valid until " + p.ValidFrom.In(display).Format(DisplayTimeFormat),
		}
	case p.EntryTime != nil && p.ExitTime != nil:
		return Status{
			Lifecycle:  LifecycleActive,
			EntryState: EntryExited,
			Message:    "Pass fully used: entry and exit recorded",
		}
	case p.EntryTime != nil:
		return Status{
			Lifecycle:  LifecycleActive,
			EntryState: EntryEntered,
			Message:    "Visitor is inside: entry recorded",
		}
	default:
		return Status{
			Lifecycle:  LifecycleActive,
			EntryState: EntryNotEntered,
			Message:    "Pass is valid and ready for entry",
		}
	}
}

// Terminal reports whether no further entry/exit recording is allowed
// in this lifecycle state.
func (s Status) Terminal() bool {
	switch s.Lifecycle {
	case LifecycleExpired, LifecyclePending, LifecycleCancelled, LifecycleDeleted:
		return true
	}
	return false
}
