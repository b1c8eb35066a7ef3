package model

import "time"

// Visit types. The discriminant decides which optional attribute group
// a pass must carry: event guests reference an event, parent visits
// carry student details.
const (
	VisitTypeEventGuest  = "event_guest"
	VisitTypeParentVisit = "parent_visit"
)

// Accepted government ID types for visitors.
var IDTypes = []string{"aadhar", "pan", "driving_license", "voter_id"}

// Stored pass statuses. "expired" is never stored: it is derived from
// ValidUntil against the current time on every read.
const (
	PassStatusActive    = "active"
	PassStatusCancelled = "cancelled"
	PassStatusDeleted   = "deleted"
)

// Entry progress, kept denormalized next to the timestamps. Written
// only by the same guarded update that writes EntryTime or ExitTime.
const (
	EntryStatusNone    = ""
	EntryStatusEntered = "entered"
	EntryStatusExited  = "exited"
)

// Pass is a time-bounded visitor authorization. Visitor identity and
// the validity window are immutable after creation; only the entry and
// exit fields and PassStatus ever change.
type Pass struct {
	PassID       string
	VisitorName  string
	VisitorPhone string
	IDType       string
	IDNumber     string

	VisitType string

	// event_guest attributes.
	EventID   string
	EventName string

	// parent_visit attributes.
	StudentName       string
	RelationToStudent string
	Department        string

	Purpose    string
	ValidFrom  time.Time
	ValidUntil time.Time

	PassStatus  string
	EntryTime   *time.Time
	ExitTime    *time.Time
	EntryStatus string

	CreatedByID   string
	CreatedByRole string
	CreatedByName string
	CreatedAt     time.Time
}

// Event is the directory entry event-guest passes reference.
type Event struct {
	ID          string
	Name        string
	Description string
	Venue       string
	StartDate   time.Time
	EndDate     time.Time
	CreatedByID string
	CreatedAt   time.Time
}

// StudentEntry is one gate log line for an enrolled student, recorded
// at the desk by registration number rather than against a pass.
type StudentEntry struct {
	ID                 string
	RegistrationNumber string
	Name               string
	Purpose            string
	EntryTime          time.Time
	ExitTime           *time.Time
	RecordedByID       string
}

// ScanEvent is one gate scan, kept briefly for the security dashboard.
type ScanEvent struct {
	ID          string    `json:"id"`
	PassID      string    `json:"pass_id"`
	VisitorName string    `json:"visitor_name"`
	Lifecycle   string    `json:"lifecycle"`
	ScannedAt   time.Time `json:"scanned_at"`
}

// Report is the aggregate view consumed by the reports dashboard.
type Report struct {
	VisitorEntries  int64           `json:"visitorEntries"`
	PassesGenerated int64           `json:"passesGenerated"`
	EventsCount     int64           `json:"eventsCount"`
	RecentVisitors  []RecentVisitor `json:"recentVisitors"`
}

type RecentVisitor struct {
	VisitorName string    `json:"visitor_name"`
	VisitType   string    `json:"visit_type"`
	EntryTime   time.Time `json:"entry_time"`
}
