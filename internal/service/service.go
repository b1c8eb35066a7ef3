// Package service implements the pass lifecycle operations on top of
// the store: creation, verification, entry/exit recording and the
// administrative terminal transitions. Verification is a pure read;
// recording relies on the store's guarded updates for its exactly-once
// discipline.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"campusgate/gatepass/internal/model"
	"campusgate/gatepass/internal/pass"
	"campusgate/gatepass/internal/store"
)

// Roles the identity collaborator hands us. The service trusts them as
// given; token verification happens at the HTTP boundary.
const (
	RoleAdmin    = "admin"
	RoleSecurity = "security"
	RoleStaff    = "staff"
)

// Actor is the verified caller identity, passed explicitly into every
// operation that needs it.
type Actor struct {
	ID   string
	Role string
	Name string
}

const (
	ActionEntry = "entry"
	ActionExit  = "exit"
)

// storeAttempts bounds internal retries on transient store failures.
const storeAttempts = 3

const recentVisitorLimit = 10

type Service struct {
	passes   store.PassStore
	events   store.EventStore
	students store.StudentEntryStore
	codec    *pass.QRCodec
	display  *time.Location
	timeout  time.Duration

	// Now supplies the current time; tests override it.
	Now func() time.Time
}

func New(passes store.PassStore, events store.EventStore, students store.StudentEntryStore, codec *pass.QRCodec, display *time.Location, timeout time.Duration) *Service {
	return &Service{
		passes:   passes,
		events:   events,
		students: students,
		codec:    codec,
		display:  display,
		timeout:  timeout,
		Now:      time.Now,
	}
}

// withStore runs one store call under the configured timeout, retrying
// a bounded number of times on transient failures. All other errors
// surface immediately.
func (s *Service) withStore(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < storeAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = fn(opCtx)
		cancel()
		if !errors.Is(err, store.ErrUnavailable) {
			return err
		}
	}
	return err
}

type CreatePassInput struct {
	VisitorName  string
	VisitorPhone string
	IDType       string
	IDNumber     string

	VisitType string

	EventID string

	StudentName       string
	RelationToStudent string
	Department        string

	Purpose    string
	ValidFrom  time.Time
	ValidUntil time.Time
}

func (in CreatePassInput) validate() *ValidationError {
	switch {
	case in.VisitorName == "":
		return &ValidationError{Code: "missing_visitor_name"}
	case in.VisitorPhone == "":
		return &ValidationError{Code: "missing_visitor_phone"}
	case in.IDNumber == "":
		return &ValidationError{Code: "missing_id_number"}
	case in.Purpose == "":
		return &ValidationError{Code: "missing_purpose"}
	}
	if !validIDType(in.IDType) {
		return &ValidationError{Code: "invalid_id_type"}
	}
	if in.ValidFrom.IsZero() || in.ValidUntil.IsZero() || !in.ValidFrom.Before(in.ValidUntil) {
		return &ValidationError{Code: "invalid_validity_window"}
	}
	switch in.VisitType {
	case model.VisitTypeEventGuest:
		if in.EventID == "" {
			return &ValidationError{Code: "missing_event_id"}
		}
	case model.VisitTypeParentVisit:
		if in.StudentName == "" || in.RelationToStudent == "" || in.Department == "" {
			return &ValidationError{Code: "missing_student_details"}
		}
	default:
		return &ValidationError{Code: "invalid_visit_type"}
	}
	return nil
}

func validIDType(idType string) bool {
	for _, t := range model.IDTypes {
		if t == idType {
			return true
		}
	}
	return false
}

// CreatePass validates the request, resolves the referenced event for
// event guests, and stores a fresh pass. Identifier collisions are
// astronomically rare but handled: the id is redrawn and the insert
// retried.
func (s *Service) CreatePass(ctx context.Context, in CreatePassInput, actor Actor) (model.Pass, error) {
	if err := in.validate(); err != nil {
		return model.Pass{}, err
	}

	p := model.Pass{
		VisitorName:  in.VisitorName,
		VisitorPhone: in.VisitorPhone,
		IDType:       in.IDType,
		IDNumber:     in.IDNumber,
		VisitType:    in.VisitType,
		Purpose:      in.Purpose,
		ValidFrom:    in.ValidFrom.UTC(),
		ValidUntil:   in.ValidUntil.UTC(),
		PassStatus:   model.PassStatusActive,

		CreatedByID:   actor.ID,
		CreatedByRole: actor.Role,
		CreatedByName: actor.Name,
		CreatedAt:     s.Now().UTC(),
	}

	switch in.VisitType {
	case model.VisitTypeEventGuest:
		var event model.Event
		err := s.withStore(ctx, func(ctx context.Context) error {
			var err error
			event, err = s.events.GetEvent(ctx, in.EventID)
			return err
		})
		if errors.Is(err, store.ErrNotFound) {
			return model.Pass{}, &ValidationError{Code: "event_not_found"}
		}
		if err != nil {
			return model.Pass{}, err
		}
		p.EventID = event.ID
		p.EventName = event.Name
	case model.VisitTypeParentVisit:
		p.StudentName = in.StudentName
		p.RelationToStudent = in.RelationToStudent
		p.Department = in.Department
	}

	for attempt := 0; attempt < storeAttempts; attempt++ {
		id, err := pass.NewPassID()
		if err != nil {
			return model.Pass{}, err
		}
		p.PassID = id
		err = s.withStore(ctx, func(ctx context.Context) error {
			return s.passes.CreatePass(ctx, p)
		})
		if errors.Is(err, store.ErrDuplicateID) {
			continue
		}
		if err != nil {
			return model.Pass{}, err
		}
		return p, nil
	}
	return model.Pass{}, store.ErrDuplicateID
}

// View is a pass together with its resolved status.
type View struct {
	Pass   model.Pass
	Status pass.Status
}

// VerifyPass is the read-only lookup behind QR scans. Safe to repeat:
// it never mutates anything.
func (s *Service) VerifyPass(ctx context.Context, passID string) (View, error) {
	p, err := s.getPass(ctx, passID)
	if err != nil {
		return View{}, err
	}
	return View{Pass: p, Status: pass.Resolve(p, s.Now(), s.display)}, nil
}

// ListActive returns all non-deleted passes with their live status.
func (s *Service) ListActive(ctx context.Context) ([]View, error) {
	var passes []model.Pass
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		passes, err = s.passes.ListActivePasses(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	now := s.Now()
	views := make([]View, 0, len(passes))
	for _, p := range passes {
		views = append(views, View{Pass: p, Status: pass.Resolve(p, now, s.display)})
	}
	return views, nil
}

type RecordResult struct {
	Action    string
	Timestamp time.Time
}

// RecordEntryOrExit is the only mutating verification operation: first
// confirmed scan records entry, second records exit, a third fails.
// Each transition is a conditional store update, so concurrent scans
// on the same pass settle to exactly one winner per transition and a
// recorded timestamp is never overwritten.
func (s *Service) RecordEntryOrExit(ctx context.Context, passID string) (RecordResult, error) {
	p, err := s.getPass(ctx, passID)
	if err != nil {
		return RecordResult{}, err
	}

	now := s.Now().UTC()
	status := pass.Resolve(p, now, s.display)
	if status.Terminal() {
		return RecordResult{}, &TerminalError{Lifecycle: status.Lifecycle, Message: status.Message}
	}
	if status.EntryState == pass.EntryExited {
		return RecordResult{}, ErrAlreadyCompleted
	}

	if status.EntryState == pass.EntryNotEntered {
		won, err := s.setEntry(ctx, passID, now)
		if err != nil {
			return RecordResult{}, err
		}
		if won {
			return RecordResult{Action: ActionEntry, Timestamp: now}, nil
		}
		// Lost the entry race: someone else just recorded entry.
		// Re-sample the clock before falling through to the exit
		// attempt, so the exit timestamp cannot predate the entry
		// the winner stored after we first read it.
		now = s.Now().UTC()
	}

	won, err := s.setExit(ctx, passID, now)
	if err != nil {
		return RecordResult{}, err
	}
	if won {
		return RecordResult{Action: ActionExit, Timestamp: now}, nil
	}

	// Both transitions refused. Re-read for an accurate error: the
	// pass either completed its cycle or went terminal underneath us.
	p, err = s.getPass(ctx, passID)
	if err != nil {
		return RecordResult{}, err
	}
	status = pass.Resolve(p, s.Now(), s.display)
	if status.Terminal() {
		return RecordResult{}, &TerminalError{Lifecycle: status.Lifecycle, Message: status.Message}
	}
	return RecordResult{}, ErrAlreadyCompleted
}

// CancelOrDelete moves a pass into a terminal administrative status.
// Only admins may do this. The role is trusted as presented by the
// caller; transport-level gates may reject earlier but the check here
// is authoritative.
func (s *Service) CancelOrDelete(ctx context.Context, passID string, actor Actor, target string) error {
	if actor.Role != RoleAdmin {
		return ErrForbidden
	}
	if target != model.PassStatusCancelled && target != model.PassStatusDeleted {
		return &ValidationError{Code: "invalid_pass_status"}
	}

	p, err := s.getPass(ctx, passID)
	if err != nil {
		return err
	}
	if p.PassStatus != model.PassStatusActive {
		return &TerminalError{Lifecycle: p.PassStatus, Message: "pass is already " + p.PassStatus}
	}

	var ok bool
	err = s.withStore(ctx, func(ctx context.Context) error {
		var err error
		ok, err = s.passes.SetPassStatus(ctx, passID, target)
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		return &TerminalError{Lifecycle: target, Message: "pass already in a terminal status"}
	}
	return nil
}

// QRCode renders the scannable image for a pass.
func (s *Service) QRCode(passID string) (string, error) {
	return s.codec.ImageDataURL(passID)
}

// Report aggregates counts for the reports dashboard.
func (s *Service) Report(ctx context.Context) (model.Report, error) {
	var report model.Report
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		report, err = s.passes.Report(ctx, recentVisitorLimit)
		return err
	})
	return report, err
}

type EventInput struct {
	Name        string
	Description string
	Venue       string
	StartDate   time.Time
	EndDate     time.Time
}

func (in EventInput) validate() *ValidationError {
	switch {
	case in.Name == "":
		return &ValidationError{Code: "missing_event_name"}
	case in.StartDate.IsZero() || in.EndDate.IsZero() || in.EndDate.Before(in.StartDate):
		return &ValidationError{Code: "invalid_event_dates"}
	}
	return nil
}

func (s *Service) CreateEvent(ctx context.Context, in EventInput, actor Actor) (model.Event, error) {
	if err := in.validate(); err != nil {
		return model.Event{}, err
	}
	event := model.Event{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Venue:       in.Venue,
		StartDate:   in.StartDate.UTC(),
		EndDate:     in.EndDate.UTC(),
		CreatedByID: actor.ID,
		CreatedAt:   s.Now().UTC(),
	}
	err := s.withStore(ctx, func(ctx context.Context) error {
		return s.events.CreateEvent(ctx, event)
	})
	if err != nil {
		return model.Event{}, err
	}
	return event, nil
}

func (s *Service) UpdateEvent(ctx context.Context, id string, in EventInput) (model.Event, error) {
	if err := in.validate(); err != nil {
		return model.Event{}, err
	}
	var event model.Event
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		event, err = s.events.GetEvent(ctx, id)
		return err
	})
	if err != nil {
		return model.Event{}, err
	}
	event.Name = in.Name
	event.Description = in.Description
	event.Venue = in.Venue
	event.StartDate = in.StartDate.UTC()
	event.EndDate = in.EndDate.UTC()
	err = s.withStore(ctx, func(ctx context.Context) error {
		return s.events.UpdateEvent(ctx, event)
	})
	if err != nil {
		return model.Event{}, err
	}
	return event, nil
}

func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	return s.withStore(ctx, func(ctx context.Context) error {
		return s.events.DeleteEvent(ctx, id)
	})
}

func (s *Service) ListEvents(ctx context.Context) ([]model.Event, error) {
	var events []model.Event
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		events, err = s.events.ListEvents(ctx)
		return err
	})
	return events, err
}

type StudentEntryInput struct {
	RegistrationNumber string
	Name               string
	Purpose            string
}

func (in StudentEntryInput) validate() *ValidationError {
	switch {
	case in.RegistrationNumber == "":
		return &ValidationError{Code: "missing_registration_number"}
	case in.Purpose == "":
		return &ValidationError{Code: "missing_purpose"}
	}
	return nil
}

// RecordStudentEntry logs a student through the gate. The entry time
// is the moment of recording; exit is a separate guarded transition.
func (s *Service) RecordStudentEntry(ctx context.Context, in StudentEntryInput, actor Actor) (model.StudentEntry, error) {
	if err := in.validate(); err != nil {
		return model.StudentEntry{}, err
	}
	entry := model.StudentEntry{
		ID:                 uuid.NewString(),
		RegistrationNumber: in.RegistrationNumber,
		Name:               in.Name,
		Purpose:            in.Purpose,
		EntryTime:          s.Now().UTC(),
		RecordedByID:       actor.ID,
	}
	err := s.withStore(ctx, func(ctx context.Context) error {
		return s.students.CreateStudentEntry(ctx, entry)
	})
	if err != nil {
		return model.StudentEntry{}, err
	}
	return entry, nil
}

func (s *Service) ListStudentEntries(ctx context.Context) ([]model.StudentEntry, error) {
	var entries []model.StudentEntry
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		entries, err = s.students.ListStudentEntries(ctx)
		return err
	})
	return entries, err
}

// RecordStudentExit closes an open student entry. At most one exit is
// ever recorded per entry; a second attempt conflicts.
func (s *Service) RecordStudentExit(ctx context.Context, id string) (model.StudentEntry, error) {
	now := s.Now().UTC()
	var won bool
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		won, err = s.students.SetStudentExit(ctx, id, now)
		return err
	})
	if err != nil {
		return model.StudentEntry{}, err
	}

	entry, err := s.getStudentEntry(ctx, id)
	if err != nil {
		return model.StudentEntry{}, err
	}
	if !won {
		return model.StudentEntry{}, ErrExitAlreadyRecorded
	}
	return entry, nil
}

func (s *Service) getStudentEntry(ctx context.Context, id string) (model.StudentEntry, error) {
	var entry model.StudentEntry
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		entry, err = s.students.GetStudentEntry(ctx, id)
		return err
	})
	return entry, err
}

func (s *Service) getPass(ctx context.Context, passID string) (model.Pass, error) {
	var p model.Pass
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.passes.GetPass(ctx, passID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return model.Pass{}, &NotFoundError{PassID: passID}
	}
	if err != nil {
		return model.Pass{}, err
	}
	return p, nil
}

func (s *Service) setEntry(ctx context.Context, passID string, at time.Time) (bool, error) {
	var won bool
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		won, err = s.passes.SetEntry(ctx, passID, at)
		return err
	})
	return won, err
}

func (s *Service) setExit(ctx context.Context, passID string, at time.Time) (bool, error) {
	var won bool
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		won, err = s.passes.SetExit(ctx, passID, at)
		return err
	})
	return won, err
}
