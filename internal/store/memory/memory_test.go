package memory

import (
	"context"
	"testing"
	"time"

	"campusgate/gatepass/internal/model"
	"campusgate/gatepass/internal/store"
)

func seedPass(t *testing.T, s *Store, id string) model.Pass {
	t.Helper()
	now := time.Now().UTC()
	p := model.Pass{
		PassID:      id,
		VisitorName: "Asha Patel",
		VisitType:   model.VisitTypeParentVisit,
		ValidFrom:   now.Add(-time.Hour),
		ValidUntil:  now.Add(time.Hour),
		PassStatus:  model.PassStatusActive,
		CreatedAt:   now,
	}
	if err := s.CreatePass(context.Background(), p); err != nil {
		t.Fatalf("create pass: %v", err)
	}
	return p
}

func TestCreatePassDuplicate(t *testing.T) {
	s := New()
	seedPass(t, s, "ABCD2345")
	err := s.CreatePass(context.Background(), model.Pass{PassID: "ABCD2345"})
	if err != store.ErrDuplicateID {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestSetEntryGuards(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedPass(t, s, "ABCD2345")
	at := time.Now().UTC()

	ok, err := s.SetEntry(ctx, "ABCD2345", at)
	if err != nil || !ok {
		t.Fatalf("expected first entry to win, got ok=%v err=%v", ok, err)
	}
	ok, err = s.SetEntry(ctx, "ABCD2345", at.Add(time.Minute))
	if err != nil || ok {
		t.Fatalf("expected second entry to lose, got ok=%v err=%v", ok, err)
	}

	p, err := s.GetPass(ctx, "ABCD2345")
	if err != nil {
		t.Fatalf("get pass: %v", err)
	}
	if p.EntryTime == nil || !p.EntryTime.Equal(at) {
		t.Fatalf("entry time overwritten: %v", p.EntryTime)
	}
	if p.EntryStatus != model.EntryStatusEntered {
		t.Fatalf("expected entered, got %q", p.EntryStatus)
	}
}

func TestSetExitRequiresEntry(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedPass(t, s, "ABCD2345")

	ok, err := s.SetExit(ctx, "ABCD2345", time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("expected exit without entry to be refused, got ok=%v err=%v", ok, err)
	}

	if _, err := s.SetEntry(ctx, "ABCD2345", time.Now().UTC()); err != nil {
		t.Fatalf("set entry: %v", err)
	}
	ok, err = s.SetExit(ctx, "ABCD2345", time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("expected exit after entry to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = s.SetExit(ctx, "ABCD2345", time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("expected second exit to be refused, got ok=%v err=%v", ok, err)
	}
}

func TestSetExitClampedToEntry(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedPass(t, s, "ABCD2345")

	entryAt := time.Date(2026, 3, 10, 12, 0, 1, 0, time.UTC)
	if _, err := s.SetEntry(ctx, "ABCD2345", entryAt); err != nil {
		t.Fatalf("set entry: %v", err)
	}

	// A caller with a stale clock sample cannot place the exit
	// before the entry.
	ok, err := s.SetExit(ctx, "ABCD2345", entryAt.Add(-time.Second))
	if err != nil || !ok {
		t.Fatalf("expected exit to win, got ok=%v err=%v", ok, err)
	}
	p, err := s.GetPass(ctx, "ABCD2345")
	if err != nil {
		t.Fatalf("get pass: %v", err)
	}
	if p.ExitTime == nil || p.ExitTime.Before(*p.EntryTime) {
		t.Fatalf("exit %v before entry %v", p.ExitTime, p.EntryTime)
	}
}

func TestSetPassStatusTerminalOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedPass(t, s, "ABCD2345")

	ok, err := s.SetPassStatus(ctx, "ABCD2345", model.PassStatusCancelled)
	if err != nil || !ok {
		t.Fatalf("expected cancel to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = s.SetPassStatus(ctx, "ABCD2345", model.PassStatusDeleted)
	if err != nil || ok {
		t.Fatalf("expected second status change to be refused, got ok=%v err=%v", ok, err)
	}

	// Entry recording is blocked once the pass is terminal.
	ok, err = s.SetEntry(ctx, "ABCD2345", time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("expected entry on cancelled pass to be refused, got ok=%v err=%v", ok, err)
	}
}

func TestSetStudentExitGuards(t *testing.T) {
	ctx := context.Background()
	s := New()
	entry := model.StudentEntry{
		ID:                 "se-1",
		RegistrationNumber: "21BCE1024",
		Purpose:            "library",
		EntryTime:          time.Now().UTC(),
	}
	if err := s.CreateStudentEntry(ctx, entry); err != nil {
		t.Fatalf("create entry: %v", err)
	}

	ok, err := s.SetStudentExit(ctx, "se-1", time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("expected first exit to win, got ok=%v err=%v", ok, err)
	}
	ok, err = s.SetStudentExit(ctx, "se-1", time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("expected second exit to lose, got ok=%v err=%v", ok, err)
	}
	if _, err := s.SetStudentExit(ctx, "missing", time.Now().UTC()); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListActiveExcludesDeleted(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedPass(t, s, "ABCD2345")
	seedPass(t, s, "EFGH6789")
	if _, err := s.SetPassStatus(ctx, "EFGH6789", model.PassStatusDeleted); err != nil {
		t.Fatalf("set status: %v", err)
	}

	passes, err := s.ListActivePasses(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(passes) != 1 || passes[0].PassID != "ABCD2345" {
		t.Fatalf("expected only ABCD2345, got %+v", passes)
	}
}
