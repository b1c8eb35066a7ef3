// Package postgres is the production PassStore/EventStore on pgx.
// Entry/exit recording is a single guarded UPDATE per transition, so
// the at-most-once property holds at the storage layer without any
// application-side locking.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"campusgate/gatepass/internal/model"
	"campusgate/gatepass/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

const passColumns = `
  pass_id, visitor_name, visitor_phone, id_type, id_number,
  visit_type, event_id, event_name, student_name, relation_to_student, department,
  purpose, valid_from, valid_until, pass_status, entry_time, exit_time, entry_status,
  created_by_id, created_by_role, created_by_name, created_at`

func (s *Store) CreatePass(ctx context.Context, p model.Pass) error {
	_, err := s.pool.Exec(ctx, `
    INSERT INTO passes (`+passColumns+`)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
  `,
		p.PassID, p.VisitorName, p.VisitorPhone, p.IDType, p.IDNumber,
		p.VisitType, p.EventID, p.EventName, p.StudentName, p.RelationToStudent, p.Department,
		p.Purpose, p.ValidFrom, p.ValidUntil, p.PassStatus, p.EntryTime, p.ExitTime, p.EntryStatus,
		p.CreatedByID, p.CreatedByRole, p.CreatedByName, p.CreatedAt,
	)
	return mapError(err)
}

func (s *Store) GetPass(ctx context.Context, passID string) (model.Pass, error) {
	row := s.pool.QueryRow(ctx, `
    SELECT `+passColumns+`
    FROM passes
    WHERE pass_id = $1
  `, passID)
	p, err := scanPass(row)
	if err != nil {
		return model.Pass{}, mapError(err)
	}
	return p, nil
}

func (s *Store) ListActivePasses(ctx context.Context) ([]model.Pass, error) {
	rows, err := s.pool.Query(ctx, `
    SELECT `+passColumns+`
    FROM passes
    WHERE pass_status <> 'deleted'
    ORDER BY created_at DESC
  `)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var passes []model.Pass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, mapError(err)
		}
		passes = append(passes, p)
	}
	return passes, mapError(rows.Err())
}

func (s *Store) SetEntry(ctx context.Context, passID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
    UPDATE passes
    SET entry_time = $2, entry_status = 'entered'
    WHERE pass_id = $1 AND pass_status = 'active' AND entry_time IS NULL
  `, passID, at.UTC())
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetExit(ctx context.Context, passID string, at time.Time) (bool, error) {
	// GREATEST keeps the exit from predating the entry when the
	// caller's clock sample is older than the stored entry_time.
	tag, err := s.pool.Exec(ctx, `
    UPDATE passes
    SET exit_time = GREATEST($2::timestamptz, entry_time), entry_status = 'exited'
    WHERE pass_id = $1 AND pass_status = 'active'
      AND entry_time IS NOT NULL AND exit_time IS NULL
  `, passID, at.UTC())
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetPassStatus(ctx context.Context, passID, status string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
    UPDATE passes
    SET pass_status = $2
    WHERE pass_id = $1 AND pass_status = 'active'
  `, passID, status)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CountExpiredBetween(ctx context.Context, from, until time.Time) (int64, error) {
	var count int64
	row := s.pool.QueryRow(ctx, `
    SELECT COUNT(*)
    FROM passes
    WHERE pass_status = 'active' AND valid_until > $1 AND valid_until <= $2
  `, from.UTC(), until.UTC())
	if err := row.Scan(&count); err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

func (s *Store) Report(ctx context.Context, recentLimit int) (model.Report, error) {
	report := model.Report{RecentVisitors: []model.RecentVisitor{}}

	row := s.pool.QueryRow(ctx, `
    SELECT COUNT(*), COUNT(entry_time), (SELECT COUNT(*) FROM events)
    FROM passes
  `)
	if err := row.Scan(&report.PassesGenerated, &report.VisitorEntries, &report.EventsCount); err != nil {
		return model.Report{}, mapError(err)
	}

	rows, err := s.pool.Query(ctx, `
    SELECT visitor_name, visit_type, entry_time
    FROM passes
    WHERE entry_time IS NOT NULL
    ORDER BY entry_time DESC
    LIMIT $1
  `, recentLimit)
	if err != nil {
		return model.Report{}, mapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var visitor model.RecentVisitor
		if err := rows.Scan(&visitor.VisitorName, &visitor.VisitType, &visitor.EntryTime); err != nil {
			return model.Report{}, mapError(err)
		}
		report.RecentVisitors = append(report.RecentVisitors, visitor)
	}
	return report, mapError(rows.Err())
}

func (s *Store) CreateEvent(ctx context.Context, e model.Event) error {
	_, err := s.pool.Exec(ctx, `
    INSERT INTO events (id, name, description, venue, start_date, end_date, created_by_id, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
  `, e.ID, e.Name, e.Description, e.Venue, e.StartDate, e.EndDate, e.CreatedByID, e.CreatedAt)
	return mapError(err)
}

func (s *Store) GetEvent(ctx context.Context, id string) (model.Event, error) {
	var e model.Event
	row := s.pool.QueryRow(ctx, `
    SELECT id, name, description, venue, start_date, end_date, created_by_id, created_at
    FROM events
    WHERE id = $1
  `, id)
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.Venue, &e.StartDate, &e.EndDate, &e.CreatedByID, &e.CreatedAt)
	if err != nil {
		return model.Event{}, mapError(err)
	}
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, `
    SELECT id, name, description, venue, start_date, end_date, created_by_id, created_at
    FROM events
    ORDER BY start_date
  `)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.Venue, &e.StartDate, &e.EndDate, &e.CreatedByID, &e.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		events = append(events, e)
	}
	return events, mapError(rows.Err())
}

func (s *Store) UpdateEvent(ctx context.Context, e model.Event) error {
	tag, err := s.pool.Exec(ctx, `
    UPDATE events
    SET name = $2, description = $3, venue = $4, start_date = $5, end_date = $6
    WHERE id = $1
  `, e.ID, e.Name, e.Description, e.Venue, e.StartDate, e.EndDate)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateStudentEntry(ctx context.Context, e model.StudentEntry) error {
	_, err := s.pool.Exec(ctx, `
    INSERT INTO student_entries (id, registration_number, name, purpose, entry_time, exit_time, recorded_by_id)
    VALUES ($1, $2, $3, $4, $5, $6, $7)
  `, e.ID, e.RegistrationNumber, e.Name, e.Purpose, e.EntryTime, e.ExitTime, e.RecordedByID)
	return mapError(err)
}

func (s *Store) GetStudentEntry(ctx context.Context, id string) (model.StudentEntry, error) {
	var e model.StudentEntry
	row := s.pool.QueryRow(ctx, `
    SELECT id, registration_number, name, purpose, entry_time, exit_time, recorded_by_id
    FROM student_entries
    WHERE id = $1
  `, id)
	err := row.Scan(&e.ID, &e.RegistrationNumber, &e.Name, &e.Purpose, &e.EntryTime, &e.ExitTime, &e.RecordedByID)
	if err != nil {
		return model.StudentEntry{}, mapError(err)
	}
	return e, nil
}

func (s *Store) ListStudentEntries(ctx context.Context) ([]model.StudentEntry, error) {
	rows, err := s.pool.Query(ctx, `
    SELECT id, registration_number, name, purpose, entry_time, exit_time, recorded_by_id
    FROM student_entries
    ORDER BY entry_time DESC
  `)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var entries []model.StudentEntry
	for rows.Next() {
		var e model.StudentEntry
		if err := rows.Scan(&e.ID, &e.RegistrationNumber, &e.Name, &e.Purpose, &e.EntryTime, &e.ExitTime, &e.RecordedByID); err != nil {
			return nil, mapError(err)
		}
		entries = append(entries, e)
	}
	return entries, mapError(rows.Err())
}

func (s *Store) SetStudentExit(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
    UPDATE student_entries
    SET exit_time = GREATEST($2::timestamptz, entry_time)
    WHERE id = $1 AND exit_time IS NULL
  `, id, at.UTC())
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPass(row rowScanner) (model.Pass, error) {
	var p model.Pass
	err := row.Scan(
		&p.PassID, &p.VisitorName, &p.VisitorPhone, &p.IDType, &p.IDNumber,
		&p.VisitType, &p.EventID, &p.EventName, &p.StudentName, &p.RelationToStudent, &p.Department,
		&p.Purpose, &p.ValidFrom, &p.ValidUntil, &p.PassStatus, &p.EntryTime, &p.ExitTime, &p.EntryStatus,
		&p.CreatedByID, &p.CreatedByRole, &p.CreatedByName, &p.CreatedAt,
	)
	return p, err
}

// mapError folds pgx failures into the store taxonomy: missing rows,
// pass-id collisions, and everything transient. Unknown database
// errors pass through unwrapped.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrDuplicateID
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}
