/*
Package sqlite provides a SQLite-backed implementation of the ledger stores.

PURPOSE:
  Implements billing.TxStore, billing.Directory and billing.SettingsStore on
  a single local database file. This is a desktop, single-user ledger: one
  connection, one writer, no server.

KEY TABLES:
  students, workshops, cohorts: Reference entities (existence checks only)
  enrollments:                  One row per inscription, denormalized balance
  class_sessions:               One row per workshop day
  charges:                      Amounts owed; the balance source of truth
  payments:                     Money received
  allocations:                  Payment-to-charge links
  settings:                     Key-value configuration (prices)

UNIQUENESS (partial indexes):
  - idx_unique_active_enrollment: one non-cancelled enrollment per
    (student, workshop, cohort)
  - idx_unique_live_session:      one live session per (workshop, date)
  - idx_unique_live_class_charge: one live, non-voided charge per (student, session)
  Violations surface as the matching billing sentinel error.

REFERENTIAL RULES:
  - allocations.payment_id ON DELETE CASCADE
  - allocations.charge_id  ON DELETE RESTRICT

CONNECTIONS:
  The pool is capped at one connection. ":memory:" databases live per
  connection, and a single writer is all SQLite offers anyway. Inside
  WithTx every read and write goes through the *sql.Tx; calling the outer
  Store from inside fn would wait for the connection forever.

USAGE:
  store, err := sqlite.New("./talleres.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - billing/store.go: Interface definitions
  - ledger/: Services using this store
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/workshop-ledger/billing"
)

const dateLayout = "2006-01-02"

// Store implements all storage interfaces using SQLite.
type Store struct {
	*queries
	db *sql.DB
	mu sync.Mutex
}

var (
	_ billing.TxStore       = (*Store)(nil)
	_ billing.SettingsStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workshops (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cohorts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		starts_on TEXT,
		ends_on TEXT,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL REFERENCES students(id),
		workshop_id INTEGER NOT NULL REFERENCES workshops(id),
		cohort_id INTEGER NOT NULL REFERENCES cohorts(id),
		amount TEXT NOT NULL,
		remaining TEXT NOT NULL,
		status TEXT NOT NULL,
		enrolled_at TEXT NOT NULL,
		cancel_reason TEXT,
		cancelled_at TEXT,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_active_enrollment
		ON enrollments(student_id, workshop_id, cohort_id)
		WHERE status <> 'cancelled' AND deleted = 0;
	CREATE INDEX IF NOT EXISTS idx_enrollments_student
		ON enrollments(student_id);

	CREATE TABLE IF NOT EXISTS class_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workshop_id INTEGER NOT NULL REFERENCES workshops(id),
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		cancel_reason TEXT,
		cancelled_at TEXT,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_live_session
		ON class_sessions(workshop_id, date)
		WHERE deleted = 0;

	CREATE TABLE IF NOT EXISTS charges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL REFERENCES students(id),
		kind TEXT NOT NULL CHECK (kind IN ('enrollment', 'class')),
		amount TEXT NOT NULL,
		remaining TEXT NOT NULL,
		status TEXT NOT NULL,
		enrollment_id INTEGER REFERENCES enrollments(id),
		class_session_id INTEGER REFERENCES class_sessions(id),
		occurred_at TEXT NOT NULL,
		void_reason TEXT,
		voided_at TEXT,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_charges_student
		ON charges(student_id);
	CREATE INDEX IF NOT EXISTS idx_charges_enrollment
		ON charges(enrollment_id) WHERE enrollment_id IS NOT NULL;
	DROP INDEX IF EXISTS idx_unique_class_charge;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_live_class_charge
		ON charges(student_id, class_session_id)
		WHERE deleted = 0 AND status != 'voided' AND class_session_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL REFERENCES students(id),
		total TEXT NOT NULL,
		method TEXT NOT NULL,
		reference TEXT,
		notes TEXT,
		group_id TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		void_reason TEXT,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_student
		ON payments(student_id);
	CREATE INDEX IF NOT EXISTS idx_payments_group
		ON payments(group_id);

	CREATE TABLE IF NOT EXISTS allocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payment_id INTEGER NOT NULL REFERENCES payments(id) ON DELETE CASCADE,
		charge_id INTEGER NOT NULL REFERENCES charges(id) ON DELETE RESTRICT,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_payment
		ON allocations(payment_id);
	CREATE INDEX IF NOT EXISTS idx_allocations_charge
		ON allocations(charge_id);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement. Store uses it over the pool, WithTx over a
// transaction.
type queries struct {
	q queryer
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (qs *queries) insert(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := qs.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (qs *queries) exists(ctx context.Context, table string, id int64) (bool, error) {
	var count int
	err := qs.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+" WHERE id = ? AND deleted = 0", id,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check %s %d: %w", table, id, err)
	}
	return count > 0, nil
}

// =============================================================================
// DIRECTORY (billing.Directory interface)
// =============================================================================

// StudentExists reports whether a non-deleted student exists.
func (qs *queries) StudentExists(ctx context.Context, id billing.StudentID) (bool, error) {
	return qs.exists(ctx, "students", int64(id))
}

// WorkshopExists reports whether a non-deleted workshop exists.
func (qs *queries) WorkshopExists(ctx context.Context, id billing.WorkshopID) (bool, error) {
	return qs.exists(ctx, "workshops", int64(id))
}

// CohortExists reports whether a non-deleted cohort exists.
func (qs *queries) CohortExists(ctx context.Context, id billing.CohortID) (bool, error) {
	return qs.exists(ctx, "cohorts", int64(id))
}

// CreateStudent inserts a student and sets its ID.
func (qs *queries) CreateStudent(ctx context.Context, st *billing.Student) error {
	now := time.Now().UTC()
	id, err := qs.insert(ctx,
		"INSERT INTO students (name, deleted, created_at) VALUES (?, ?, ?)",
		st.Name, st.Deleted, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert student: %w", err)
	}
	st.ID = billing.StudentID(id)
	st.CreatedAt = now
	return nil
}

// CreateWorkshop inserts a workshop and sets its ID.
func (qs *queries) CreateWorkshop(ctx context.Context, w *billing.Workshop) error {
	now := time.Now().UTC()
	id, err := qs.insert(ctx,
		"INSERT INTO workshops (name, deleted, created_at) VALUES (?, ?, ?)",
		w.Name, w.Deleted, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert workshop: %w", err)
	}
	w.ID = billing.WorkshopID(id)
	w.CreatedAt = now
	return nil
}

// CreateCohort inserts a cohort and sets its ID.
func (qs *queries) CreateCohort(ctx context.Context, c *billing.Cohort) error {
	now := time.Now().UTC()
	id, err := qs.insert(ctx,
		"INSERT INTO cohorts (name, starts_on, ends_on, deleted, created_at) VALUES (?, ?, ?, ?, ?)",
		c.Name, formatDateOrNull(c.StartsOn), formatDateOrNull(c.EndsOn), c.Deleted, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cohort: %w", err)
	}
	c.ID = billing.CohortID(id)
	c.CreatedAt = now
	return nil
}

// =============================================================================
// SETTINGS (billing.SettingsStore interface)
// =============================================================================

// GetSetting returns the value stored under key.
func (qs *queries) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := qs.q.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return value, true, nil
}

// PutSetting inserts or replaces the value stored under key.
func (qs *queries) PutSetting(ctx context.Context, key, value string) error {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

const enrollmentColumns = `id, student_id, workshop_id, cohort_id, amount, remaining, status,
	enrolled_at, cancel_reason, cancelled_at, deleted, deleted_at, created_at`

// InsertEnrollment persists a new enrollment and sets its ID.
func (qs *queries) InsertEnrollment(ctx context.Context, e *billing.Enrollment) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	id, err := qs.insert(ctx, `
		INSERT INTO enrollments
		(student_id, workshop_id, cohort_id, amount, remaining, status,
		 enrolled_at, cancel_reason, cancelled_at, deleted, deleted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.StudentID, e.WorkshopID, e.CohortID,
		e.Amount.String(), e.Remaining.String(), e.Status,
		formatTime(e.EnrolledAt), nullString(e.CancelReason), formatNullTime(e.CancelledAt),
		e.Deleted, formatNullTime(e.DeletedAt), formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateActiveEnrollment
		}
		return fmt.Errorf("failed to insert enrollment: %w", err)
	}
	e.ID = billing.EnrollmentID(id)
	return nil
}

// UpdateEnrollment writes every mutable column of e.
func (qs *queries) UpdateEnrollment(ctx context.Context, e billing.Enrollment) error {
	res, err := qs.q.ExecContext(ctx, `
		UPDATE enrollments SET
			remaining = ?, status = ?, cancel_reason = ?, cancelled_at = ?,
			deleted = ?, deleted_at = ?
		WHERE id = ?
	`,
		e.Remaining.String(), e.Status, nullString(e.CancelReason), formatNullTime(e.CancelledAt),
		e.Deleted, formatNullTime(e.DeletedAt), e.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateActiveEnrollment
		}
		return fmt.Errorf("failed to update enrollment %d: %w", e.ID, err)
	}
	return requireOneRow(res, "enrollment", int64(e.ID))
}

// GetEnrollment retrieves an enrollment by ID, deleted or not.
func (qs *queries) GetEnrollment(ctx context.Context, id billing.EnrollmentID) (*billing.Enrollment, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+enrollmentColumns+" FROM enrollments WHERE id = ?", id)
	return scanOptional(scanEnrollment(row))
}

// FindActiveEnrollment returns the non-cancelled, non-deleted enrollment for the triple.
func (qs *queries) FindActiveEnrollment(ctx context.Context, student billing.StudentID, workshop billing.WorkshopID, cohort billing.CohortID) (*billing.Enrollment, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+enrollmentColumns+`
		FROM enrollments
		WHERE student_id = ? AND workshop_id = ? AND cohort_id = ?
		  AND status <> 'cancelled' AND deleted = 0
		LIMIT 1
	`, student, workshop, cohort)
	return scanOptional(scanEnrollment(row))
}

// ListEnrollmentsByStudent returns every enrollment of a student, newest first.
func (qs *queries) ListEnrollmentsByStudent(ctx context.Context, student billing.StudentID) ([]billing.Enrollment, error) {
	rows, err := qs.q.QueryContext(ctx, "SELECT "+enrollmentColumns+`
		FROM enrollments WHERE student_id = ? ORDER BY enrolled_at DESC, id DESC
	`, student)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []billing.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, *e)
	}
	return enrollments, rows.Err()
}

func scanEnrollment(row scanner) (*billing.Enrollment, error) {
	var (
		e                                    billing.Enrollment
		enrolledAt, createdAt                string
		cancelReason, cancelledAt, deletedAt sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.StudentID, &e.WorkshopID, &e.CohortID, &e.Amount, &e.Remaining, &e.Status,
		&enrolledAt, &cancelReason, &cancelledAt, &e.Deleted, &deletedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	e.EnrolledAt = parseTime(enrolledAt)
	e.CreatedAt = parseTime(createdAt)
	e.CancelReason = cancelReason.String
	e.CancelledAt = parseNullTime(cancelledAt)
	e.DeletedAt = parseNullTime(deletedAt)
	return &e, nil
}

// =============================================================================
// CLASS SESSIONS
// =============================================================================

const sessionColumns = `id, workshop_id, date, status, cancel_reason, cancelled_at,
	deleted, deleted_at, created_at`

// InsertClassSession persists a new session and sets its ID.
func (qs *queries) InsertClassSession(ctx context.Context, s *billing.ClassSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.Date = billing.Day(s.Date)
	id, err := qs.insert(ctx, `
		INSERT INTO class_sessions
		(workshop_id, date, status, cancel_reason, cancelled_at, deleted, deleted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.WorkshopID, s.Date.Format(dateLayout), s.Status,
		nullString(s.CancelReason), formatNullTime(s.CancelledAt),
		s.Deleted, formatNullTime(s.DeletedAt), formatTime(s.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateClassSession
		}
		return fmt.Errorf("failed to insert class session: %w", err)
	}
	s.ID = billing.ClassSessionID(id)
	return nil
}

// UpdateClassSession writes the lifecycle columns of s.
func (qs *queries) UpdateClassSession(ctx context.Context, s billing.ClassSession) error {
	res, err := qs.q.ExecContext(ctx, `
		UPDATE class_sessions SET
			status = ?, cancel_reason = ?, cancelled_at = ?, deleted = ?, deleted_at = ?
		WHERE id = ?
	`,
		s.Status, nullString(s.CancelReason), formatNullTime(s.CancelledAt),
		s.Deleted, formatNullTime(s.DeletedAt), s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update class session %d: %w", s.ID, err)
	}
	return requireOneRow(res, "class session", int64(s.ID))
}

// GetClassSession retrieves a session by ID, deleted or not.
func (qs *queries) GetClassSession(ctx context.Context, id billing.ClassSessionID) (*billing.ClassSession, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM class_sessions WHERE id = ?", id)
	return scanOptional(scanClassSession(row))
}

// FindClassSession returns the live session of a workshop on a day.
func (qs *queries) FindClassSession(ctx context.Context, workshop billing.WorkshopID, day time.Time) (*billing.ClassSession, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+sessionColumns+`
		FROM class_sessions
		WHERE workshop_id = ? AND date = ? AND deleted = 0
		LIMIT 1
	`, workshop, billing.Day(day).Format(dateLayout))
	return scanOptional(scanClassSession(row))
}

func scanClassSession(row scanner) (*billing.ClassSession, error) {
	var (
		s                                    billing.ClassSession
		date, createdAt                      string
		cancelReason, cancelledAt, deletedAt sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.WorkshopID, &date, &s.Status, &cancelReason, &cancelledAt,
		&s.Deleted, &deletedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	s.Date, _ = time.Parse(dateLayout, date)
	s.CreatedAt = parseTime(createdAt)
	s.CancelReason = cancelReason.String
	s.CancelledAt = parseNullTime(cancelledAt)
	s.DeletedAt = parseNullTime(deletedAt)
	return &s, nil
}

// =============================================================================
// CHARGES
// =============================================================================

const chargeColumns = `id, student_id, kind, amount, remaining, status, enrollment_id,
	class_session_id, occurred_at, void_reason, voided_at, deleted, deleted_at, created_at`

// InsertCharge persists a new charge and sets its ID.
func (qs *queries) InsertCharge(ctx context.Context, c *billing.Charge) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	var enrollmentID, sessionID sql.NullInt64
	if c.EnrollmentID != nil {
		enrollmentID = sql.NullInt64{Int64: int64(*c.EnrollmentID), Valid: true}
	}
	if c.ClassSessionID != nil {
		sessionID = sql.NullInt64{Int64: int64(*c.ClassSessionID), Valid: true}
	}

	id, err := qs.insert(ctx, `
		INSERT INTO charges
		(student_id, kind, amount, remaining, status, enrollment_id, class_session_id,
		 occurred_at, void_reason, voided_at, deleted, deleted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.StudentID, c.Kind, c.Amount.String(), c.Remaining.String(), c.Status,
		enrollmentID, sessionID, formatTime(c.OccurredAt),
		nullString(c.VoidReason), formatNullTime(c.VoidedAt),
		c.Deleted, formatNullTime(c.DeletedAt), formatTime(c.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateActiveCharge
		}
		return fmt.Errorf("failed to insert charge: %w", err)
	}
	c.ID = billing.ChargeID(id)
	return nil
}

// UpdateCharge writes the balance and lifecycle columns of c.
func (qs *queries) UpdateCharge(ctx context.Context, c billing.Charge) error {
	res, err := qs.q.ExecContext(ctx, `
		UPDATE charges SET
			remaining = ?, status = ?, void_reason = ?, voided_at = ?, deleted = ?, deleted_at = ?
		WHERE id = ?
	`,
		c.Remaining.String(), c.Status, nullString(c.VoidReason), formatNullTime(c.VoidedAt),
		c.Deleted, formatNullTime(c.DeletedAt), c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update charge %d: %w", c.ID, err)
	}
	return requireOneRow(res, "charge", int64(c.ID))
}

// GetCharge retrieves a charge by ID, deleted or not.
func (qs *queries) GetCharge(ctx context.Context, id billing.ChargeID) (*billing.Charge, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+chargeColumns+" FROM charges WHERE id = ?", id)
	return scanOptional(scanCharge(row))
}

// FindClassCharge returns the live charge linking a student to a session.
// Voided charges do not count.
func (qs *queries) FindClassCharge(ctx context.Context, student billing.StudentID, session billing.ClassSessionID) (*billing.Charge, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+chargeColumns+`
		FROM charges
		WHERE student_id = ? AND class_session_id = ? AND deleted = 0 AND status != 'voided'
		LIMIT 1
	`, student, session)
	return scanOptional(scanCharge(row))
}

// ListChargesByStudent returns every charge of a student in creation order.
func (qs *queries) ListChargesByStudent(ctx context.Context, student billing.StudentID) ([]billing.Charge, error) {
	return qs.queryCharges(ctx, "SELECT "+chargeColumns+" FROM charges WHERE student_id = ? ORDER BY id", student)
}

// ListChargesByEnrollment returns the charges owned by an enrollment.
func (qs *queries) ListChargesByEnrollment(ctx context.Context, enrollment billing.EnrollmentID) ([]billing.Charge, error) {
	return qs.queryCharges(ctx, "SELECT "+chargeColumns+" FROM charges WHERE enrollment_id = ? ORDER BY id", enrollment)
}

func (qs *queries) queryCharges(ctx context.Context, query string, args ...any) ([]billing.Charge, error) {
	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	defer rows.Close()

	var charges []billing.Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, *c)
	}
	return charges, rows.Err()
}

// ListPendingCharges returns live charges with a positive balance plus the
// names needed to describe them.
func (qs *queries) ListPendingCharges(ctx context.Context, student billing.StudentID) ([]billing.PendingCharge, error) {
	rows, err := qs.q.QueryContext(ctx, `
		SELECT c.id, c.kind, c.amount, c.remaining, c.enrollment_id, c.class_session_id, c.occurred_at,
		       COALESCE(ew.name, sw.name, ''), COALESCE(co.name, ''), COALESCE(cs.date, '')
		FROM charges c
		LEFT JOIN enrollments e ON e.id = c.enrollment_id
		LEFT JOIN workshops ew ON ew.id = e.workshop_id
		LEFT JOIN cohorts co ON co.id = e.cohort_id
		LEFT JOIN class_sessions cs ON cs.id = c.class_session_id
		LEFT JOIN workshops sw ON sw.id = cs.workshop_id
		WHERE c.student_id = ? AND c.deleted = 0 AND c.status <> 'voided'
	`, student)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending charges: %w", err)
	}
	defer rows.Close()

	var pending []billing.PendingCharge
	for rows.Next() {
		var (
			p                            billing.PendingCharge
			enrollmentID, sessionID      sql.NullInt64
			occurredAt                   string
			workshopName, cohortName, on string
		)
		if err := rows.Scan(&p.ChargeID, &p.Kind, &p.Amount, &p.Remaining, &enrollmentID, &sessionID,
			&occurredAt, &workshopName, &cohortName, &on); err != nil {
			return nil, fmt.Errorf("failed to scan pending charge: %w", err)
		}
		if !p.Remaining.IsPositive() {
			continue
		}
		p.OccurredAt = parseTime(occurredAt)
		p.EnrollmentID, p.ClassSessionID = refIDs(enrollmentID, sessionID)
		p.Description = describeCharge(p.Kind, workshopName, cohortName, on)
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func describeCharge(kind billing.ChargeKind, workshop, cohort, date string) string {
	switch kind {
	case billing.ChargeEnrollment:
		if cohort != "" {
			return fmt.Sprintf("Enrollment: %s (%s)", workshop, cohort)
		}
		return "Enrollment: " + workshop
	default:
		return fmt.Sprintf("Class: %s %s", workshop, date)
	}
}

func scanCharge(row scanner) (*billing.Charge, error) {
	var (
		c                               billing.Charge
		enrollmentID, sessionID         sql.NullInt64
		occurredAt, createdAt           string
		voidReason, voidedAt, deletedAt sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.StudentID, &c.Kind, &c.Amount, &c.Remaining, &c.Status, &enrollmentID,
		&sessionID, &occurredAt, &voidReason, &voidedAt, &c.Deleted, &deletedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	c.EnrollmentID, c.ClassSessionID = refIDs(enrollmentID, sessionID)
	c.OccurredAt = parseTime(occurredAt)
	c.CreatedAt = parseTime(createdAt)
	c.VoidReason = voidReason.String
	c.VoidedAt = parseNullTime(voidedAt)
	c.DeletedAt = parseNullTime(deletedAt)
	return &c, nil
}

func refIDs(enrollmentID, sessionID sql.NullInt64) (*billing.EnrollmentID, *billing.ClassSessionID) {
	var e *billing.EnrollmentID
	var s *billing.ClassSessionID
	if enrollmentID.Valid {
		id := billing.EnrollmentID(enrollmentID.Int64)
		e = &id
	}
	if sessionID.Valid {
		id := billing.ClassSessionID(sessionID.Int64)
		s = &id
	}
	return e, s
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, student_id, total, method, reference, notes, group_id,
	occurred_at, void_reason, deleted, deleted_at, created_at`

// InsertPayment persists a new payment and sets its ID.
func (qs *queries) InsertPayment(ctx context.Context, p *billing.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	id, err := qs.insert(ctx, `
		INSERT INTO payments
		(student_id, total, method, reference, notes, group_id, occurred_at,
		 void_reason, deleted, deleted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.StudentID, p.Total.String(), p.Method, nullString(p.Reference), nullString(p.Notes),
		p.GroupID, formatTime(p.OccurredAt), nullString(p.VoidReason),
		p.Deleted, formatNullTime(p.DeletedAt), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	p.ID = billing.PaymentID(id)
	return nil
}

// UpdatePayment writes the lifecycle columns of p.
func (qs *queries) UpdatePayment(ctx context.Context, p billing.Payment) error {
	res, err := qs.q.ExecContext(ctx, `
		UPDATE payments SET void_reason = ?, deleted = ?, deleted_at = ? WHERE id = ?
	`, nullString(p.VoidReason), p.Deleted, formatNullTime(p.DeletedAt), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update payment %d: %w", p.ID, err)
	}
	return requireOneRow(res, "payment", int64(p.ID))
}

// GetPayment retrieves a payment by ID, deleted or not.
func (qs *queries) GetPayment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	return scanOptional(scanPayment(row))
}

// ListPaymentsByStudent returns every payment of a student, newest first.
func (qs *queries) ListPaymentsByStudent(ctx context.Context, student billing.StudentID) ([]billing.Payment, error) {
	rows, err := qs.q.QueryContext(ctx, "SELECT "+paymentColumns+`
		FROM payments WHERE student_id = ? ORDER BY occurred_at DESC, id DESC
	`, student)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(row scanner) (*billing.Payment, error) {
	var (
		p                                       billing.Payment
		occurredAt, createdAt                   string
		reference, notes, voidReason, deletedAt sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.StudentID, &p.Total, &p.Method, &reference, &notes, &p.GroupID,
		&occurredAt, &voidReason, &p.Deleted, &deletedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	p.Reference = reference.String
	p.Notes = notes.String
	p.VoidReason = voidReason.String
	p.OccurredAt = parseTime(occurredAt)
	p.CreatedAt = parseTime(createdAt)
	p.DeletedAt = parseNullTime(deletedAt)
	return &p, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

// InsertAllocation persists a new allocation and sets its ID.
func (qs *queries) InsertAllocation(ctx context.Context, a *billing.Allocation) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	id, err := qs.insert(ctx, `
		INSERT INTO allocations (payment_id, charge_id, amount, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.PaymentID, a.ChargeID, a.Amount.String(), a.Status, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert allocation: %w", err)
	}
	a.ID = billing.AllocationID(id)
	return nil
}

// UpdateAllocation writes the status of a.
func (qs *queries) UpdateAllocation(ctx context.Context, a billing.Allocation) error {
	res, err := qs.q.ExecContext(ctx, "UPDATE allocations SET status = ? WHERE id = ?", a.Status, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update allocation %d: %w", a.ID, err)
	}
	return requireOneRow(res, "allocation", int64(a.ID))
}

// ListAllocationsByPayment returns the allocations of a payment in insertion order.
func (qs *queries) ListAllocationsByPayment(ctx context.Context, payment billing.PaymentID) ([]billing.Allocation, error) {
	return qs.queryAllocations(ctx, "WHERE payment_id = ?", payment)
}

// ListAllocationsByCharge returns the allocations targeting a charge.
func (qs *queries) ListAllocationsByCharge(ctx context.Context, charge billing.ChargeID) ([]billing.Allocation, error) {
	return qs.queryAllocations(ctx, "WHERE charge_id = ?", charge)
}

func (qs *queries) queryAllocations(ctx context.Context, where string, args ...any) ([]billing.Allocation, error) {
	rows, err := qs.q.QueryContext(ctx,
		"SELECT id, payment_id, charge_id, amount, status, created_at FROM allocations "+where+" ORDER BY id",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocations []billing.Allocation
	for rows.Next() {
		var a billing.Allocation
		var createdAt string
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.ChargeID, &a.Amount, &a.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

// Helper functions

func scanOptional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func requireOneRow(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.NotFound(entity, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatDateOrNull(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
