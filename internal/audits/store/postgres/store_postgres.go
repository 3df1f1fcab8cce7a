// Package postgres is the relational audit repository adapter. It runs
// unchanged on either configured SQL driver; every write path opens one
// transaction covering the mutation and its trail append.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"auditoria/internal/audits"
	"auditoria/internal/audits/store"
	"auditoria/internal/calendar"
	"auditoria/internal/trail"
	id "auditoria/pkg/domain"
	"auditoria/pkg/platform/sentinel"
	txcontext "auditoria/pkg/platform/tx"
)

const auditColumns = `id, site_id, period, start_date, upload_deadline,
	scheduled_visit, actual_visit, auditor_id, state, final_score, remarks,
	created_at, updated_at`

// Store implements store.Store on database/sql.
type Store struct {
	db    *sql.DB
	trail trail.Store
}

func New(db *sql.DB, trailStore trail.Store) *Store {
	return &Store{db: db, trail: trailStore}
}

func (s *Store) Create(ctx context.Context, audit *audits.Audit) error {
	if audit.ID.IsNil() {
		audit.ID = id.NewAuditID()
	}
	now := time.Now()
	audit.CreatedAt = now
	audit.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audits
			(id, site_id, period, start_date, upload_deadline, scheduled_visit,
			 actual_visit, auditor_id, state, final_score, remarks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.UUID(audit.ID),
		uuid.UUID(audit.SiteID),
		audit.Period.String(),
		dayParam(audit.StartDate),
		dayParam(audit.UploadDeadline),
		nullDay(audit.ScheduledVisit),
		nullDay(audit.ActualVisit),
		nullActor(audit.AuditorID),
		string(audit.State),
		nullScore(audit.FinalScore),
		audit.Remarks,
		audit.CreatedAt,
		audit.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create audit: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, auditID id.AuditID) (*audits.Audit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audits WHERE id = $1`, uuid.UUID(auditID))
	return scanAudit(row)
}

func (s *Store) FindBySiteAndPeriod(ctx context.Context, siteID id.SiteID, period audits.Period) (*audits.Audit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audits WHERE site_id = $1 AND period = $2`,
		uuid.UUID(siteID), period.String())
	return scanAudit(row)
}

func (s *Store) ListBySite(ctx context.Context, siteID id.SiteID) ([]*audits.Audit, error) {
	return s.query(ctx,
		`SELECT `+auditColumns+` FROM audits WHERE site_id = $1 ORDER BY created_at`,
		uuid.UUID(siteID))
}

func (s *Store) ListByAuditor(ctx context.Context, auditorID id.ActorID) ([]*audits.Audit, error) {
	return s.query(ctx,
		`SELECT `+auditColumns+` FROM audits WHERE auditor_id = $1 ORDER BY created_at`,
		uuid.UUID(auditorID))
}

func (s *Store) ListByState(ctx context.Context, states ...audits.State) ([]*audits.Audit, error) {
	return s.query(ctx,
		`SELECT `+auditColumns+` FROM audits WHERE state = ANY($1) ORDER BY created_at`,
		stateArray(states))
}

func (s *Store) ListByDeadline(ctx context.Context, day calendar.Day, states ...audits.State) ([]*audits.Audit, error) {
	return s.query(ctx, `
		SELECT `+auditColumns+` FROM audits
		WHERE upload_deadline = $1 AND state = ANY($2)
		ORDER BY created_at`,
		dayParam(day), stateArray(states))
}

func (s *Store) ListExpiringWithin(ctx context.Context, from calendar.Day, days int, states ...audits.State) ([]*audits.Audit, error) {
	return s.query(ctx, `
		SELECT `+auditColumns+` FROM audits
		WHERE upload_deadline >= $1 AND upload_deadline <= $2 AND state = ANY($3)
		ORDER BY upload_deadline, created_at`,
		dayParam(from), dayParam(from.AddDays(days)), stateArray(states))
}

func (s *Store) UpdateState(ctx context.Context, auditID id.AuditID, change store.StateChange, entry trail.Entry) (*audits.Audit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback()

	// Optimistic concurrency: the UPDATE carries the expected state in its
	// predicate, so a concurrent winner leaves zero rows for the loser.
	result, err := tx.ExecContext(ctx, `
		UPDATE audits
		SET state = $1,
		    final_score = COALESCE($2, final_score),
		    remarks = CASE WHEN $3 <> '' THEN $3 ELSE remarks END,
		    updated_at = now()
		WHERE id = $4 AND state = $5`,
		string(change.To),
		nullScore(change.FinalScore),
		change.Remarks,
		uuid.UUID(auditID),
		string(change.From),
	)
	if err != nil {
		return nil, fmt.Errorf("transition update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM audits WHERE id = $1)`,
			uuid.UUID(auditID)).Scan(&exists); err != nil {
			return nil, fmt.Errorf("transition existence check: %w", err)
		}
		if !exists {
			return nil, sentinel.ErrNotFound
		}
		return nil, sentinel.ErrConflict
	}

	if err := s.trail.Append(txcontext.WithTx(ctx, tx), entry); err != nil {
		return nil, fmt.Errorf("transition trail append: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audits WHERE id = $1`, uuid.UUID(auditID))
	audit, err := scanAudit(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return audit, nil
}

func (s *Store) AssignAuditor(ctx context.Context, assignment audits.Assignment, entry trail.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assignment tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM audits WHERE id = $1)`,
		uuid.UUID(assignment.AuditID)).Scan(&exists); err != nil {
		return fmt.Errorf("assignment audit check: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE assignments SET status = $1
		WHERE audit_id = $2 AND status = $3`,
		string(audits.AssignmentCancelled),
		uuid.UUID(assignment.AuditID),
		string(audits.AssignmentActive),
	); err != nil {
		return fmt.Errorf("supersede assignment: %w", err)
	}

	if assignment.ID.IsNil() {
		assignment.ID = id.NewAssignmentID()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO assignments (id, audit_id, auditor_id, visit_date, priority, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		uuid.UUID(assignment.ID),
		uuid.UUID(assignment.AuditID),
		uuid.UUID(assignment.AuditorID),
		nullDay(assignment.VisitDate),
		string(assignment.Priority),
		string(audits.AssignmentActive),
	); err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE audits SET auditor_id = $1, updated_at = now() WHERE id = $2`,
		uuid.UUID(assignment.AuditorID),
		uuid.UUID(assignment.AuditID),
	); err != nil {
		return fmt.Errorf("point audit at auditor: %w", err)
	}

	if err := s.trail.Append(txcontext.WithTx(ctx, tx), entry); err != nil {
		return fmt.Errorf("assignment trail append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assignment: %w", err)
	}
	return nil
}

func (s *Store) ActiveAssignment(ctx context.Context, auditID id.AuditID) (*audits.Assignment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, audit_id, auditor_id, visit_date, priority, status, created_at
		FROM assignments
		WHERE audit_id = $1 AND status = $2`,
		uuid.UUID(auditID), string(audits.AssignmentActive))
	assignment, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return assignment, err
}

func (s *Store) ListAssignments(ctx context.Context, auditID id.AuditID) ([]*audits.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, audit_id, auditor_id, visit_date, priority, status, created_at
		FROM assignments
		WHERE audit_id = $1
		ORDER BY created_at`,
		uuid.UUID(auditID))
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []*audits.Assignment
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, assignment)
	}
	return out, rows.Err()
}

func (s *Store) SetVisitDate(ctx context.Context, auditID id.AuditID, kind store.VisitKind, day calendar.Day, entry trail.Entry) error {
	column := "scheduled_visit"
	if kind == store.VisitActual {
		column = "actual_visit"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin visit tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE audits SET `+column+` = $1, updated_at = now() WHERE id = $2`,
		dayParam(day), uuid.UUID(auditID))
	if err != nil {
		return fmt.Errorf("set visit date: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("visit rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}

	if err := s.trail.Append(txcontext.WithTx(ctx, tx), entry); err != nil {
		return fmt.Errorf("visit trail append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit visit: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*audits.Audit, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	defer rows.Close()

	var out []*audits.Audit
	for rows.Next() {
		audit, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, audit)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAudit(row rowScanner) (*audits.Audit, error) {
	var (
		a                   audits.Audit
		auditID, siteID     uuid.UUID
		period, state       string
		startDate, deadline time.Time
		scheduled, actual   sql.NullTime
		auditorID           uuid.NullUUID
		finalScore          sql.NullInt64
	)
	err := row.Scan(&auditID, &siteID, &period, &startDate, &deadline,
		&scheduled, &actual, &auditorID, &state, &finalScore, &a.Remarks,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan audit: %w", err)
	}

	a.ID = id.AuditID(auditID)
	a.SiteID = id.SiteID(siteID)
	parsedPeriod, err := audits.ParsePeriod(period)
	if err != nil {
		return nil, fmt.Errorf("stored period: %w", err)
	}
	a.Period = parsedPeriod
	a.StartDate = calendar.DayOf(startDate, time.UTC)
	a.UploadDeadline = calendar.DayOf(deadline, time.UTC)
	if scheduled.Valid {
		a.ScheduledVisit = calendar.DayOf(scheduled.Time, time.UTC)
	}
	if actual.Valid {
		a.ActualVisit = calendar.DayOf(actual.Time, time.UTC)
	}
	if auditorID.Valid {
		a.AuditorID = id.ActorID(auditorID.UUID)
	}
	a.State = audits.State(state)
	if finalScore.Valid {
		score := int(finalScore.Int64)
		a.FinalScore = &score
	}
	return &a, nil
}

func scanAssignment(row rowScanner) (*audits.Assignment, error) {
	var (
		a                  audits.Assignment
		assignmentID       uuid.UUID
		auditID, auditorID uuid.UUID
		visitDate          sql.NullTime
		priority, status   string
	)
	err := row.Scan(&assignmentID, &auditID, &auditorID, &visitDate, &priority, &status, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan assignment: %w", err)
	}
	a.ID = id.AssignmentID(assignmentID)
	a.AuditID = id.AuditID(auditID)
	a.AuditorID = id.ActorID(auditorID)
	if visitDate.Valid {
		a.VisitDate = calendar.DayOf(visitDate.Time, time.UTC)
	}
	a.Priority = audits.AssignmentPriority(priority)
	a.Status = audits.AssignmentStatus(status)
	return &a, nil
}

func dayParam(d calendar.Day) time.Time {
	return d.StartIn(time.UTC)
}

func nullDay(d calendar.Day) sql.NullTime {
	if d.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: d.StartIn(time.UTC), Valid: true}
}

func nullActor(actorID id.ActorID) uuid.NullUUID {
	if actorID.IsNil() {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(actorID), Valid: true}
}

func nullScore(score *int) sql.NullInt64 {
	if score == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*score), Valid: true}
}

func stateArray(states []audits.State) any {
	raw := make([]string, len(states))
	for i, s := range states {
		raw[i] = string(s)
	}
	return pq.Array(raw)
}

// isUniqueViolation recognizes SQLSTATE 23505 from either configured driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "23505")
}
