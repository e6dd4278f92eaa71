// Package postgres implements the storage interfaces backed by PostgreSQL.
// All stations share one database; this store is where the cross-station
// guarantees are enforced (unique rows, conditional increments, transactional
// daily reset).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/comedor-digital/meal_service/internal/app/domain/audit"
	"github.com/comedor-digital/meal_service/internal/app/domain/lookup"
	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
	"github.com/comedor-digital/meal_service/internal/app/domain/student"
	"github.com/comedor-digital/meal_service/internal/app/domain/usage"
	"github.com/comedor-digital/meal_service/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces against PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.StudentStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.LookupStore = (*Store)(nil)
var _ storage.ResetStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// --- StudentStore -----------------------------------------------------------

type studentRow struct {
	ID             string         `db:"student_id"`
	CardToken      string         `db:"card_token"`
	Name           string         `db:"student_name"`
	GradeLevel     int            `db:"grade_level"`
	PlanID         string         `db:"plan_id"`
	DailyAllowance int            `db:"daily_allowance"`
	Status         string         `db:"status"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r studentRow) model() student.Student {
	return student.Student{
		ID:             r.ID,
		CardToken:      r.CardToken,
		Name:           r.Name,
		GradeLevel:     r.GradeLevel,
		PlanID:         r.PlanID,
		DailyAllowance: r.DailyAllowance,
		Status:         student.Status(r.Status),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

const studentColumns = `student_id, card_token, student_name, grade_level, plan_id, daily_allowance, status, created_at, updated_at`

func (s *Store) CreateStudent(ctx context.Context, st student.Student) (student.Student, error) {
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now
	if st.Status == "" {
		st.Status = student.Active
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meal_students (student_id, card_token, student_name, grade_level, plan_id, daily_allowance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, st.ID, st.CardToken, st.Name, st.GradeLevel, st.PlanID, st.DailyAllowance, st.Status, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return student.Student{}, fmt.Errorf("student %s: %w", st.ID, storage.ErrDuplicate)
		}
		return student.Student{}, err
	}
	return st, nil
}

func (s *Store) UpdateStudent(ctx context.Context, st student.Student) (student.Student, error) {
	existing, err := s.GetStudent(ctx, st.ID)
	if err != nil {
		return student.Student{}, err
	}

	st.CreatedAt = existing.CreatedAt
	st.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE meal_students
		SET card_token = $2, student_name = $3, grade_level = $4, plan_id = $5, daily_allowance = $6, status = $7, updated_at = $8
		WHERE student_id = $1
	`, st.ID, st.CardToken, st.Name, st.GradeLevel, st.PlanID, st.DailyAllowance, st.Status, st.UpdatedAt)
	if err != nil {
		return student.Student{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return student.Student{}, fmt.Errorf("student %s: %w", st.ID, storage.ErrNotFound)
	}
	return st, nil
}

func (s *Store) GetStudent(ctx context.Context, id string) (student.Student, error) {
	var row studentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+studentColumns+`
		FROM meal_students
		WHERE student_id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return student.Student{}, fmt.Errorf("student %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return student.Student{}, err
	}
	return row.model(), nil
}

func (s *Store) ListStudents(ctx context.Context, activeOnly bool) ([]student.Student, error) {
	var rows []studentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+studentColumns+`
		FROM meal_students
		WHERE $1 = false OR status = 'Active'
		ORDER BY student_id
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	result := make([]student.Student, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.model())
	}
	return result, nil
}

// --- UsageStore -------------------------------------------------------------

type usageRow struct {
	StudentID  string       `db:"student_id"`
	Date       time.Time    `db:"usage_date"`
	Total      int          `db:"total_used"`
	Breakfast  int          `db:"breakfast_used"`
	Lunch      int          `db:"lunch_used"`
	Snack      int          `db:"snack_used"`
	LastUsedAt sql.NullTime `db:"last_used_at"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
}

func (r usageRow) model() usage.DailyUsage {
	u := usage.DailyUsage{
		StudentID: r.StudentID,
		Date:      r.Date,
		Total:     r.Total,
		Breakfast: r.Breakfast,
		Lunch:     r.Lunch,
		Snack:     r.Snack,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.LastUsedAt.Valid {
		u.LastUsedAt = r.LastUsedAt.Time.UTC()
	}
	return u
}

const usageColumns = `student_id, usage_date, total_used, breakfast_used, lunch_used, snack_used, last_used_at, created_at, updated_at`

func (s *Store) GetOrCreateUsage(ctx context.Context, studentID string, day time.Time) (usage.DailyUsage, error) {
	date := usage.Day(day)

	// Lost insert races surface as a conflict; DO NOTHING turns them into a
	// plain re-fetch.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meal_daily_usage (student_id, usage_date, total_used, breakfast_used, lunch_used, snack_used, created_at, updated_at)
		VALUES ($1, $2, 0, 0, 0, 0, NOW(), NOW())
		ON CONFLICT (student_id, usage_date) DO NOTHING
	`, studentID, date)
	if err != nil && !isUniqueViolation(err) {
		return usage.DailyUsage{}, err
	}

	var row usageRow
	err = s.db.GetContext(ctx, &row, `
		SELECT `+usageColumns+`
		FROM meal_daily_usage
		WHERE student_id = $1 AND usage_date = $2
	`, studentID, date)
	if err != nil {
		return usage.DailyUsage{}, err
	}
	return row.model(), nil
}

func (s *Store) IncrementUsage(ctx context.Context, studentID string, day time.Time, category mealplan.Category, allowance int) (usage.DailyUsage, error) {
	if !category.Valid() {
		return usage.DailyUsage{}, fmt.Errorf("unknown category %q", category)
	}
	if _, err := s.GetOrCreateUsage(ctx, studentID, day); err != nil {
		return usage.DailyUsage{}, err
	}

	// Single conditional update: the category and total guards make exactly
	// one of N racing commits succeed; losers see zero rows updated.
	var row usageRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE meal_daily_usage
		SET total_used = total_used + 1,
		    breakfast_used = breakfast_used + CASE WHEN $3 = 'Breakfast' THEN 1 ELSE 0 END,
		    lunch_used = lunch_used + CASE WHEN $3 = 'Lunch' THEN 1 ELSE 0 END,
		    snack_used = snack_used + CASE WHEN $3 = 'Snack' THEN 1 ELSE 0 END,
		    last_used_at = NOW(),
		    updated_at = NOW()
		WHERE student_id = $1 AND usage_date = $2
		  AND total_used < $4
		  AND CASE $3
		        WHEN 'Breakfast' THEN breakfast_used
		        WHEN 'Lunch' THEN lunch_used
		        WHEN 'Snack' THEN snack_used
		      END = 0
		RETURNING `+usageColumns+`
	`, studentID, usage.Day(day), string(category), allowance)
	if errors.Is(err, sql.ErrNoRows) {
		return usage.DailyUsage{}, s.incrementLossReason(ctx, studentID, day, category)
	}
	if err != nil {
		return usage.DailyUsage{}, err
	}
	return row.model(), nil
}

// incrementLossReason re-reads the row to tell a same-category loss apart
// from a spent allowance. The row exists; GetOrCreateUsage ran first.
func (s *Store) incrementLossReason(ctx context.Context, studentID string, day time.Time, category mealplan.Category) error {
	row, err := s.GetOrCreateUsage(ctx, studentID, day)
	if err != nil {
		return err
	}
	if row.CategoryCount(category) > 0 {
		return storage.ErrCategoryUsed
	}
	return storage.ErrAllowanceSpent
}

func (s *Store) ResetUsage(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM meal_daily_usage`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- AuditStore -------------------------------------------------------------

type auditRow struct {
	ID          string         `db:"audit_id"`
	StudentID   string         `db:"student_id"`
	StudentName string         `db:"student_name"`
	PlanID      string         `db:"plan_id"`
	Category    sql.NullString `db:"category"`
	Outcome     string         `db:"outcome"`
	Reason      sql.NullString `db:"reason_code"`
	StationID   string         `db:"station_id"`
	CashierID   string         `db:"cashier_id"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r auditRow) model() audit.Record {
	rec := audit.Record{
		ID:          r.ID,
		StudentID:   r.StudentID,
		StudentName: r.StudentName,
		PlanID:      r.PlanID,
		Outcome:     audit.Outcome(r.Outcome),
		StationID:   r.StationID,
		CashierID:   r.CashierID,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.Category.Valid {
		rec.Category = mealplan.Category(r.Category.String)
	}
	if r.Reason.Valid {
		rec.Reason = audit.ReasonCode(r.Reason.String)
	}
	return rec
}

const auditColumns = `audit_id, student_id, student_name, plan_id, category, outcome, reason_code, station_id, cashier_id, created_at`

func (s *Store) AppendAudit(ctx context.Context, rec audit.Record) (audit.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meal_audit (audit_id, student_id, student_name, plan_id, category, outcome, reason_code, station_id, cashier_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.StudentID, rec.StudentName, rec.PlanID,
		toNullString(string(rec.Category)), rec.Outcome, toNullString(string(rec.Reason)),
		rec.StationID, rec.CashierID, rec.CreatedAt)
	if err != nil {
		return audit.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListRecentAudit(ctx context.Context, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+auditColumns+`
		FROM meal_audit
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	result := make([]audit.Record, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.model())
	}
	return result, nil
}

func (s *Store) DailyStats(ctx context.Context, dayStart time.Time) (audit.DailyStats, error) {
	var row struct {
		Total     int `db:"total"`
		Approved  int `db:"approved"`
		Denied    int `db:"denied"`
		Errored   int `db:"errored"`
		Breakfast int `db:"breakfast"`
		Lunch     int `db:"lunch"`
		Snack     int `db:"snack"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE outcome = 'Approved') AS approved,
		       COUNT(*) FILTER (WHERE outcome = 'Denied') AS denied,
		       COUNT(*) FILTER (WHERE outcome = 'Error') AS errored,
		       COUNT(*) FILTER (WHERE outcome = 'Approved' AND category = 'Breakfast') AS breakfast,
		       COUNT(*) FILTER (WHERE outcome = 'Approved' AND category = 'Lunch') AS lunch,
		       COUNT(*) FILTER (WHERE outcome = 'Approved' AND category = 'Snack') AS snack
		FROM meal_audit
		WHERE created_at >= $1
	`, dayStart)
	if err != nil {
		return audit.DailyStats{}, err
	}
	return audit.DailyStats{
		Total:    row.Total,
		Approved: row.Approved,
		Denied:   row.Denied,
		Errored:  row.Errored,
		PerCategory: map[mealplan.Category]int{
			mealplan.Breakfast: row.Breakfast,
			mealplan.Lunch:     row.Lunch,
			mealplan.Snack:     row.Snack,
		},
	}, nil
}

func (s *Store) DeleteAuditSince(ctx context.Context, dayStart time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM meal_audit WHERE created_at >= $1`, dayStart)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) DeleteAuditOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM meal_audit WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- LookupStore ------------------------------------------------------------

type lookupRow struct {
	StationID   string    `db:"station_id"`
	StudentID   string    `db:"student_id"`
	StudentName string    `db:"student_name"`
	PlanID      string    `db:"plan_id"`
	Eligible    bool      `db:"eligible"`
	PublishedAt time.Time `db:"published_at"`
}

func (r lookupRow) model() lookup.Cell {
	return lookup.Cell{
		StationID:   r.StationID,
		StudentID:   r.StudentID,
		StudentName: r.StudentName,
		PlanID:      r.PlanID,
		Eligible:    r.Eligible,
		PublishedAt: r.PublishedAt.UTC(),
	}
}

func (s *Store) PublishLookup(ctx context.Context, cell lookup.Cell) (lookup.Cell, error) {
	if cell.PublishedAt.IsZero() {
		cell.PublishedAt = time.Now().UTC()
	}
	// Last write wins; the station_id primary key keeps one live row per
	// station.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meal_station_lookup (station_id, student_id, student_name, plan_id, eligible, published_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (station_id) DO UPDATE
		SET student_id = EXCLUDED.student_id,
		    student_name = EXCLUDED.student_name,
		    plan_id = EXCLUDED.plan_id,
		    eligible = EXCLUDED.eligible,
		    published_at = EXCLUDED.published_at
	`, cell.StationID, cell.StudentID, cell.StudentName, cell.PlanID, cell.Eligible, cell.PublishedAt)
	if err != nil {
		return lookup.Cell{}, err
	}
	return cell, nil
}

func (s *Store) GetLookup(ctx context.Context, stationID string) (lookup.Cell, error) {
	var row lookupRow
	err := s.db.GetContext(ctx, &row, `
		SELECT station_id, student_id, student_name, plan_id, eligible, published_at
		FROM meal_station_lookup
		WHERE station_id = $1
	`, stationID)
	if errors.Is(err, sql.ErrNoRows) {
		return lookup.Cell{}, fmt.Errorf("lookup for station %s: %w", stationID, storage.ErrNotFound)
	}
	if err != nil {
		return lookup.Cell{}, err
	}
	return row.model(), nil
}

func (s *Store) ClearLookup(ctx context.Context, stationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM meal_station_lookup WHERE station_id = $1`, stationID)
	return err
}

func (s *Store) ClearAllLookups(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM meal_station_lookup`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- ResetStore -------------------------------------------------------------

func (s *Store) ResetDay(ctx context.Context, dayStart time.Time) (storage.ResetCounts, error) {
	var counts storage.ResetCounts

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return counts, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM meal_daily_usage`)
	if err != nil {
		return counts, err
	}
	counts.UsageRows, _ = result.RowsAffected()

	result, err = tx.ExecContext(ctx, `DELETE FROM meal_audit WHERE created_at >= $1`, dayStart)
	if err != nil {
		return counts, err
	}
	counts.AuditRows, _ = result.RowsAffected()

	result, err = tx.ExecContext(ctx, `DELETE FROM meal_station_lookup`)
	if err != nil {
		return counts, err
	}
	counts.LookupRows, _ = result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return storage.ResetCounts{}, err
	}
	return counts, nil
}

func toNullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
