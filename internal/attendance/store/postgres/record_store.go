// Package postgres is the shared attendance ledger used when several
// server instances record into one database.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/store"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const recordColumns = `
record_id::text, session_id, session_date, activity_id, person_id, status,
check_in_at, check_out_at, recorder_id, check_out_recorder_id, code, note,
revoked_at, created_at`

type RecordStore struct {
	pool *pgxpool.Pool
}

var _ store.RecordStore = (*RecordStore)(nil)

func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

// Connect opens a pool and verifies the connection.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the ledger table and indexes if missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *RecordStore) Insert(ctx context.Context, rec domain.AttendanceRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var code *string
	if rec.Code != "" {
		code = &rec.Code
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO attendance_records (
  record_id, session_id, session_date, activity_id, person_id, status,
  check_in_at, check_out_at, recorder_id, check_out_recorder_id, code, note,
  revoked_at, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, string(rec.Key.SessionID), rec.Key.Date.In(time.UTC), string(rec.ActivityID),
		string(rec.PersonID), string(rec.Status), rec.CheckInAt, rec.CheckOutAt,
		rec.RecorderID, rec.CheckOutRecorderID, code, rec.Note, rec.RevokedAt, rec.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *RecordStore) FindActive(ctx context.Context, key domain.SessionKey, person domain.PersonID) (domain.AttendanceRecord, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+recordColumns+`
FROM attendance_records
WHERE session_id = $1 AND session_date = $2 AND person_id = $3 AND revoked_at IS NULL`,
		string(key.SessionID), key.Date.In(time.UTC), string(person))
	return scanRecord(row)
}

func (s *RecordStore) Get(ctx context.Context, id string) (domain.AttendanceRecord, error) {
	uid, err := recordID(id)
	if err != nil {
		return domain.AttendanceRecord{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE record_id = $1`, uid)
	return scanRecord(row)
}

func (s *RecordStore) ListByKey(ctx context.Context, key domain.SessionKey) ([]domain.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+recordColumns+`
FROM attendance_records
WHERE session_id = $1 AND session_date = $2 AND revoked_at IS NULL
ORDER BY person_id`,
		string(key.SessionID), key.Date.In(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []domain.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CheckOut sets check_out_at only when it is still empty, so concurrent
// check-outs cannot overwrite each other.
func (s *RecordStore) CheckOut(ctx context.Context, id, recorderID string, at time.Time) (domain.AttendanceRecord, error) {
	uid, err := recordID(id)
	if err != nil {
		return domain.AttendanceRecord{}, err
	}
	row := s.pool.QueryRow(ctx, `
UPDATE attendance_records SET check_out_at = $2, check_out_recorder_id = $3
WHERE record_id = $1 AND revoked_at IS NULL AND check_out_at IS NULL
RETURNING `+recordColumns, uid, at.UTC(), recorderID)
	rec, err := scanRecord(row)
	if !errors.Is(err, store.ErrNotFound) {
		return rec, err
	}

	// Nothing updated: tell a missing record from one already checked out.
	cur, err := s.Get(ctx, id)
	if err != nil {
		return domain.AttendanceRecord{}, err
	}
	if cur.Revoked() {
		return domain.AttendanceRecord{}, store.ErrNotFound
	}
	return cur, store.ErrCheckedOut
}

func (s *RecordStore) UpdateStatus(ctx context.Context, id string, status domain.Status, note string) (domain.AttendanceRecord, error) {
	uid, err := recordID(id)
	if err != nil {
		return domain.AttendanceRecord{}, err
	}
	row := s.pool.QueryRow(ctx, `
UPDATE attendance_records
SET status = $2, note = CASE WHEN $3 = '' THEN note ELSE $3 END
WHERE record_id = $1 AND revoked_at IS NULL
RETURNING `+recordColumns, uid, string(status), note)
	return scanRecord(row)
}

func (s *RecordStore) Revoke(ctx context.Context, id string, at time.Time, note string) (domain.AttendanceRecord, error) {
	uid, err := recordID(id)
	if err != nil {
		return domain.AttendanceRecord{}, err
	}
	row := s.pool.QueryRow(ctx, `
UPDATE attendance_records
SET revoked_at = $2, note = CASE WHEN $3 = '' THEN note ELSE $3 END
WHERE record_id = $1 AND revoked_at IS NULL
RETURNING `+recordColumns, uid, at.UTC(), note)
	return scanRecord(row)
}

func (s *RecordStore) CodeConsumed(ctx context.Context, code string, activity domain.ActivityID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM attendance_records
  WHERE code = $1 AND activity_id = $2 AND revoked_at IS NULL
)`, code, string(activity)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("code consumed: %w", err)
	}
	return exists, nil
}

// recordID parses a record id so lookups hit the primary key. Ids that are
// not UUIDs cannot exist in the ledger.
func recordID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return uuid.UUID{}, store.ErrNotFound
	}
	return uid, nil
}

func scanRecord(row pgx.Row) (domain.AttendanceRecord, error) {
	var (
		rec                      domain.AttendanceRecord
		sessionID, activity, who string
		status                   string
		date                     time.Time
		checkOut, revoked        *time.Time
		code                     *string
	)
	err := row.Scan(&rec.ID, &sessionID, &date, &activity, &who, &status,
		&rec.CheckInAt, &checkOut, &rec.RecorderID, &rec.CheckOutRecorderID, &code, &rec.Note, &revoked, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AttendanceRecord{}, store.ErrNotFound
	}
	if err != nil {
		return domain.AttendanceRecord{}, fmt.Errorf("scan record: %w", err)
	}

	rec.Key = domain.SessionKey{SessionID: domain.SessionID(sessionID), Date: domain.DateOf(date.UTC())}
	rec.ActivityID = domain.ActivityID(activity)
	rec.PersonID = domain.PersonID(who)
	rec.Status = domain.Status(status)
	rec.CheckInAt = rec.CheckInAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	if checkOut != nil {
		t := checkOut.UTC()
		rec.CheckOutAt = &t
	}
	if revoked != nil {
		t := revoked.UTC()
		rec.RevokedAt = &t
	}
	if code != nil {
		rec.Code = *code
	}
	return rec, nil
}
