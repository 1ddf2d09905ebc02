package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/store"
	dbpkg "github.com/attendly/server/internal/db"
)

const recordColumns = `
record_id, session_id, session_date, activity_id, person_id, status,
check_in_at_ms, check_out_at_ms, recorder_id, check_out_recorder_id, code, note,
revoked_at_ms, created_at_ms`

type RecordStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

var _ store.RecordStore = (*RecordStore)(nil)

func NewRecordStore(db *sql.DB, writer *dbpkg.Worker) *RecordStore {
	return &RecordStore{db: db, writer: writer}
}

// Insert relies on ux_attendance_active to reject a second live record for
// the same person and occurrence.
func (s *RecordStore) Insert(ctx context.Context, rec domain.AttendanceRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var code any
	if rec.Code != "" {
		code = rec.Code
	}

	err := s.writer.Do(ctx, "records.insert", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO attendance_records(`+recordColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.ID, string(rec.Key.SessionID), rec.Key.Date.String(), string(rec.ActivityID),
			string(rec.PersonID), string(rec.Status), rec.CheckInAt.UTC().UnixMilli(),
			msOrNil(rec.CheckOutAt), rec.RecorderID, rec.CheckOutRecorderID, code, rec.Note, msOrNil(rec.RevokedAt),
			rec.CreatedAt.UTC().UnixMilli(),
		)
		return err
	})
	if errors.Is(err, dbpkg.ErrUniqueViolation) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("Insert record: %w", err)
	}
	return nil
}

func (s *RecordStore) FindActive(ctx context.Context, key domain.SessionKey, person domain.PersonID) (domain.AttendanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+recordColumns+`
FROM attendance_records
WHERE session_id = ? AND session_date = ? AND person_id = ? AND revoked_at_ms IS NULL;
`, string(key.SessionID), key.Date.String(), string(person))
	return scanRecord(row)
}

func (s *RecordStore) Get(ctx context.Context, id string) (domain.AttendanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+recordColumns+` FROM attendance_records WHERE record_id = ?;
`, id)
	return scanRecord(row)
}

func (s *RecordStore) ListByKey(ctx context.Context, key domain.SessionKey) ([]domain.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+`
FROM attendance_records
WHERE session_id = ? AND session_date = ? AND revoked_at_ms IS NULL
ORDER BY person_id;
`, string(key.SessionID), key.Date.String())
	if err != nil {
		return nil, fmt.Errorf("ListByKey query: %w", err)
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

func (s *RecordStore) CheckOut(ctx context.Context, id, recorderID string, at time.Time) (domain.AttendanceRecord, error) {
	var rec domain.AttendanceRecord
	err := s.writer.Do(ctx, "records.check_out", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		rec, err = liveRecordTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.CheckOutAt != nil {
			return store.ErrCheckedOut
		}
		at = at.UTC()
		if _, err := tx.ExecContext(ctx, `
UPDATE attendance_records SET check_out_at_ms = ?, check_out_recorder_id = ? WHERE record_id = ?;
`, at.UnixMilli(), recorderID, id); err != nil {
			return fmt.Errorf("CheckOut update: %w", err)
		}
		rec.CheckOutAt = &at
		rec.CheckOutRecorderID = recorderID
		return nil
	})
	return rec, err
}

func (s *RecordStore) UpdateStatus(ctx context.Context, id string, status domain.Status, note string) (domain.AttendanceRecord, error) {
	var rec domain.AttendanceRecord
	err := s.writer.Do(ctx, "records.update_status", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if rec, err = liveRecordTx(ctx, tx, id); err != nil {
			return err
		}
		if note != "" {
			rec.Note = note
		}
		rec.Status = status
		if _, err := tx.ExecContext(ctx, `
UPDATE attendance_records SET status = ?, note = ? WHERE record_id = ?;
`, string(status), rec.Note, id); err != nil {
			return fmt.Errorf("UpdateStatus: %w", err)
		}
		return nil
	})
	return rec, err
}

func (s *RecordStore) Revoke(ctx context.Context, id string, at time.Time, note string) (domain.AttendanceRecord, error) {
	var rec domain.AttendanceRecord
	err := s.writer.Do(ctx, "records.revoke", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if rec, err = liveRecordTx(ctx, tx, id); err != nil {
			return err
		}
		at = at.UTC()
		if note != "" {
			rec.Note = note
		}
		rec.RevokedAt = &at
		if _, err := tx.ExecContext(ctx, `
UPDATE attendance_records SET revoked_at_ms = ?, note = ? WHERE record_id = ?;
`, at.UnixMilli(), rec.Note, id); err != nil {
			return fmt.Errorf("Revoke: %w", err)
		}
		return nil
	})
	return rec, err
}

func (s *RecordStore) CodeConsumed(ctx context.Context, code string, activity domain.ActivityID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
SELECT 1 FROM attendance_records
WHERE code = ? AND activity_id = ? AND revoked_at_ms IS NULL
LIMIT 1;
`, code, string(activity)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("CodeConsumed query: %w", err)
	}
	return true, nil
}

// liveRecordTx loads a non-revoked record inside an existing transaction.
func liveRecordTx(ctx context.Context, tx *sql.Tx, id string) (domain.AttendanceRecord, error) {
	row := tx.QueryRowContext(ctx, `
SELECT `+recordColumns+` FROM attendance_records
WHERE record_id = ? AND revoked_at_ms IS NULL;
`, id)
	return scanRecord(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.AttendanceRecord, error) {
	var (
		rec                            domain.AttendanceRecord
		sessionID, date, activity, who string
		status                         string
		checkInMs, createdMs           int64
		checkOutMs, revokedMs          sql.NullInt64
		code                           sql.NullString
	)
	err := row.Scan(&rec.ID, &sessionID, &date, &activity, &who, &status,
		&checkInMs, &checkOutMs, &rec.RecorderID, &rec.CheckOutRecorderID, &code, &rec.Note, &revokedMs, &createdMs)
	if err == sql.ErrNoRows {
		return domain.AttendanceRecord{}, store.ErrNotFound
	}
	if err != nil {
		return domain.AttendanceRecord{}, fmt.Errorf("scan record: %w", err)
	}

	d, err := domain.ParseDate(date)
	if err != nil {
		return domain.AttendanceRecord{}, err
	}
	rec.Key = domain.SessionKey{SessionID: domain.SessionID(sessionID), Date: d}
	rec.ActivityID = domain.ActivityID(activity)
	rec.PersonID = domain.PersonID(who)
	rec.Status = domain.Status(status)
	rec.CheckInAt = time.UnixMilli(checkInMs).UTC()
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	rec.CheckOutAt = timeOrNil(checkOutMs)
	rec.RevokedAt = timeOrNil(revokedMs)
	rec.Code = code.String
	return rec, nil
}

func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func timeOrNil(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t
}
