package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/store"
	dbpkg "github.com/attendly/server/internal/db"
)

// Catalog reads the schedule, rosters and registrations. Sessions are
// loaded once into memory; rosters and registrations are queried live so
// revocations take effect immediately.
type Catalog struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

var (
	_ store.SessionLoader = (*Catalog)(nil)
	_ store.Registrations = (*Catalog)(nil)
	_ store.Rosters       = (*Catalog)(nil)
)

func NewCatalog(db *sql.DB, writer *dbpkg.Worker) *Catalog {
	return &Catalog{db: db, writer: writer}
}

func (c *Catalog) LoadSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT session_id, location_id, weekday, start_period, period_count,
       owner_kind, owner_id, roster_id, cancelled, valid_from, valid_until
FROM sessions
ORDER BY session_id;
`)
	if err != nil {
		return nil, fmt.Errorf("LoadSessions query: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		var (
			s                  domain.Session
			id, loc, kind      string
			owner, roster      string
			weekday            int
			cancelled          int
			validFrom, validTo sql.NullString
		)
		if err := rows.Scan(&id, &loc, &weekday, &s.StartPeriod, &s.PeriodCount,
			&kind, &owner, &roster, &cancelled, &validFrom, &validTo); err != nil {
			return nil, fmt.Errorf("LoadSessions scan: %w", err)
		}
		s.ID = domain.SessionID(id)
		s.LocationID = domain.LocationID(loc)
		s.Weekday = time.Weekday(weekday)
		s.OwnerKind = domain.OwnerKind(kind)
		s.OwnerID = domain.ActivityID(owner)
		s.RosterID = domain.RosterID(roster)
		s.Cancelled = cancelled == 1
		if s.ValidFrom, err = parseOptionalDate(validFrom); err != nil {
			return nil, fmt.Errorf("session %s valid_from: %w", id, err)
		}
		if s.ValidUntil, err = parseOptionalDate(validTo); err != nil {
			return nil, fmt.Errorf("session %s valid_until: %w", id, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *Catalog) PutSession(ctx context.Context, s domain.Session) error {
	now := time.Now().UTC().UnixMilli()
	var cancelled int
	if s.Cancelled {
		cancelled = 1
	}
	return c.writer.Do(ctx, "catalog.put_session", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO sessions(
  session_id, location_id, weekday, start_period, period_count,
  owner_kind, owner_id, roster_id, cancelled, valid_from, valid_until,
  created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
  location_id  = excluded.location_id,
  weekday      = excluded.weekday,
  start_period = excluded.start_period,
  period_count = excluded.period_count,
  owner_kind   = excluded.owner_kind,
  owner_id     = excluded.owner_id,
  roster_id    = excluded.roster_id,
  cancelled    = excluded.cancelled,
  valid_from   = excluded.valid_from,
  valid_until  = excluded.valid_until,
  updated_at_ms = excluded.updated_at_ms;
`,
			string(s.ID), string(s.LocationID), int(s.Weekday), s.StartPeriod, s.PeriodCount,
			string(s.OwnerKind), string(s.OwnerID), string(s.RosterID), cancelled,
			optionalDate(s.ValidFrom), optionalDate(s.ValidUntil), now, now,
		); err != nil {
			return fmt.Errorf("PutSession %s: %w", s.ID, err)
		}
		return nil
	})
}

func (c *Catalog) Enroll(ctx context.Context, roster domain.RosterID, people ...domain.PersonID) error {
	return c.writer.Do(ctx, "catalog.enroll", func(ctx context.Context, tx *sql.Tx) error {
		for _, p := range people {
			if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO roster_members(roster_id, person_id) VALUES (?, ?);
`, string(roster), string(p)); err != nil {
				return fmt.Errorf("Enroll %s in %s: %w", p, roster, err)
			}
		}
		return nil
	})
}

func (c *Catalog) IsEnrolled(ctx context.Context, roster domain.RosterID, person domain.PersonID) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx, `
SELECT 1 FROM roster_members WHERE roster_id = ? AND person_id = ?;
`, string(roster), string(person)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("IsEnrolled query: %w", err)
	}
	return true, nil
}

func (c *Catalog) Members(ctx context.Context, roster domain.RosterID) ([]domain.PersonID, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT person_id FROM roster_members WHERE roster_id = ? ORDER BY person_id;
`, string(roster))
	if err != nil {
		return nil, fmt.Errorf("Members query: %w", err)
	}
	defer rows.Close()

	var out []domain.PersonID
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("Members scan: %w", err)
		}
		out = append(out, domain.PersonID(p))
	}
	return out, rows.Err()
}

func (c *Catalog) PutRegistration(ctx context.Context, r domain.Registration) error {
	now := time.Now().UTC().UnixMilli()
	var active int
	if r.Active {
		active = 1
	}
	return c.writer.Do(ctx, "catalog.put_registration", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO registrations(code, activity_id, person_id, active, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(code) DO UPDATE SET
  activity_id   = excluded.activity_id,
  person_id     = excluded.person_id,
  active        = excluded.active,
  updated_at_ms = excluded.updated_at_ms;
`, r.Code, string(r.ActivityID), string(r.PersonID), active, now, now); err != nil {
			return fmt.Errorf("PutRegistration: %w", err)
		}
		return nil
	})
}

func (c *Catalog) Registration(ctx context.Context, code string) (domain.Registration, error) {
	var (
		r                domain.Registration
		activity, person string
		active           int
	)
	err := c.db.QueryRowContext(ctx, `
SELECT code, activity_id, person_id, active FROM registrations WHERE code = ?;
`, code).Scan(&r.Code, &activity, &person, &active)
	if err == sql.ErrNoRows {
		return domain.Registration{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Registration{}, fmt.Errorf("Registration query: %w", err)
	}
	r.ActivityID = domain.ActivityID(activity)
	r.PersonID = domain.PersonID(person)
	r.Active = active == 1
	return r, nil
}

func parseOptionalDate(s sql.NullString) (domain.Date, error) {
	if !s.Valid || s.String == "" {
		return domain.Date{}, nil
	}
	return domain.ParseDate(s.String)
}

func optionalDate(d domain.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}
