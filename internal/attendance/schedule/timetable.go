package schedule

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
)

// Config is the externally supplied period table and buffers.
type Config struct {
	// Periods maps a period index to its "HH:MM" start.
	Periods             map[int]string
	Base                string
	PeriodLengthMinutes int
	BeforeBufferMinutes int
	AfterBufferMinutes  int
}

// DefaultConfig is the campus bell schedule: a morning, afternoon and
// evening block of 50-minute periods.
func DefaultConfig() Config {
	return Config{
		Periods: map[int]string{
			1: "07:00", 2: "07:50", 3: "08:50", 4: "09:50", 5: "10:40",
			6: "13:00", 7: "13:50", 8: "14:50", 9: "15:50", 10: "16:40",
			11: "18:15", 12: "19:05", 13: "20:05",
		},
		Base:                "07:00",
		PeriodLengthMinutes: 50,
		BeforeBufferMinutes: 60,
		AfterBufferMinutes:  30,
	}
}

type Timetable struct {
	periods      map[int]time.Duration
	base         time.Duration
	periodLength time.Duration
	before       time.Duration
	after        time.Duration
	logger       *slog.Logger
	fallbacks    atomic.Int64
}

func NewTimetable(cfg Config, logger *slog.Logger) (*Timetable, error) {
	if cfg.PeriodLengthMinutes <= 0 {
		return nil, fmt.Errorf("period length must be positive, got %d", cfg.PeriodLengthMinutes)
	}
	if cfg.BeforeBufferMinutes < 0 || cfg.AfterBufferMinutes < 0 {
		return nil, fmt.Errorf("buffers must not be negative")
	}
	base, err := ParseClock(cfg.Base)
	if err != nil {
		return nil, fmt.Errorf("base time: %w", err)
	}

	periods := make(map[int]time.Duration, len(cfg.Periods))
	for idx, s := range cfg.Periods {
		if idx < 1 {
			return nil, fmt.Errorf("period index must be >= 1, got %d", idx)
		}
		c, err := ParseClock(s)
		if err != nil {
			return nil, fmt.Errorf("period %d: %w", idx, err)
		}
		periods[idx] = c
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Timetable{
		periods:      periods,
		base:         base,
		periodLength: time.Duration(cfg.PeriodLengthMinutes) * time.Minute,
		before:       time.Duration(cfg.BeforeBufferMinutes) * time.Minute,
		after:        time.Duration(cfg.AfterBufferMinutes) * time.Minute,
		logger:       logger,
	}, nil
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("bad clock %q: want HH:MM", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

// PeriodStart returns the clock offset of a period. Indices missing from
// the table fall back to base + (p-1)*length, which always means the table
// is incomplete, so every fallback is logged.
func (t *Timetable) PeriodStart(p int) time.Duration {
	if c, ok := t.periods[p]; ok {
		return c
	}
	t.fallbacks.Add(1)
	fb := t.base + time.Duration(p-1)*t.periodLength
	t.logger.Warn("period missing from timetable, using fallback formula",
		"period", p,
		"fallback_start", formatClock(fb),
	)
	return fb
}

// Fallbacks counts PeriodStart calls that used the fallback formula.
func (t *Timetable) Fallbacks() int64 { return t.fallbacks.Load() }

func (t *Timetable) Buffers() (before, after time.Duration) { return t.before, t.after }

// Place computes the occurrence of s on day d in loc.
func (t *Timetable) Place(s domain.Session, d domain.Date, loc *time.Location) domain.Occurrence {
	offset := t.PeriodStart(s.StartPeriod)
	start := time.Date(d.Year, d.Month, d.Day, 0, int(offset/time.Minute), 0, 0, loc)
	end := start.Add(time.Duration(s.PeriodCount) * t.periodLength)
	return domain.Occurrence{
		Session:      s,
		Date:         d,
		Start:        start,
		End:          end,
		AllowedStart: start.Add(-t.before),
		AllowedEnd:   end.Add(t.after),
	}
}

// Periods returns the configured indices in order.
func (t *Timetable) Periods() []int {
	out := make([]int, 0, len(t.periods))
	for p := range t.periods {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func formatClock(d time.Duration) string {
	m := int(d / time.Minute)
	return fmt.Sprintf("%02d:%02d", (m/60)%24, m%60)
}
