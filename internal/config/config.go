package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/attendly/server/internal/attendance/schedule"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	Env      string // "dev" | "prod"
	LogLevel string

	// Storage. DBPath is always used for the catalog and event log;
	// PostgresDSN moves the attendance ledger to postgres when set.
	DBPath      string
	PostgresDSN string
	RedisURL    string // empty = in-memory live tracker

	Timezone  *time.Location
	Timetable schedule.Config

	LateAfter         time.Duration // 0 disables LATE
	TrackerGrace      time.Duration
	RecognizerURL     string // empty = static recognizer (dev only)
	RecognizerTimeout time.Duration
	BulkConcurrency   int

	KafkaBrokers   []string
	KafkaTopic     string
	AllowedOrigins []string

	// Event log retention
	EventRetentionDays int // 0 = keep forever
	PruneIntervalHours int
	SweepInterval      time.Duration
}

// Load reads defaults, then the optional YAML file named by
// ATTENDLY_CONFIG, then ATTENDLY_* environment variables.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ATTENDLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("ATTENDLY_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	tt := schedule.DefaultConfig()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_path", "./data/attendly.db")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("timezone", "UTC")

	v.SetDefault("timetable.periods", "")
	v.SetDefault("timetable.base", tt.Base)
	v.SetDefault("timetable.period_length_minutes", tt.PeriodLengthMinutes)
	v.SetDefault("timetable.before_buffer_minutes", tt.BeforeBufferMinutes)
	v.SetDefault("timetable.after_buffer_minutes", tt.AfterBufferMinutes)

	v.SetDefault("late_after", 15*time.Minute)
	v.SetDefault("tracker_grace", 30*time.Minute)
	v.SetDefault("recognizer.url", "")
	v.SetDefault("recognizer.timeout", 2*time.Second)
	v.SetDefault("bulk_concurrency", 8)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "attendly.outcomes")
	v.SetDefault("allowed_origins", "")

	v.SetDefault("event_retention_days", 30)
	v.SetDefault("prune_interval_hours", 6)
	v.SetDefault("sweep_interval", time.Minute)
}

func fromViper(v *viper.Viper) (Config, error) {
	env := strings.ToLower(v.GetString("env"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return Config{}, fmt.Errorf("timezone: %w", err)
	}

	tt := schedule.DefaultConfig()
	tt.Base = v.GetString("timetable.base")
	tt.PeriodLengthMinutes = v.GetInt("timetable.period_length_minutes")
	tt.BeforeBufferMinutes = v.GetInt("timetable.before_buffer_minutes")
	tt.AfterBufferMinutes = v.GetInt("timetable.after_buffer_minutes")
	periods, err := parsePeriods(v.Get("timetable.periods"))
	if err != nil {
		return Config{}, err
	}
	if periods != nil {
		tt.Periods = periods
	}

	cfg := Config{
		HTTPAddr: v.GetString("http_addr"),
		GRPCAddr: v.GetString("grpc_addr"),
		Env:      env,
		LogLevel: strings.ToLower(v.GetString("log_level")),

		DBPath:      v.GetString("db_path"),
		PostgresDSN: strings.TrimSpace(v.GetString("postgres_dsn")),
		RedisURL:    strings.TrimSpace(v.GetString("redis_url")),

		Timezone:  loc,
		Timetable: tt,

		LateAfter:         v.GetDuration("late_after"),
		TrackerGrace:      v.GetDuration("tracker_grace"),
		RecognizerURL:     strings.TrimSpace(v.GetString("recognizer.url")),
		RecognizerTimeout: v.GetDuration("recognizer.timeout"),
		BulkConcurrency:   nonNegative(v.GetInt("bulk_concurrency"), 8),

		KafkaBrokers:   stringList(v.Get("kafka.brokers")),
		KafkaTopic:     v.GetString("kafka.topic"),
		AllowedOrigins: stringList(v.Get("allowed_origins")),

		EventRetentionDays: nonNegative(v.GetInt("event_retention_days"), 30),
		PruneIntervalHours: nonNegative(v.GetInt("prune_interval_hours"), 6),
		SweepInterval:      v.GetDuration("sweep_interval"),
	}
	if cfg.Env == "prod" && cfg.RecognizerURL == "" {
		return Config{}, fmt.Errorf("recognizer.url is required in prod")
	}
	return cfg, nil
}

// parsePeriods accepts a YAML map of period index to "HH:MM", or the env
// form "1=07:00,2=07:50". Empty input keeps the default table.
func parsePeriods(raw any) (map[int]string, error) {
	out := map[int]string{}
	switch p := raw.(type) {
	case nil:
		return nil, nil
	case string:
		for _, pair := range splitCSV(p) {
			k, val, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("timetable.periods: bad entry %q, want N=HH:MM", pair)
			}
			if err := putPeriod(out, k, val); err != nil {
				return nil, err
			}
		}
	case map[string]any:
		for k, val := range p {
			if err := putPeriod(out, k, fmt.Sprint(val)); err != nil {
				return nil, err
			}
		}
	case map[any]any:
		for k, val := range p {
			if err := putPeriod(out, fmt.Sprint(k), fmt.Sprint(val)); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("timetable.periods: unsupported value %T", raw)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func putPeriod(dst map[int]string, k, val string) error {
	n, err := strconv.Atoi(strings.TrimSpace(k))
	if err != nil {
		return fmt.Errorf("timetable.periods: bad period %q", k)
	}
	if _, err := schedule.ParseClock(val); err != nil {
		return fmt.Errorf("timetable.periods %d: %w", n, err)
	}
	dst[n] = strings.TrimSpace(val)
	return nil
}

// stringList reads either a YAML list or a comma separated env value.
func stringList(raw any) []string {
	switch v := raw.(type) {
	case string:
		return splitCSV(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str := strings.TrimSpace(fmt.Sprint(s)); str != "" {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return splitCSV(strings.Join(v, ","))
	}
	return nil
}

func nonNegative(n, def int) int {
	if n < 0 {
		return def
	}
	return n
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
