package history

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store persists build events behind database/sql. A local file path opens
// an embedded SQLite database; a postgres:// DSN uses Postgres instead.
type Store struct {
	db     *sql.DB
	driver string
	mu     sync.Mutex // single writer around the physical insert
}

const schema = `
CREATE TABLE IF NOT EXISTS build_events (
    id %s,
    run_id TEXT,
    timestamp TEXT,
    name TEXT,
    version TEXT,
    python_tag TEXT,
    platform_tag TEXT,
    status TEXT,
    source_spec TEXT,
    detail TEXT,
    wheel_path TEXT,
    cached INTEGER,
    metadata_json TEXT
)`

// Open connects to the event log at dsn and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	driver := "sqlite"
	idCol := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
		idCol = "BIGSERIAL PRIMARY KEY"
	} else if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if _, err := db.Exec(fmt.Sprintf(schema, idCol)); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure history schema: %w", err)
	}
	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_build_events_name ON build_events(name)",
		"CREATE INDEX IF NOT EXISTS idx_build_events_name_version ON build_events(name, version)",
		"CREATE INDEX IF NOT EXISTS idx_build_events_status ON build_events(status)",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure history indexes: %w", err)
		}
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders for the active driver.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RecordEvent appends an event. Appends from concurrent jobs serialize on
// the store's writer lock; reads never block on it.
func (s *Store) RecordEvent(ctx context.Context, evt Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	meta, err := json.Marshal(evt.Metadata)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	cached := 0
	if evt.Cached {
		cached = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO build_events (
            run_id, timestamp, name, version, python_tag, platform_tag,
            status, source_spec, detail, wheel_path, cached, metadata_json
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		evt.RunID, evt.Timestamp.Format(time.RFC3339Nano), evt.Name, evt.Version,
		evt.PythonTag, evt.PlatformTag, evt.Status, evt.SourceSpec, evt.Detail,
		evt.WheelPath, cached, string(meta))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

const eventColumns = `run_id, timestamp, name, version, python_tag, platform_tag,
    status, source_spec, detail, wheel_path, cached, metadata_json`

// Recent returns the most recent events, newest first, optionally filtered
// by status.
func (s *Store) Recent(ctx context.Context, limit int, status string) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT " + eventColumns + " FROM build_events"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	return s.queryEvents(ctx, query, args...)
}

// TopFailures counts failed/missing events per package, most failures first.
func (s *Store) TopFailures(ctx context.Context, limit int) ([]FailureStat, error) {
	if limit <= 0 {
		limit = 20
	}
	placeholders := strings.Repeat("?,", len(failureStatuses))
	placeholders = placeholders[:len(placeholders)-1]
	query := `SELECT name, COUNT(*) AS failures FROM build_events
        WHERE status IN (` + placeholders + `)
        GROUP BY name ORDER BY failures DESC, name ASC LIMIT ?`
	args := make([]any, 0, len(failureStatuses)+1)
	for _, st := range failureStatuses {
		args = append(args, st)
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FailureStat
	for rows.Next() {
		var stat FailureStat
		if err := rows.Scan(&stat.Name, &stat.Failures); err != nil {
			return nil, err
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}

// TopSlowest ranks packages by average recorded duration, slowest first.
// Durations live in metadata, so the ranking replays rows in Go.
func (s *Store) TopSlowest(ctx context.Context, limit int) ([]DurationStat, error) {
	if limit <= 0 {
		limit = 10
	}
	events, err := s.queryEvents(ctx, "SELECT "+eventColumns+" FROM build_events ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	type acc struct {
		total    float64
		count    int
		failures int
	}
	stats := map[string]*acc{}
	for _, evt := range events {
		a := stats[evt.Name]
		if a == nil {
			a = &acc{}
			stats[evt.Name] = a
		}
		if d, ok := evt.Duration(); ok {
			a.total += d
			a.count++
		}
		switch evt.Status {
		case StatusFailed, StatusMissing, StatusFailedAttempt, StatusRecipeFailed:
			a.failures++
		}
	}
	var out []DurationStat
	for name, a := range stats {
		if a.count == 0 {
			continue
		}
		out = append(out, DurationStat{Name: name, AvgDuration: a.total / float64(a.count), Failures: a.failures})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgDuration != out[j].AvgDuration {
			return out[i].AvgDuration > out[j].AvgDuration
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// VariantSuccessRate returns the built-to-total ratio per variant recorded
// for a package. Used to re-rank build variants, never to filter them.
func (s *Store) VariantSuccessRate(ctx context.Context, name string) (map[string]float64, error) {
	events, err := s.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM build_events WHERE name = ? ORDER BY id ASC", name)
	if err != nil {
		return nil, err
	}
	type counts struct{ success, total int }
	byVariant := map[string]*counts{}
	for _, evt := range events {
		raw, ok := evt.Metadata[MetaVariant]
		if !ok {
			continue
		}
		variant, _ := raw.(string)
		if variant == "" {
			variant = "unknown"
		}
		c := byVariant[variant]
		if c == nil {
			c = &counts{}
			byVariant[variant] = c
		}
		c.total++
		if evt.Status == StatusBuilt {
			c.success++
		}
	}
	rates := make(map[string]float64, len(byVariant))
	for variant, c := range byVariant {
		rates[variant] = float64(c.success) / float64(c.total)
	}
	return rates, nil
}

// PackageSummary aggregates the status histogram, latest event and average
// duration for a package.
func (s *Store) PackageSummary(ctx context.Context, name string) (PackageSummary, error) {
	events, err := s.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM build_events WHERE name = ? ORDER BY id ASC", name)
	if err != nil {
		return PackageSummary{}, err
	}
	summary := PackageSummary{Name: name, StatusCounts: map[string]int{}}
	var total float64
	var count int
	for i := range events {
		evt := events[i]
		summary.StatusCounts[evt.Status]++
		if d, ok := evt.Duration(); ok {
			total += d
			count++
		}
		summary.Latest = &events[i]
	}
	if count > 0 {
		summary.AvgDuration = total / float64(count)
		summary.HasDuration = true
	}
	return summary, nil
}

// LastEvent returns the most recent event for a package, optionally scoped
// to one version. Returns nil when no event exists.
func (s *Store) LastEvent(ctx context.Context, name, version string) (*Event, error) {
	query := "SELECT " + eventColumns + " FROM build_events WHERE name = ?"
	args := []any{name}
	if version != "" {
		query += " AND version = ?"
		args = append(args, version)
	}
	query += " ORDER BY id DESC LIMIT 1"
	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// ExportCSV writes events to w, newest first. limit <= 0 exports everything.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer, limit int) error {
	query := "SELECT " + eventColumns + " FROM build_events ORDER BY id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"run_id", "timestamp", "name", "version", "python_tag", "platform_tag",
		"status", "source_spec", "detail", "wheel_path", "cached", "metadata_json",
	}); err != nil {
		return err
	}
	for _, evt := range events {
		meta, _ := json.Marshal(evt.Metadata)
		cached := "0"
		if evt.Cached {
			cached = "1"
		}
		if err := cw.Write([]string{
			evt.RunID, evt.Timestamp.Format(time.RFC3339Nano), evt.Name, evt.Version,
			evt.PythonTag, evt.PlatformTag, evt.Status, evt.SourceSpec, evt.Detail,
			evt.WheelPath, cached, string(meta),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var evt Event
		var ts, meta string
		var cached int
		var sourceSpec, detail, wheelPath sql.NullString
		if err := rows.Scan(&evt.RunID, &ts, &evt.Name, &evt.Version, &evt.PythonTag,
			&evt.PlatformTag, &evt.Status, &sourceSpec, &detail, &wheelPath,
			&cached, &meta); err != nil {
			return nil, err
		}
		evt.SourceSpec = sourceSpec.String
		evt.Detail = detail.String
		evt.WheelPath = wheelPath.String
		evt.Cached = cached != 0
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			evt.Timestamp = parsed
		}
		if meta != "" {
			_ = json.Unmarshal([]byte(meta), &evt.Metadata)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}
