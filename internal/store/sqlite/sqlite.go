// Package sqlite implements storage.Store on top of SQLite, via
// mattn/go-sqlite3. It owns the replace-in-one-transaction semantics
// spec.md §4.3/§5 require for replaceable and parameterized-
// replaceable kinds.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/nips/nip40"
	"github.com/paul/glienicke/pkg/storage"
)

// Options holds database configuration options
type Options struct {
	// MaxOpenConns is the maximum number of open connections to the database.
	// If MaxOpenConns is 0 or negative, there is no limit.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections to the database.
	// If MaxIdleConns is negative, no idle connections are retained.
	MaxIdleConns int

	// ConnMaxLifetime sets the maximum duration of time that a database
	// connection may be reused.
	// If ConnMaxLifetime is 0, connections are reused forever.
	ConnMaxLifetime time.Duration

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// Recommended for production use.
	EnableWAL bool

	// CacheSize sets the database cache size (PRAGMA cache_size).
	// Positive values are a number of pages; negative values are in KB
	// (e.g., -2000 = 2MB cache). Zero leaves SQLite's default.
	CacheSize int

	// BusyTimeout sets the busy timeout in milliseconds.
	// Default is 5000ms (5 seconds).
	BusyTimeout time.Duration
}

// DefaultOptions returns default database options
func DefaultOptions() *Options {
	return &Options{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		EnableWAL:       true,
		CacheSize:       -2000, // 2MB cache
		BusyTimeout:     5 * time.Second,
	}
}

// Store is a SQLite implementation of storage.Store
type Store struct {
	db *sql.DB
}

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// New creates a new SQLite store with autoconfiguration
func New(dbPath string) (*Store, error) {
	return NewWithOptions(dbPath, DefaultOptions())
}

// NewWithOptions creates a new SQLite store with custom options
func NewWithOptions(dbPath string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}

	if err := store.configurePerformance(opts); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure performance: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	db.SetMaxIdleConns(opts.MaxIdleConns)
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// configurePerformance applies performance optimizations
func (s *Store) configurePerformance(opts *Options) error {
	if opts.EnableWAL {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if opts.CacheSize != 0 {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA cache_size=%d;", opts.CacheSize)); err != nil {
			return fmt.Errorf("failed to set cache size: %w", err)
		}
	}

	if opts.BusyTimeout > 0 {
		timeoutMs := int(opts.BusyTimeout.Milliseconds())
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", timeoutMs)); err != nil {
			return fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	if _, err := s.db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := s.db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		return fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	if _, err := s.db.Exec("PRAGMA temp_store=MEMORY;"); err != nil {
		return fmt.Errorf("failed to set temp store: %w", err)
	}

	return nil
}

// initSchema creates the necessary tables if they don't exist
func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			pubkey TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			tags TEXT,
			content TEXT NOT NULL,
			sig TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_pubkey ON events(pubkey);
		CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
		CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
		CREATE INDEX IF NOT EXISTS idx_events_kind_created_at ON events(kind, created_at);
		`,
	},
	{
		version: 2,
		sql: `
		CREATE TABLE IF NOT EXISTS deleted_events (
			id TEXT PRIMARY KEY,
			deleter_pubkey TEXT NOT NULL,
			deleted_at INTEGER NOT NULL
		);
		`,
	},
	{
		version: 3,
		sql: `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_replaceable
			ON events(pubkey, kind)
			WHERE kind = 0 OR kind = 3 OR (kind >= 10000 AND kind < 20000);
		`,
	},
}

func (s *Store) runMigrations() error {
	for _, m := range migrations {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.version, err)
		}

		if count > 0 {
			continue
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.version, time.Now().Unix()); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
	}

	return nil
}

// Persist inserts evt with ON CONFLICT(id) DO NOTHING semantics. For
// replaceable and parameterized-replaceable kinds it instead runs the
// supersede-check-then-delete-then-insert sequence inside one
// transaction (spec.md §4.3 steps 7-8, §5, §8 invariants 2-3): every
// existing event at the same coordinate is compared against evt via
// Event.Supersedes, exactly as internal/store/memory does; if any
// existing event is not superseded by evt, evt is dropped (silently,
// mirroring the in-memory store) and nothing is deleted or inserted.
// Only once every existing row at the coordinate loses to evt do we
// delete them and insert evt, all within a single sql.Tx. The unique
// index from migration 3 is a defense-in-depth backstop, not the
// mechanism — the delete always runs first so a concurrent writer at
// the same coordinate can't violate it.
func (s *Store) Persist(ctx context.Context, evt *event.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	switch evt.Classify() {
	case event.KindReplaceable:
		toDelete, ok, err := s.supersededIDs(ctx, tx, evt, false)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := deleteByIDs(ctx, tx, toDelete); err != nil {
			return err
		}
	case event.KindParameterizedReplaceable:
		// d-tags live inside the opaque tags JSON column, so the match
		// happens in Go against decoded rows rather than a SQL WHERE
		// clause; see supersededIDs.
		toDelete, ok, err := s.supersededIDs(ctx, tx, evt, true)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := deleteByIDs(ctx, tx, toDelete); err != nil {
			return err
		}
	}

	tagsJSON, err := marshalTags(evt.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, pubkey, created_at, kind, tags, content, sig)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, evt.ID, evt.PubKey, evt.CreatedAt, evt.Kind, tagsJSON, evt.Content, evt.Sig); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// supersededIDs finds every stored event at evt's (pubkey, kind)
// coordinate — further narrowed to evt's d-tag when parameterized is
// true — and checks each against evt.Supersedes, exactly as
// internal/store/memory.Persist does. It returns the ids that evt
// supersedes and can safely replace, plus ok=false if any existing
// event at the coordinate is NOT superseded by evt, in which case evt
// must be dropped without touching the store.
func (s *Store) supersededIDs(ctx context.Context, tx *sql.Tx, evt *event.Event, parameterized bool) ([]string, bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id, created_at, tags FROM events WHERE pubkey = ? AND kind = ?", evt.PubKey, evt.Kind)
	if err != nil {
		return nil, false, fmt.Errorf("failed to scan for superseded events: %w", err)
	}

	dTag := evt.DTag()
	var toDelete []string
	for rows.Next() {
		var id string
		var createdAt int64
		var tagsJSON sql.NullString
		if err := rows.Scan(&id, &createdAt, &tagsJSON); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("failed to scan superseded candidate: %w", err)
		}

		if parameterized {
			tags, err := unmarshalTags(tagsJSON)
			if err != nil {
				rows.Close()
				return nil, false, fmt.Errorf("failed to unmarshal tags: %w", err)
			}
			if dTagOf(tags) != dTag {
				continue
			}
		}

		existing := &event.Event{ID: id, CreatedAt: createdAt}
		if !evt.Supersedes(existing) {
			rows.Close()
			return nil, false, nil
		}
		toDelete = append(toDelete, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, false, err
	}
	rows.Close()

	return toDelete, true, nil
}

func deleteByIDs(ctx context.Context, tx *sql.Tx, ids []string) error {
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete superseded event %s: %w", id, err)
		}
	}
	return nil
}

func dTagOf(tags [][]string) string {
	for _, tag := range tags {
		if len(tag) >= 1 && tag[0] == "d" {
			if len(tag) >= 2 {
				return tag[1]
			}
			return ""
		}
	}
	return ""
}

// Query invokes emit for each stored event matching any of filters,
// in newest-first order, honoring each filter's effective limit and
// suppressing expired events.
func (s *Store) Query(ctx context.Context, filters []*event.Filter, emit func(*event.Event) error) error {
	seen := make(map[string]bool)
	var results []*event.Event

	for _, filter := range filters {
		events, err := s.queryFilter(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to query filter: %w", err)
		}
		for _, evt := range events {
			if seen[evt.ID] {
				continue
			}
			seen[evt.ID] = true
			results = append(results, evt)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt > results[j].CreatedAt
	})
	for _, evt := range results {
		if err := emit(evt); err != nil {
			return err
		}
	}
	return nil
}

// queryFilter runs the coarse (id/author/kind/timestamp) conditions
// in SQL, since tags are an opaque JSON column the database can't
// index on. Tag constraints (spec.md's "#e"/"#p"-style filters) and
// the effective limit are both applied in Go afterward via the same
// event.Filter.Matches oracle internal/store/memory uses, so the two
// storage backends agree on query semantics.
func (s *Store) queryFilter(ctx context.Context, filter *event.Filter) ([]*event.Event, error) {
	query, args := buildWhere("SELECT id, pubkey, created_at, kind, tags, content, sig FROM events", filter)
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	limit := filter.EffectiveLimit()
	events := make([]*event.Event, 0, limit)
	for rows.Next() {
		evt := &event.Event{}
		var tagsJSON sql.NullString

		if err := rows.Scan(&evt.ID, &evt.PubKey, &evt.CreatedAt, &evt.Kind, &tagsJSON, &evt.Content, &evt.Sig); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		tags, err := unmarshalTags(tagsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
		evt.Tags = tags

		if nip40.ShouldFilterEvent(evt) {
			continue
		}
		if !filter.Matches(evt) {
			continue
		}

		events = append(events, evt)
		if len(events) >= limit {
			break
		}
	}

	return events, rows.Err()
}

// Count returns the count of stored events matching filters, summed
// per-filter (spec.md §4.8 — overlapping filters may over-count).
func (s *Store) Count(ctx context.Context, filters []*event.Filter) (int, error) {
	var total int
	for _, filter := range filters {
		query, args := buildWhere("SELECT COUNT(*) FROM events", filter)
		var count int
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to execute count query: %w", err)
		}
		total += count
	}
	return total, nil
}

func buildWhere(base string, filter *event.Filter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			placeholders[i] = "substr(id, 1, ?) = ?"
			args = append(args, len(id), id)
		}
		conditions = append(conditions, "("+strings.Join(placeholders, " OR ")+")")
	}

	if len(filter.Authors) > 0 {
		placeholders := make([]string, len(filter.Authors))
		for i, author := range filter.Authors {
			placeholders[i] = "substr(pubkey, 1, ?) = ?"
			args = append(args, len(author), author)
		}
		conditions = append(conditions, "("+strings.Join(placeholders, " OR ")+")")
	}

	if filter.Kinds != nil {
		placeholders := make([]string, len(filter.Kinds))
		for i, kind := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, kind)
		}
		conditions = append(conditions, "kind IN ("+strings.Join(placeholders, ",")+")")
	}

	if filter.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	if filter.Until != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, *filter.Until)
	}

	query := base
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	return query, args
}

// DeleteByID idempotently deletes the event with the given id.
// Authorization is the caller's responsibility (pkg/nips/nip09).
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO deleted_events (id, deleter_pubkey, deleted_at) VALUES (?, '', ?)",
		id, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record deletion of %s: %w", id, err)
	}
	return nil
}

// GetByID retrieves a single stored event by id, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*event.Event, error) {
	evt := &event.Event{}
	var tagsJSON sql.NullString

	err := s.db.QueryRowContext(ctx,
		"SELECT id, pubkey, created_at, kind, tags, content, sig FROM events WHERE id = ?",
		id).Scan(&evt.ID, &evt.PubKey, &evt.CreatedAt, &evt.Kind, &tagsJSON, &evt.Content, &evt.Sig)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	evt.Tags = tags

	return evt, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DeleteEventsOlderThan deletes all events older than the specified
// duration. Retention policy helper, not exercised by the acceptance
// pipeline; exposed for an operator-driven retention job.
func (s *Store) DeleteEventsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoffTime := time.Now().Add(-age).Unix()

	result, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE created_at < ?", cutoffTime)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}

	return result.RowsAffected()
}

// PruneDeletedEvents removes old entries from the deleted_events
// table, keeping it from growing unbounded.
func (s *Store) PruneDeletedEvents(ctx context.Context, age time.Duration) (int64, error) {
	cutoffTime := time.Now().Add(-age).Unix()

	result, err := s.db.ExecContext(ctx, "DELETE FROM deleted_events WHERE deleted_at <= ?", cutoffTime)
	if err != nil {
		return 0, fmt.Errorf("failed to prune deleted events: %w", err)
	}

	return result.RowsAffected()
}

// Vacuum runs the SQLite VACUUM command to reclaim unused space.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	if err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}

// Stats returns database statistics for monitoring
type Stats struct {
	EventCount        int64
	DeletedEventCount int64
	DatabaseSizeKB    int64
}

// GetStats returns database statistics
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&stats.EventCount); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM deleted_events").Scan(&stats.DeletedEventCount); err != nil {
		return nil, fmt.Errorf("failed to count deleted events: %w", err)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			stats.DatabaseSizeKB = (pageCount * pageSize) / 1024
		}
	}

	return stats, nil
}

func marshalTags(tags [][]string) (string, error) {
	if tags == nil {
		tags = [][]string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalTags(tagsJSON sql.NullString) ([][]string, error) {
	if !tagsJSON.Valid || tagsJSON.String == "" {
		return [][]string{}, nil
	}
	var tags [][]string
	if err := json.Unmarshal([]byte(tagsJSON.String), &tags); err != nil {
		return nil, err
	}
	if tags == nil {
		tags = [][]string{}
	}
	return tags, nil
}
