package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/partwise/pricing-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Timestamps are stored as fixed-width UTC text so that string comparison
// in SQL matches chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func sqliteTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return sqliteTime(*t)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func parseSQLiteTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseSQLiteTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS items (
	id                    TEXT PRIMARY KEY,
	name                  TEXT NOT NULL DEFAULT '',
	component_type        TEXT NOT NULL DEFAULT '',
	build_id              TEXT NOT NULL DEFAULT '',
	external_key          TEXT NOT NULL,
	price                 REAL NOT NULL DEFAULT 0,
	original_price        REAL NOT NULL DEFAULT 0,
	tier                  TEXT NOT NULL DEFAULT 'C',
	price_source          TEXT NOT NULL DEFAULT '',
	price_updated_at      TEXT,
	cache_expires_at      TEXT,
	substituted           INTEGER NOT NULL DEFAULT 0,
	substitution_reason   TEXT NOT NULL DEFAULT '',
	original_external_key TEXT NOT NULL DEFAULT '',
	alternative_query     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS item_snapshots (
	id         TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL UNIQUE REFERENCES items(id),
	item       TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS price_cache (
	external_key TEXT PRIMARY KEY,
	price        REAL NOT NULL,
	source       TEXT NOT NULL,
	source_url   TEXT NOT NULL DEFAULT '',
	checked_at   TEXT NOT NULL,
	expires_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alternative_categories (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL UNIQUE,
	description    TEXT NOT NULL DEFAULT '',
	component_type TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alternatives (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	category_id      INTEGER REFERENCES alternative_categories(id),
	original_key     TEXT NOT NULL DEFAULT '',
	alternative_key  TEXT NOT NULL,
	alternative_name TEXT NOT NULL DEFAULT '',
	price            REAL,
	rating           REAL,
	priority         INTEGER NOT NULL DEFAULT 100,
	active           INTEGER NOT NULL DEFAULT 1,
	price_checked_at TEXT
);

CREATE TABLE IF NOT EXISTS job_runs (
	id           TEXT PRIMARY KEY,
	job          TEXT NOT NULL,
	status       TEXT NOT NULL,
	trigger      TEXT NOT NULL DEFAULT 'schedule',
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	summary      TEXT,
	error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_items_tier ON items(tier, price_updated_at);
CREATE INDEX IF NOT EXISTS idx_items_build ON items(build_id);
CREATE INDEX IF NOT EXISTS idx_price_cache_expires_at ON price_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_alternatives_original_key ON alternatives(original_key);
CREATE INDEX IF NOT EXISTS idx_alternatives_category ON alternatives(category_id);
CREATE INDEX IF NOT EXISTS idx_job_runs_job_started ON job_runs(job, started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateItem(ctx context.Context, item *model.Item) error {
	prepareNewItem(item)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.ComponentType, item.BuildID, item.ExternalKey, item.Price,
		item.OriginalPrice, string(item.Tier), item.PriceSource, sqliteTimePtr(item.PriceUpdatedAt),
		sqliteTimePtr(item.CacheExpiresAt), item.Substituted, item.SubstitutionReason,
		item.OriginalExternalKey, item.AlternativeQuery,
	)
	return eris.Wrapf(err, "sqlite: insert item %s", item.ID)
}

func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanSQLiteItem(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "item %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get item %s", id)
	}
	return item, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, filter model.ItemFilter) ([]model.Item, error) {
	where, args := sqliteItemWhere(filter)
	// NULL sorts first in ascending SQLite order.
	query := `SELECT ` + itemColumns + ` FROM items` + where + ` ORDER BY price_updated_at ASC, id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list items")
	}
	defer rows.Close() //nolint:errcheck

	var items []model.Item
	for rows.Next() {
		item, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) UpdateItem(ctx context.Context, item *model.Item) error {
	return updateItemSQLite(ctx, s.db, item)
}

type sqliteExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateItemSQLite(ctx context.Context, q sqliteExecer, item *model.Item) error {
	res, err := q.ExecContext(ctx,
		`UPDATE items SET name = ?, external_key = ?, price = ?, tier = ?, price_source = ?,
		 price_updated_at = ?, cache_expires_at = ?, substituted = ?, substitution_reason = ?,
		 original_external_key = ?, alternative_query = ?
		 WHERE id = ?`,
		item.Name, item.ExternalKey, item.Price, string(item.Tier), item.PriceSource,
		sqliteTimePtr(item.PriceUpdatedAt), sqliteTimePtr(item.CacheExpiresAt), item.Substituted,
		item.SubstitutionReason, item.OriginalExternalKey, item.AlternativeQuery, item.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update item %s", item.ID)
	}
	return checkRowsAffected(res, "item", item.ID)
}

// inTx runs fn in a transaction, rolling back on any error.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) SubstituteItem(ctx context.Context, item *model.Item, snap model.ItemSnapshot) error {
	snapJSON, err := json.Marshal(snap.Item)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal snapshot")
	}
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO item_snapshots (id, item_id, item, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (item_id) DO NOTHING`,
			snap.ID, item.ID, string(snapJSON), sqliteTime(snap.CreatedAt),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert snapshot %s", item.ID)
		}
		return updateItemSQLite(ctx, tx, item)
	})
}

func (s *SQLiteStore) RestoreItem(ctx context.Context, item *model.Item) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := updateItemSQLite(ctx, tx, item); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM item_snapshots WHERE item_id = ?`, item.ID)
		return eris.Wrapf(err, "sqlite: delete snapshot %s", item.ID)
	})
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, itemID string) (*model.ItemSnapshot, error) {
	var (
		snap      model.ItemSnapshot
		itemJSON  string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, item_id, item, created_at FROM item_snapshots WHERE item_id = ?`, itemID,
	).Scan(&snap.ID, &snap.ItemID, &itemJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get snapshot %s", itemID)
	}
	if err := json.Unmarshal([]byte(itemJSON), &snap.Item); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal snapshot")
	}
	if snap.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteStore) SubstitutionStats(ctx context.Context, filter model.ItemFilter) (*model.SubstitutionStats, error) {
	where, args := sqliteItemWhere(filter)
	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, substituted, substitution_reason, count(*) FROM items`+where+
			` GROUP BY tier, substituted, substitution_reason`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: substitution stats")
	}
	defer rows.Close() //nolint:errcheck

	stats := newStats(filter)
	for rows.Next() {
		var (
			tier        string
			substituted bool
			reason      string
			n           int
		)
		if err := rows.Scan(&tier, &substituted, &reason, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats")
		}
		addStatsRow(stats, model.Tier(tier), substituted, reason, n)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: substitution stats iterate")
}

func sqliteItemWhere(filter model.ItemFilter) (string, []any) {
	where := ` WHERE 1 = 1`
	var args []any
	if filter.Tier != "" {
		where += ` AND tier = ?`
		args = append(args, string(filter.Tier))
	}
	if filter.BuildID != "" {
		where += ` AND build_id = ?`
		args = append(args, filter.BuildID)
	}
	if filter.Substituted != nil {
		where += ` AND substituted = ?`
		args = append(args, *filter.Substituted)
	}
	return where, args
}

func (s *SQLiteStore) GetPriceCache(ctx context.Context, externalKey string) (*model.PriceCacheEntry, error) {
	var (
		e                    model.PriceCacheEntry
		checkedAt, expiresAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT external_key, price, source, source_url, checked_at, expires_at
		 FROM price_cache WHERE external_key = ?`, externalKey,
	).Scan(&e.ExternalKey, &e.Price, &e.Source, &e.SourceURL, &checkedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get price cache %s", externalKey)
	}
	if e.CheckedAt, err = parseSQLiteTime(checkedAt); err != nil {
		return nil, err
	}
	if e.ExpiresAt, err = parseSQLiteTime(expiresAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) UpsertPriceCache(ctx context.Context, e model.PriceCacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_cache (external_key, price, source, source_url, checked_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_key) DO UPDATE SET price = excluded.price, source = excluded.source,
		 source_url = excluded.source_url, checked_at = excluded.checked_at,
		 expires_at = excluded.expires_at`,
		e.ExternalKey, e.Price, e.Source, e.SourceURL, sqliteTime(e.CheckedAt), sqliteTime(e.ExpiresAt),
	)
	return eris.Wrapf(err, "sqlite: upsert price cache %s", e.ExternalKey)
}

func (s *SQLiteStore) DeleteStalePriceCache(ctx context.Context, expiredBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM price_cache WHERE expires_at < ?`, sqliteTime(expiredBefore),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete stale price cache")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) UpsertCategory(ctx context.Context, cat *model.AlternativeCategory) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO alternative_categories (name, description, component_type) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET description = excluded.description,
		 component_type = excluded.component_type
		 RETURNING id`,
		cat.Name, cat.Description, cat.ComponentType,
	).Scan(&cat.ID)
	return eris.Wrapf(err, "sqlite: upsert category %s", cat.Name)
}

func (s *SQLiteStore) CreateCandidate(ctx context.Context, c *model.AlternativeCandidate) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alternatives (category_id, original_key, alternative_key, alternative_name,
		 price, rating, priority, active) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CategoryID, c.OriginalKey, c.AlternativeKey, c.AlternativeName,
		c.Price, c.Rating, c.Priority, c.Active,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert alternative %s", c.AlternativeKey)
	}
	c.ID, err = res.LastInsertId()
	return eris.Wrap(err, "sqlite: alternative id")
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, originalKey, componentType string) ([]model.AlternativeCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.category_id, a.original_key, a.alternative_key, a.alternative_name,
		 a.price, a.rating, a.priority, a.active, a.price_checked_at, COALESCE(c.component_type, '')
		 FROM alternatives a
		 LEFT JOIN alternative_categories c ON c.id = a.category_id
		 WHERE a.active = 1
		   AND ((? <> '' AND a.original_key = ?) OR (? <> '' AND c.component_type = ?))
		 ORDER BY a.priority ASC, a.price IS NULL, a.price ASC, a.id ASC`,
		originalKey, originalKey, componentType, componentType,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list alternatives")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AlternativeCandidate
	for rows.Next() {
		var (
			c          model.AlternativeCandidate
			categoryID sql.NullInt64
			price      sql.NullFloat64
			rating     sql.NullFloat64
			checkedAt  sql.NullString
		)
		if err := rows.Scan(&c.ID, &categoryID, &c.OriginalKey, &c.AlternativeKey,
			&c.AlternativeName, &price, &rating, &c.Priority, &c.Active,
			&checkedAt, &c.ComponentType); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alternative")
		}
		if categoryID.Valid {
			c.CategoryID = &categoryID.Int64
		}
		if price.Valid {
			c.Price = &price.Float64
		}
		if rating.Valid {
			c.Rating = &rating.Float64
		}
		if c.PriceCheckedAt, err = parseSQLiteTimePtr(checkedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list alternatives iterate")
}

func (s *SQLiteStore) UpdateCandidatePrice(ctx context.Context, id int64, price float64, rating *float64, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alternatives SET price = ?, rating = COALESCE(?, rating), price_checked_at = ?
		 WHERE id = ?`,
		price, rating, sqliteTime(checkedAt), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update alternative price %d", id)
	}
	return checkRowsAffected(res, "alternative", fmt.Sprint(id))
}

func (s *SQLiteStore) StartJobRun(ctx context.Context, job, trigger string) (*model.JobRun, error) {
	run := &model.JobRun{
		ID:        uuid.New().String(),
		Job:       job,
		Status:    model.JobRunRunning,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (id, job, status, trigger, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Job, string(run.Status), run.Trigger, sqliteTime(run.StartedAt),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: start job run %s", job)
	}
	return run, nil
}

func (s *SQLiteStore) FinishJobRun(ctx context.Context, id string, status model.JobRunStatus, summary json.RawMessage, errMsg string) error {
	var summaryArg any
	if len(summary) > 0 {
		summaryArg = string(summary)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET status = ?, completed_at = ?, summary = ?, error = ? WHERE id = ?`,
		string(status), sqliteTime(time.Now()), summaryArg, errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish job run %s", id)
	}
	return checkRowsAffected(res, "job run", id)
}

func (s *SQLiteStore) LatestJobRuns(ctx context.Context) ([]model.JobRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.job, r.status, r.trigger, r.started_at, r.completed_at, r.summary, r.error
		 FROM job_runs r
		 WHERE r.started_at = (SELECT max(started_at) FROM job_runs WHERE job = r.job)
		 ORDER BY r.job`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest job runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.JobRun
	for rows.Next() {
		var (
			r           model.JobRun
			status      string
			startedAt   string
			completedAt sql.NullString
			summary     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Job, &status, &r.Trigger, &startedAt,
			&completedAt, &summary, &r.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job run")
		}
		r.Status = model.JobRunStatus(status)
		if r.StartedAt, err = parseSQLiteTime(startedAt); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseSQLiteTimePtr(completedAt); err != nil {
			return nil, err
		}
		if summary.Valid && summary.String != "" {
			r.Summary = json.RawMessage(summary.String)
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: latest job runs iterate")
}

func scanSQLiteItem(row scannable) (*model.Item, error) {
	var (
		item           model.Item
		tier           string
		priceUpdatedAt sql.NullString
		cacheExpiresAt sql.NullString
	)
	if err := row.Scan(&item.ID, &item.Name, &item.ComponentType, &item.BuildID,
		&item.ExternalKey, &item.Price, &item.OriginalPrice, &tier, &item.PriceSource,
		&priceUpdatedAt, &cacheExpiresAt, &item.Substituted,
		&item.SubstitutionReason, &item.OriginalExternalKey, &item.AlternativeQuery); err != nil {
		return nil, err
	}
	item.Tier = model.Tier(tier)

	var err error
	if item.PriceUpdatedAt, err = parseSQLiteTimePtr(priceUpdatedAt); err != nil {
		return nil, err
	}
	if item.CacheExpiresAt, err = parseSQLiteTimePtr(cacheExpiresAt); err != nil {
		return nil, err
	}
	return &item, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
