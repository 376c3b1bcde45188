package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/partwise/pricing-cli/internal/db"
	"github.com/partwise/pricing-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(5)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS items (
	id                    TEXT PRIMARY KEY,
	name                  TEXT NOT NULL DEFAULT '',
	component_type        TEXT NOT NULL DEFAULT '',
	build_id              TEXT NOT NULL DEFAULT '',
	external_key          TEXT NOT NULL,
	price                 NUMERIC(12,2) NOT NULL DEFAULT 0,
	original_price        NUMERIC(12,2) NOT NULL DEFAULT 0,
	tier                  TEXT NOT NULL DEFAULT 'C',
	price_source          TEXT NOT NULL DEFAULT '',
	price_updated_at      TIMESTAMPTZ,
	cache_expires_at      TIMESTAMPTZ,
	substituted           BOOLEAN NOT NULL DEFAULT false,
	substitution_reason   TEXT NOT NULL DEFAULT '',
	original_external_key TEXT NOT NULL DEFAULT '',
	alternative_query     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_items_tier ON items(tier, price_updated_at);
CREATE INDEX IF NOT EXISTS idx_items_build ON items(build_id);

CREATE TABLE IF NOT EXISTS item_snapshots (
	id         TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL UNIQUE REFERENCES items(id),
	item       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS price_cache (
	external_key TEXT PRIMARY KEY,
	price        NUMERIC(12,2) NOT NULL,
	source       TEXT NOT NULL,
	source_url   TEXT NOT NULL DEFAULT '',
	checked_at   TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_cache_expires_at ON price_cache(expires_at);

CREATE TABLE IF NOT EXISTS alternative_categories (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	description    TEXT NOT NULL DEFAULT '',
	component_type TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alternatives (
	id               BIGSERIAL PRIMARY KEY,
	category_id      BIGINT REFERENCES alternative_categories(id),
	original_key     TEXT NOT NULL DEFAULT '',
	alternative_key  TEXT NOT NULL,
	alternative_name TEXT NOT NULL DEFAULT '',
	price            NUMERIC(12,2),
	rating           NUMERIC(3,2),
	priority         INTEGER NOT NULL DEFAULT 100,
	active           BOOLEAN NOT NULL DEFAULT true,
	price_checked_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_alternatives_original_key ON alternatives(original_key);
CREATE INDEX IF NOT EXISTS idx_alternatives_category ON alternatives(category_id);

CREATE TABLE IF NOT EXISTS job_runs (
	id           TEXT PRIMARY KEY,
	job          TEXT NOT NULL,
	status       TEXT NOT NULL,
	trigger      TEXT NOT NULL DEFAULT 'schedule',
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	summary      JSONB,
	error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_job_runs_job_started ON job_runs(job, started_at DESC);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const itemColumns = `id, name, component_type, build_id, external_key, price, original_price, tier,
	price_source, price_updated_at, cache_expires_at, substituted, substitution_reason,
	original_external_key, alternative_query`

func (s *PostgresStore) CreateItem(ctx context.Context, item *model.Item) error {
	prepareNewItem(item)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO items (`+itemColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		item.ID, item.Name, item.ComponentType, item.BuildID, item.ExternalKey, item.Price,
		item.OriginalPrice, string(item.Tier), item.PriceSource, item.PriceUpdatedAt,
		item.CacheExpiresAt, item.Substituted, item.SubstitutionReason,
		item.OriginalExternalKey, item.AlternativeQuery,
	)
	return eris.Wrapf(err, "postgres: insert item %s", item.ID)
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (*model.Item, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "item %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get item %s", id)
	}
	return item, nil
}

func (s *PostgresStore) ListItems(ctx context.Context, filter model.ItemFilter) ([]model.Item, error) {
	where, args := pgItemWhere(filter)
	query := `SELECT ` + itemColumns + ` FROM items` + where +
		` ORDER BY price_updated_at ASC NULLS FIRST, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

// pgExecer is satisfied by both the pool and a pgx.Tx.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) UpdateItem(ctx context.Context, item *model.Item) error {
	return updateItemPG(ctx, s.pool, item)
}

// updateItemPG writes the engine-owned fields. original_price is frozen at
// creation and deliberately absent from the SET list.
func updateItemPG(ctx context.Context, q pgExecer, item *model.Item) error {
	tag, err := q.Exec(ctx,
		`UPDATE items SET name = $1, external_key = $2, price = $3, tier = $4, price_source = $5,
		 price_updated_at = $6, cache_expires_at = $7, substituted = $8, substitution_reason = $9,
		 original_external_key = $10, alternative_query = $11
		 WHERE id = $12`,
		item.Name, item.ExternalKey, item.Price, string(item.Tier), item.PriceSource,
		item.PriceUpdatedAt, item.CacheExpiresAt, item.Substituted, item.SubstitutionReason,
		item.OriginalExternalKey, item.AlternativeQuery, item.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update item %s", item.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "item %s", item.ID)
	}
	return nil
}

func (s *PostgresStore) SubstituteItem(ctx context.Context, item *model.Item, snap model.ItemSnapshot) error {
	snapJSON, err := json.Marshal(snap.Item)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snapshot")
	}
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	return eris.Wrapf(db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		// The first snapshot wins; a second substitution keeps it.
		if _, err := tx.Exec(ctx,
			`INSERT INTO item_snapshots (id, item_id, item, created_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (item_id) DO NOTHING`,
			snap.ID, item.ID, snapJSON, snap.CreatedAt,
		); err != nil {
			return eris.Wrap(err, "insert snapshot")
		}
		return updateItemPG(ctx, tx, item)
	}), "postgres: substitute item %s", item.ID)
}

func (s *PostgresStore) RestoreItem(ctx context.Context, item *model.Item) error {
	return eris.Wrapf(db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := updateItemPG(ctx, tx, item); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM item_snapshots WHERE item_id = $1`, item.ID)
		return eris.Wrap(err, "delete snapshot")
	}), "postgres: restore item %s", item.ID)
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, itemID string) (*model.ItemSnapshot, error) {
	var snap model.ItemSnapshot
	var itemJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, item_id, item, created_at FROM item_snapshots WHERE item_id = $1`,
		itemID,
	).Scan(&snap.ID, &snap.ItemID, &itemJSON, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get snapshot %s", itemID)
	}
	if err := json.Unmarshal(itemJSON, &snap.Item); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal snapshot")
	}
	return &snap, nil
}

func (s *PostgresStore) SubstitutionStats(ctx context.Context, filter model.ItemFilter) (*model.SubstitutionStats, error) {
	where, args := pgItemWhere(filter)
	rows, err := s.pool.Query(ctx,
		`SELECT tier, substituted, substitution_reason, count(*) FROM items`+where+
			` GROUP BY tier, substituted, substitution_reason`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: substitution stats")
	}
	defer rows.Close()

	stats := newStats(filter)
	for rows.Next() {
		var (
			tier        string
			substituted bool
			reason      string
			n           int
		)
		if err := rows.Scan(&tier, &substituted, &reason, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats")
		}
		addStatsRow(stats, model.Tier(tier), substituted, reason, n)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: substitution stats iterate")
}

func pgItemWhere(filter model.ItemFilter) (string, []any) {
	where := ` WHERE true`
	var args []any
	if filter.Tier != "" {
		args = append(args, string(filter.Tier))
		where += fmt.Sprintf(` AND tier = $%d`, len(args))
	}
	if filter.BuildID != "" {
		args = append(args, filter.BuildID)
		where += fmt.Sprintf(` AND build_id = $%d`, len(args))
	}
	if filter.Substituted != nil {
		args = append(args, *filter.Substituted)
		where += fmt.Sprintf(` AND substituted = $%d`, len(args))
	}
	return where, args
}

func (s *PostgresStore) GetPriceCache(ctx context.Context, externalKey string) (*model.PriceCacheEntry, error) {
	var e model.PriceCacheEntry
	err := s.pool.QueryRow(ctx,
		`SELECT external_key, price, source, source_url, checked_at, expires_at
		 FROM price_cache WHERE external_key = $1`,
		externalKey,
	).Scan(&e.ExternalKey, &e.Price, &e.Source, &e.SourceURL, &e.CheckedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get price cache %s", externalKey)
	}
	return &e, nil
}

func (s *PostgresStore) UpsertPriceCache(ctx context.Context, e model.PriceCacheEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_cache (external_key, price, source, source_url, checked_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (external_key) DO UPDATE SET price = $2, source = $3, source_url = $4,
		 checked_at = $5, expires_at = $6`,
		e.ExternalKey, e.Price, e.Source, e.SourceURL, e.CheckedAt, e.ExpiresAt,
	)
	return eris.Wrapf(err, "postgres: upsert price cache %s", e.ExternalKey)
}

func (s *PostgresStore) DeleteStalePriceCache(ctx context.Context, expiredBefore time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM price_cache WHERE expires_at < $1`, expiredBefore)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete stale price cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) UpsertCategory(ctx context.Context, cat *model.AlternativeCategory) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO alternative_categories (name, description, component_type) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET description = $2, component_type = $3
		 RETURNING id`,
		cat.Name, cat.Description, cat.ComponentType,
	).Scan(&cat.ID)
	return eris.Wrapf(err, "postgres: upsert category %s", cat.Name)
}

func (s *PostgresStore) CreateCandidate(ctx context.Context, c *model.AlternativeCandidate) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO alternatives (category_id, original_key, alternative_key, alternative_name,
		 price, rating, priority, active) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		c.CategoryID, c.OriginalKey, c.AlternativeKey, c.AlternativeName,
		c.Price, c.Rating, c.Priority, c.Active,
	).Scan(&c.ID)
	return eris.Wrapf(err, "postgres: insert alternative %s", c.AlternativeKey)
}

func (s *PostgresStore) ListCandidates(ctx context.Context, originalKey, componentType string) ([]model.AlternativeCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.category_id, a.original_key, a.alternative_key, a.alternative_name,
		 a.price, a.rating, a.priority, a.active, a.price_checked_at, COALESCE(c.component_type, '')
		 FROM alternatives a
		 LEFT JOIN alternative_categories c ON c.id = a.category_id
		 WHERE a.active
		   AND (($1 <> '' AND a.original_key = $1) OR ($2 <> '' AND c.component_type = $2))
		 ORDER BY a.priority ASC, a.price ASC NULLS LAST, a.id ASC`,
		originalKey, componentType,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alternatives")
	}
	defer rows.Close()

	var out []model.AlternativeCandidate
	for rows.Next() {
		var c model.AlternativeCandidate
		if err := rows.Scan(&c.ID, &c.CategoryID, &c.OriginalKey, &c.AlternativeKey,
			&c.AlternativeName, &c.Price, &c.Rating, &c.Priority, &c.Active,
			&c.PriceCheckedAt, &c.ComponentType); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alternative")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list alternatives iterate")
}

func (s *PostgresStore) UpdateCandidatePrice(ctx context.Context, id int64, price float64, rating *float64, checkedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alternatives SET price = $1, rating = COALESCE($2, rating), price_checked_at = $3
		 WHERE id = $4`,
		price, rating, checkedAt, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update alternative price %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "alternative %d", id)
	}
	return nil
}

func (s *PostgresStore) StartJobRun(ctx context.Context, job, trigger string) (*model.JobRun, error) {
	run := &model.JobRun{
		ID:        uuid.New().String(),
		Job:       job,
		Status:    model.JobRunRunning,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_runs (id, job, status, trigger, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Job, string(run.Status), run.Trigger, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: start job run %s", job)
	}
	return run, nil
}

func (s *PostgresStore) FinishJobRun(ctx context.Context, id string, status model.JobRunStatus, summary json.RawMessage, errMsg string) error {
	var summaryArg any
	if len(summary) > 0 {
		summaryArg = []byte(summary)
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE job_runs SET status = $1, completed_at = $2, summary = $3, error = $4 WHERE id = $5`,
		string(status), time.Now().UTC(), summaryArg, errMsg, id,
	)
	return eris.Wrapf(err, "postgres: finish job run %s", id)
}

func (s *PostgresStore) LatestJobRuns(ctx context.Context) ([]model.JobRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (job) id, job, status, trigger, started_at, completed_at, summary, error
		 FROM job_runs ORDER BY job, started_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest job runs")
	}
	defer rows.Close()

	var runs []model.JobRun
	for rows.Next() {
		var (
			r       model.JobRun
			status  string
			summary []byte
		)
		if err := rows.Scan(&r.ID, &r.Job, &status, &r.Trigger, &r.StartedAt,
			&r.CompletedAt, &summary, &r.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job run")
		}
		r.Status = model.JobRunStatus(status)
		if len(summary) > 0 {
			r.Summary = json.RawMessage(summary)
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: latest job runs iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (*model.Item, error) {
	var (
		item model.Item
		tier string
	)
	if err := row.Scan(&item.ID, &item.Name, &item.ComponentType, &item.BuildID,
		&item.ExternalKey, &item.Price, &item.OriginalPrice, &tier, &item.PriceSource,
		&item.PriceUpdatedAt, &item.CacheExpiresAt, &item.Substituted,
		&item.SubstitutionReason, &item.OriginalExternalKey, &item.AlternativeQuery); err != nil {
		return nil, err
	}
	item.Tier = model.Tier(tier)
	return &item, nil
}
