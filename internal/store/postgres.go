package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/saribumi/brandreach/internal/db"
	"github.com/saribumi/brandreach/internal/model"
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

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"upsert_contact": `INSERT INTO contacts (id, brand_key, channel, raw, normalized, verdict, confidence, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (brand_key, channel, normalized) DO UPDATE SET
			raw = excluded.raw, verdict = excluded.verdict, confidence = excluded.confidence`,
	"insert_outreach": `INSERT INTO outreach_log (id, contact_id, attempt, template_id, body, outcome, error_detail, dispatched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"sent_within": `SELECT EXISTS(SELECT 1 FROM outreach_log WHERE contact_id = $1 AND outcome = 'sent' AND dispatched_at > $2)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS brands (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	key           TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL,
	summary       TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	size_tier     TEXT NOT NULL DEFAULT 'unknown',
	mentions      JSONB NOT NULL DEFAULT '[]',
	source_id     TEXT NOT NULL DEFAULT '',
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contacts (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	brand_key     TEXT NOT NULL REFERENCES brands(key),
	channel       TEXT NOT NULL,
	raw           TEXT NOT NULL,
	normalized    TEXT NOT NULL,
	verdict       TEXT NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(brand_key, channel, normalized)
);

CREATE TABLE IF NOT EXISTS outreach_log (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	contact_id    TEXT NOT NULL REFERENCES contacts(id),
	attempt       INTEGER NOT NULL,
	template_id   TEXT NOT NULL,
	body          TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	error_detail  TEXT NOT NULL DEFAULT '',
	dispatched_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS search_history (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	query        TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	result_count INTEGER NOT NULL,
	searched_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_brands_discovered_at ON brands(discovered_at);
CREATE INDEX IF NOT EXISTS idx_contacts_brand_key ON contacts(brand_key);
CREATE INDEX IF NOT EXISTS idx_outreach_log_contact_id ON outreach_log(contact_id);
CREATE INDEX IF NOT EXISTS idx_outreach_log_dispatched_at ON outreach_log(dispatched_at);
CREATE INDEX IF NOT EXISTS idx_search_history_searched_at ON search_history(searched_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgSelectBrand = `SELECT id, key, display_name, summary, url, category, size_tier, mentions, source_id, discovered_at FROM brands`

const pgSelectContact = `SELECT id, brand_key, channel, raw, normalized, verdict, confidence, discovered_at FROM contacts`

func (s *PostgresStore) UpsertBrand(ctx context.Context, b model.Brand) (*model.Brand, error) {
	if b.Key == "" {
		b.Key = model.BrandKey(b.DisplayName)
	}
	if b.DiscoveredAt.IsZero() {
		b.DiscoveredAt = time.Now().UTC()
	}

	mentionsJSON, err := json.Marshal(b.Mentions)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal mentions")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin upsert brand")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Insert first: DO NOTHING makes a lost race against a concurrent
	// first discovery of the same key land on the merge path instead of
	// a unique violation.
	id := uuid.New().String()
	tag, err := tx.Exec(ctx,
		`INSERT INTO brands (id, key, display_name, summary, url, category, size_tier, mentions, source_id, discovered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (key) DO NOTHING`,
		id, b.Key, b.DisplayName, b.Summary, b.URL, string(b.Category),
		string(sizeOrUnknown(b.SizeTier)), mentionsJSON, b.SourceID, b.DiscoveredAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert brand %s", b.Key)
	}

	var out model.Brand
	if tag.RowsAffected() == 1 {
		out = b
		out.ID = id
	} else {
		existing, err := scanPgBrand(tx.QueryRow(ctx, pgSelectBrand+` WHERE key = $1 FOR UPDATE`, b.Key))
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, eris.Errorf("postgres: brand %s not visible after conflicting insert", b.Key)
		}
		out = mergeBrand(*existing, b)
		mergedJSON, err := json.Marshal(out.Mentions)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal mentions")
		}
		_, err = tx.Exec(ctx,
			`UPDATE brands SET display_name = $1, summary = $2, url = $3, category = $4, size_tier = $5, mentions = $6 WHERE key = $7`,
			out.DisplayName, out.Summary, out.URL, string(out.Category),
			string(sizeOrUnknown(out.SizeTier)), mergedJSON, out.Key,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: update brand %s", out.Key)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit upsert brand")
	}
	out.SizeTier = sizeOrUnknown(out.SizeTier)
	return &out, nil
}

func (s *PostgresStore) GetBrand(ctx context.Context, key string) (*model.Brand, error) {
	return scanPgBrand(s.pool.QueryRow(ctx, pgSelectBrand+` WHERE key = $1`, key))
}

func (s *PostgresStore) FindBrand(ctx context.Context, nameOrURL string) (*model.Brand, error) {
	return scanPgBrand(s.pool.QueryRow(ctx,
		pgSelectBrand+` WHERE key = $1 OR url = $2 LIMIT 1`,
		model.BrandKey(nameOrURL), nameOrURL,
	))
}

func (s *PostgresStore) ListBrands(ctx context.Context, limit, offset int) ([]model.Brand, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		pgSelectBrand+` ORDER BY discovered_at DESC, key ASC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list brands")
	}
	defer rows.Close()

	var brands []model.Brand
	for rows.Next() {
		b, err := scanPgBrand(rows)
		if err != nil {
			return nil, err
		}
		brands = append(brands, *b)
	}
	return brands, eris.Wrap(rows.Err(), "postgres: list brands iterate")
}

func (s *PostgresStore) SetBrandClassification(ctx context.Context, key string, category model.Category, tier model.SizeTier) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE brands SET category = $1, size_tier = $2 WHERE key = $3`,
		string(category), string(sizeOrUnknown(tier)), key,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: classify brand %s", key)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("brand not found: %s", key)
	}
	return nil
}

func (s *PostgresStore) UpsertContact(ctx context.Context, c model.Contact) (*model.Contact, error) {
	if c.DiscoveredAt.IsZero() {
		c.DiscoveredAt = time.Now().UTC()
	}
	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx, preparedStatements["upsert_contact"],
		id, c.BrandKey, string(c.Channel), c.Raw, c.Normalized, string(c.Verdict), c.Confidence, c.DiscoveredAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert contact %s/%s", c.BrandKey, c.Normalized)
	}

	return scanPgContact(s.pool.QueryRow(ctx,
		pgSelectContact+` WHERE brand_key = $1 AND channel = $2 AND normalized = $3`,
		c.BrandKey, string(c.Channel), c.Normalized,
	))
}

func (s *PostgresStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	return scanPgContact(s.pool.QueryRow(ctx, pgSelectContact+` WHERE id = $1`, id))
}

func (s *PostgresStore) ContactsForBrand(ctx context.Context, brandKey string) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx,
		pgSelectContact+` WHERE brand_key = $1 ORDER BY channel ASC, normalized ASC`,
		brandKey,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: contacts for brand %s", brandKey)
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		c, err := scanPgContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, eris.Wrap(rows.Err(), "postgres: contacts iterate")
}

func (s *PostgresStore) PendingContacts(ctx context.Context, channel model.Channel, limit int, cooldown time.Duration) ([]PendingContact, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-cooldown)

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.brand_key, c.channel, c.raw, c.normalized, c.verdict, c.confidence, c.discovered_at,
			(SELECT COUNT(*) FROM outreach_log f
			 WHERE f.contact_id = c.id AND f.outcome = 'failed'
			   AND f.dispatched_at > COALESCE(
				(SELECT MAX(s.dispatched_at) FROM outreach_log s WHERE s.contact_id = c.id AND s.outcome = 'sent'),
				'-infinity'::timestamptz)),
			(SELECT MAX(f.dispatched_at) FROM outreach_log f
			 WHERE f.contact_id = c.id AND f.outcome = 'failed')
		 FROM contacts c
		 WHERE c.verdict = 'valid' AND c.channel = $1
		   AND NOT EXISTS (
			SELECT 1 FROM outreach_log o
			WHERE o.contact_id = c.id AND o.outcome = 'sent' AND o.dispatched_at > $2)
		 ORDER BY c.discovered_at ASC, c.id ASC
		 LIMIT $3`,
		string(channel), cutoff, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending contacts")
	}
	defer rows.Close()

	var pending []PendingContact
	for rows.Next() {
		var p PendingContact
		var channelStr, verdictStr string
		var failures int64
		var lastFailed *time.Time
		err := rows.Scan(&p.ID, &p.BrandKey, &channelStr, &p.Raw, &p.Normalized, &verdictStr,
			&p.Confidence, &p.DiscoveredAt, &failures, &lastFailed)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending contact")
		}
		p.Channel = model.Channel(channelStr)
		p.Verdict = model.Verdict(verdictStr)
		p.FailuresSinceSent = int(failures)
		p.LastFailedAt = lastFailed
		pending = append(pending, p)
	}
	return pending, eris.Wrap(rows.Err(), "postgres: pending contacts iterate")
}

func (s *PostgresStore) AppendOutreach(ctx context.Context, rec model.OutreachRecord) (*model.OutreachRecord, error) {
	rec.ID = uuid.New().String()
	if rec.DispatchedAt.IsZero() {
		rec.DispatchedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin append outreach")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if rec.Attempt <= 0 {
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(attempt), 0) + 1 FROM outreach_log WHERE contact_id = $1`,
			rec.ContactID,
		).Scan(&rec.Attempt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: next attempt")
		}
	}

	_, err = tx.Exec(ctx, preparedStatements["insert_outreach"],
		rec.ID, rec.ContactID, rec.Attempt, rec.TemplateID, rec.Body, string(rec.Outcome), rec.ErrorDetail, rec.DispatchedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert outreach for contact %s", rec.ContactID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit append outreach")
	}
	return &rec, nil
}

func (s *PostgresStore) SentWithin(ctx context.Context, contactID string, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window)
	var exists bool
	err := s.pool.QueryRow(ctx, preparedStatements["sent_within"], contactID, cutoff).Scan(&exists)
	return exists, eris.Wrapf(err, "postgres: sent within for contact %s", contactID)
}

func (s *PostgresStore) OutreachHistory(ctx context.Context, contactID string, limit int) ([]model.OutreachRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, contact_id, attempt, template_id, body, outcome, error_detail, dispatched_at
		 FROM outreach_log
		 WHERE contact_id = $1
		 ORDER BY dispatched_at DESC, attempt DESC
		 LIMIT $2`,
		contactID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: outreach history for contact %s", contactID)
	}
	defer rows.Close()

	var records []model.OutreachRecord
	for rows.Next() {
		var rec model.OutreachRecord
		var outcome string
		err := rows.Scan(&rec.ID, &rec.ContactID, &rec.Attempt, &rec.TemplateID, &rec.Body,
			&outcome, &rec.ErrorDetail, &rec.DispatchedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan outreach record")
		}
		rec.Outcome = model.Outcome(outcome)
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: outreach history iterate")
}

func (s *PostgresStore) AppendSearch(ctx context.Context, q model.SearchQuery) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.SearchedAt.IsZero() {
		q.SearchedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_history (id, query, source_id, result_count, searched_at) VALUES ($1, $2, $3, $4, $5)`,
		q.ID, q.Query, q.SourceID, q.ResultCount, q.SearchedAt,
	)
	return eris.Wrapf(err, "postgres: append search %q", q.Query)
}

func (s *PostgresStore) Snapshot(ctx context.Context) ([]model.SnapshotRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT b.display_name, b.category, b.size_tier, c.channel, c.normalized, c.verdict, c.confidence,
			COALESCE((
				SELECT o.outcome FROM outreach_log o
				WHERE o.contact_id = c.id
				ORDER BY o.dispatched_at DESC, o.attempt DESC
				LIMIT 1), '')
		 FROM contacts c
		 JOIN brands b ON b.key = c.brand_key
		 ORDER BY b.display_name ASC, c.channel ASC, c.normalized ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot")
	}
	defer rows.Close()

	var snapshot []model.SnapshotRow
	for rows.Next() {
		var r model.SnapshotRow
		err := rows.Scan(&r.BrandName, &r.Category, &r.SizeTier, &r.Channel,
			&r.NormalizedValue, &r.Verdict, &r.Confidence, &r.LastOutcome)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot row")
		}
		snapshot = append(snapshot, r)
	}
	return snapshot, eris.Wrap(rows.Err(), "postgres: snapshot iterate")
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{
		BrandsByCategory:  map[string]int{},
		BrandsBySizeTier:  map[string]int{},
		ContactsByChannel: map[string]int{},
		OutreachByOutcome: map[string]int{},
	}

	scalars := []struct {
		query string
		args  []any
		dest  *int
	}{
		{`SELECT COUNT(*) FROM brands`, nil, &stats.TotalBrands},
		{`SELECT COUNT(*) FROM contacts`, nil, &stats.TotalContacts},
		{`SELECT COUNT(*) FROM search_history`, nil, &stats.TotalSearches},
		{`SELECT COUNT(*) FROM brands WHERE discovered_at > $1`,
			[]any{time.Now().UTC().Add(-7 * 24 * time.Hour)}, &stats.RecentBrands},
	}
	for _, sc := range scalars {
		if err := s.pool.QueryRow(ctx, sc.query, sc.args...).Scan(sc.dest); err != nil {
			return nil, eris.Wrap(err, "postgres: stats scalar")
		}
	}

	groups := []struct {
		query string
		dest  map[string]int
	}{
		{`SELECT category, COUNT(*) FROM brands WHERE category != '' GROUP BY category`, stats.BrandsByCategory},
		{`SELECT size_tier, COUNT(*) FROM brands GROUP BY size_tier`, stats.BrandsBySizeTier},
		{`SELECT channel, COUNT(*) FROM contacts GROUP BY channel`, stats.ContactsByChannel},
		{`SELECT outcome, COUNT(*) FROM outreach_log GROUP BY outcome`, stats.OutreachByOutcome},
	}
	for _, g := range groups {
		rows, err := s.pool.Query(ctx, g.query)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: stats group")
		}
		for rows.Next() {
			var label string
			var count int64
			if err := rows.Scan(&label, &count); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "postgres: scan stats group")
			}
			g.dest[label] = int(count)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: stats group iterate")
		}
		rows.Close()
	}

	return stats, nil
}

func (s *PostgresStore) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	total := 0
	for _, stmt := range []string{
		`DELETE FROM outreach_log WHERE dispatched_at <= $1`,
		`DELETE FROM search_history WHERE searched_at <= $1`,
	} {
		tag, err := s.pool.Exec(ctx, stmt, cutoff)
		if err != nil {
			return total, eris.Wrap(err, "postgres: purge")
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}

// helpers

type pgScannable interface {
	Scan(dest ...any) error
}

func scanPgBrand(row pgScannable) (*model.Brand, error) {
	var b model.Brand
	var category, sizeTier string
	var mentionsJSON []byte

	err := row.Scan(&b.ID, &b.Key, &b.DisplayName, &b.Summary, &b.URL, &category,
		&sizeTier, &mentionsJSON, &b.SourceID, &b.DiscoveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan brand")
	}
	b.Category = model.Category(category)
	b.SizeTier = model.SizeTier(sizeTier)
	if err := json.Unmarshal(mentionsJSON, &b.Mentions); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal mentions")
	}
	return &b, nil
}

func scanPgContact(row pgScannable) (*model.Contact, error) {
	var c model.Contact
	var channel, verdict string

	err := row.Scan(&c.ID, &c.BrandKey, &channel, &c.Raw, &c.Normalized, &verdict, &c.Confidence, &c.DiscoveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan contact")
	}
	c.Channel = model.Channel(channel)
	c.Verdict = model.Verdict(verdict)
	return &c, nil
}
