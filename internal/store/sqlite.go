package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/saribumi/brandreach/internal/model"
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS brands (
	id            TEXT PRIMARY KEY,
	key           TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL,
	summary       TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	size_tier     TEXT NOT NULL DEFAULT 'unknown',
	mentions      TEXT NOT NULL DEFAULT '[]',
	source_id     TEXT NOT NULL DEFAULT '',
	discovered_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
	id            TEXT PRIMARY KEY,
	brand_key     TEXT NOT NULL REFERENCES brands(key),
	channel       TEXT NOT NULL,
	raw           TEXT NOT NULL,
	normalized    TEXT NOT NULL,
	verdict       TEXT NOT NULL,
	confidence    REAL NOT NULL,
	discovered_at DATETIME NOT NULL,
	UNIQUE(brand_key, channel, normalized)
);

CREATE TABLE IF NOT EXISTS outreach_log (
	id            TEXT PRIMARY KEY,
	contact_id    TEXT NOT NULL REFERENCES contacts(id),
	attempt       INTEGER NOT NULL,
	template_id   TEXT NOT NULL,
	body          TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	error_detail  TEXT NOT NULL DEFAULT '',
	dispatched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS search_history (
	id           TEXT PRIMARY KEY,
	query        TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	result_count INTEGER NOT NULL,
	searched_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_brands_discovered_at ON brands(discovered_at);
CREATE INDEX IF NOT EXISTS idx_contacts_brand_key ON contacts(brand_key);
CREATE INDEX IF NOT EXISTS idx_outreach_log_contact_id ON outreach_log(contact_id);
CREATE INDEX IF NOT EXISTS idx_outreach_log_dispatched_at ON outreach_log(dispatched_at);
CREATE INDEX IF NOT EXISTS idx_search_history_searched_at ON search_history(searched_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertBrand(ctx context.Context, b model.Brand) (*model.Brand, error) {
	if b.Key == "" {
		b.Key = model.BrandKey(b.DisplayName)
	}
	if b.DiscoveredAt.IsZero() {
		b.DiscoveredAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin upsert brand")
	}
	defer tx.Rollback()

	existing, err := scanBrand(tx.QueryRowContext(ctx, selectBrandSQL+` WHERE key = ?`, b.Key))
	if err != nil {
		return nil, err
	}

	var out model.Brand
	if existing == nil {
		out = b
		out.ID = uuid.New().String()
		mentionsJSON, err := json.Marshal(out.Mentions)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal mentions")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO brands (id, key, display_name, summary, url, category, size_tier, mentions, source_id, discovered_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			out.ID, out.Key, out.DisplayName, out.Summary, out.URL, string(out.Category),
			string(sizeOrUnknown(out.SizeTier)), string(mentionsJSON), out.SourceID, out.DiscoveredAt,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert brand %s", out.Key)
		}
	} else {
		out = mergeBrand(*existing, b)
		mentionsJSON, err := json.Marshal(out.Mentions)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal mentions")
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE brands SET display_name = ?, summary = ?, url = ?, category = ?, size_tier = ?, mentions = ? WHERE key = ?`,
			out.DisplayName, out.Summary, out.URL, string(out.Category),
			string(sizeOrUnknown(out.SizeTier)), string(mentionsJSON), out.Key,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: update brand %s", out.Key)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit upsert brand")
	}
	out.SizeTier = sizeOrUnknown(out.SizeTier)
	return &out, nil
}

func (s *SQLiteStore) GetBrand(ctx context.Context, key string) (*model.Brand, error) {
	return scanBrand(s.db.QueryRowContext(ctx, selectBrandSQL+` WHERE key = ?`, key))
}

func (s *SQLiteStore) FindBrand(ctx context.Context, nameOrURL string) (*model.Brand, error) {
	return scanBrand(s.db.QueryRowContext(ctx,
		selectBrandSQL+` WHERE key = ? OR url = ? LIMIT 1`,
		model.BrandKey(nameOrURL), nameOrURL,
	))
}

func (s *SQLiteStore) ListBrands(ctx context.Context, limit, offset int) ([]model.Brand, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		selectBrandSQL+` ORDER BY discovered_at DESC, key ASC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list brands")
	}
	defer rows.Close()

	var brands []model.Brand
	for rows.Next() {
		b, err := scanBrand(rows)
		if err != nil {
			return nil, err
		}
		brands = append(brands, *b)
	}
	return brands, eris.Wrap(rows.Err(), "sqlite: list brands iterate")
}

func (s *SQLiteStore) SetBrandClassification(ctx context.Context, key string, category model.Category, tier model.SizeTier) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE brands SET category = ?, size_tier = ? WHERE key = ?`,
		string(category), string(sizeOrUnknown(tier)), key,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: classify brand %s", key)
	}
	return checkRowsAffected(res, "brand", key)
}

func (s *SQLiteStore) UpsertContact(ctx context.Context, c model.Contact) (*model.Contact, error) {
	if c.DiscoveredAt.IsZero() {
		c.DiscoveredAt = time.Now().UTC()
	}
	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, brand_key, channel, raw, normalized, verdict, confidence, discovered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(brand_key, channel, normalized) DO UPDATE SET
			raw = excluded.raw,
			verdict = excluded.verdict,
			confidence = excluded.confidence`,
		id, c.BrandKey, string(c.Channel), c.Raw, c.Normalized, string(c.Verdict), c.Confidence, c.DiscoveredAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert contact %s/%s", c.BrandKey, c.Normalized)
	}

	// Read back so rediscovery returns the stored row's original ID.
	return scanContact(s.db.QueryRowContext(ctx,
		selectContactSQL+` WHERE brand_key = ? AND channel = ? AND normalized = ?`,
		c.BrandKey, string(c.Channel), c.Normalized,
	))
}

func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	return scanContact(s.db.QueryRowContext(ctx, selectContactSQL+` WHERE id = ?`, id))
}

func (s *SQLiteStore) ContactsForBrand(ctx context.Context, brandKey string) ([]model.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		selectContactSQL+` WHERE brand_key = ? ORDER BY channel ASC, normalized ASC`,
		brandKey,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: contacts for brand %s", brandKey)
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, eris.Wrap(rows.Err(), "sqlite: contacts iterate")
}

func (s *SQLiteStore) PendingContacts(ctx context.Context, channel model.Channel, limit int, cooldown time.Duration) ([]PendingContact, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-cooldown)

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.brand_key, c.channel, c.raw, c.normalized, c.verdict, c.confidence, c.discovered_at,
			(SELECT COUNT(*) FROM outreach_log f
			 WHERE f.contact_id = c.id AND f.outcome = 'failed'
			   AND f.dispatched_at > COALESCE(
				(SELECT MAX(s.dispatched_at) FROM outreach_log s WHERE s.contact_id = c.id AND s.outcome = 'sent'),
				'0001-01-01')),
			(SELECT MAX(f.dispatched_at) FROM outreach_log f
			 WHERE f.contact_id = c.id AND f.outcome = 'failed')
		 FROM contacts c
		 WHERE c.verdict = 'valid' AND c.channel = ?
		   AND NOT EXISTS (
			SELECT 1 FROM outreach_log o
			WHERE o.contact_id = c.id AND o.outcome = 'sent' AND o.dispatched_at > ?)
		 ORDER BY c.discovered_at ASC, c.id ASC
		 LIMIT ?`,
		string(channel), cutoff, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending contacts")
	}
	defer rows.Close()

	var pending []PendingContact
	for rows.Next() {
		var p PendingContact
		var channelStr, verdictStr string
		var lastFailed sql.NullString
		err := rows.Scan(&p.ID, &p.BrandKey, &channelStr, &p.Raw, &p.Normalized, &verdictStr,
			&p.Confidence, &p.DiscoveredAt, &p.FailuresSinceSent, &lastFailed)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending contact")
		}
		p.Channel = model.Channel(channelStr)
		p.Verdict = model.Verdict(verdictStr)
		if lastFailed.Valid {
			t, err := parseSQLiteTime(lastFailed.String)
			if err != nil {
				return nil, err
			}
			p.LastFailedAt = &t
		}
		pending = append(pending, p)
	}
	return pending, eris.Wrap(rows.Err(), "sqlite: pending contacts iterate")
}

func (s *SQLiteStore) AppendOutreach(ctx context.Context, rec model.OutreachRecord) (*model.OutreachRecord, error) {
	rec.ID = uuid.New().String()
	if rec.DispatchedAt.IsZero() {
		rec.DispatchedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin append outreach")
	}
	defer tx.Rollback()

	if rec.Attempt <= 0 {
		row := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(attempt), 0) + 1 FROM outreach_log WHERE contact_id = ?`,
			rec.ContactID,
		)
		if err := row.Scan(&rec.Attempt); err != nil {
			return nil, eris.Wrap(err, "sqlite: next attempt")
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outreach_log (id, contact_id, attempt, template_id, body, outcome, error_detail, dispatched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ContactID, rec.Attempt, rec.TemplateID, rec.Body, string(rec.Outcome), rec.ErrorDetail, rec.DispatchedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert outreach for contact %s", rec.ContactID)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit append outreach")
	}
	return &rec, nil
}

func (s *SQLiteStore) SentWithin(ctx context.Context, contactID string, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window)
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM outreach_log
			WHERE contact_id = ? AND outcome = 'sent' AND dispatched_at > ?)`,
		contactID, cutoff,
	).Scan(&exists)
	return exists, eris.Wrapf(err, "sqlite: sent within for contact %s", contactID)
}

func (s *SQLiteStore) OutreachHistory(ctx context.Context, contactID string, limit int) ([]model.OutreachRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contact_id, attempt, template_id, body, outcome, error_detail, dispatched_at
		 FROM outreach_log
		 WHERE contact_id = ?
		 ORDER BY dispatched_at DESC, attempt DESC
		 LIMIT ?`,
		contactID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: outreach history for contact %s", contactID)
	}
	defer rows.Close()

	var records []model.OutreachRecord
	for rows.Next() {
		var rec model.OutreachRecord
		var outcome string
		err := rows.Scan(&rec.ID, &rec.ContactID, &rec.Attempt, &rec.TemplateID, &rec.Body,
			&outcome, &rec.ErrorDetail, &rec.DispatchedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outreach record")
		}
		rec.Outcome = model.Outcome(outcome)
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: outreach history iterate")
}

func (s *SQLiteStore) AppendSearch(ctx context.Context, q model.SearchQuery) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.SearchedAt.IsZero() {
		q.SearchedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_history (id, query, source_id, result_count, searched_at) VALUES (?, ?, ?, ?, ?)`,
		q.ID, q.Query, q.SourceID, q.ResultCount, q.SearchedAt,
	)
	return eris.Wrapf(err, "sqlite: append search %q", q.Query)
}

func (s *SQLiteStore) Snapshot(ctx context.Context) ([]model.SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx,
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
		return nil, eris.Wrap(err, "sqlite: snapshot")
	}
	defer rows.Close()

	var snapshot []model.SnapshotRow
	for rows.Next() {
		var r model.SnapshotRow
		err := rows.Scan(&r.BrandName, &r.Category, &r.SizeTier, &r.Channel,
			&r.NormalizedValue, &r.Verdict, &r.Confidence, &r.LastOutcome)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot row")
		}
		snapshot = append(snapshot, r)
	}
	return snapshot, eris.Wrap(rows.Err(), "sqlite: snapshot iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
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
		{`SELECT COUNT(*) FROM brands WHERE discovered_at > ?`,
			[]any{time.Now().UTC().Add(-7 * 24 * time.Hour)}, &stats.RecentBrands},
	}
	for _, sc := range scalars {
		if err := s.db.QueryRowContext(ctx, sc.query, sc.args...).Scan(sc.dest); err != nil {
			return nil, eris.Wrap(err, "sqlite: stats scalar")
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
		rows, err := s.db.QueryContext(ctx, g.query)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: stats group")
		}
		for rows.Next() {
			var label string
			var count int
			if err := rows.Scan(&label, &count); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "sqlite: scan stats group")
			}
			g.dest[label] = count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: stats group iterate")
		}
		rows.Close()
	}

	return stats, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	total := 0
	for _, stmt := range []string{
		`DELETE FROM outreach_log WHERE dispatched_at <= ?`,
		`DELETE FROM search_history WHERE searched_at <= ?`,
	} {
		res, err := s.db.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return total, eris.Wrap(err, "sqlite: purge")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, eris.Wrap(err, "sqlite: purge rows affected")
		}
		total += int(n)
	}
	return total, nil
}

// helpers

const selectBrandSQL = `SELECT id, key, display_name, summary, url, category, size_tier, mentions, source_id, discovered_at FROM brands`

const selectContactSQL = `SELECT id, brand_key, channel, raw, normalized, verdict, confidence, discovered_at FROM contacts`

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// parseSQLiteTime decodes a timestamp that came back through an aggregate
// expression, where the driver no longer knows the column type and returns
// raw text.
func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("sqlite: unparseable timestamp %q", s)
}

func sizeOrUnknown(t model.SizeTier) model.SizeTier {
	if t == "" {
		return model.SizeUnknown
	}
	return t
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBrand(row scannable) (*model.Brand, error) {
	var b model.Brand
	var category, sizeTier, mentionsJSON string

	err := row.Scan(&b.ID, &b.Key, &b.DisplayName, &b.Summary, &b.URL, &category,
		&sizeTier, &mentionsJSON, &b.SourceID, &b.DiscoveredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan brand")
	}
	b.Category = model.Category(category)
	b.SizeTier = model.SizeTier(sizeTier)
	if err := json.Unmarshal([]byte(mentionsJSON), &b.Mentions); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal mentions")
	}
	return &b, nil
}

func scanContact(row scannable) (*model.Contact, error) {
	var c model.Contact
	var channel, verdict string

	err := row.Scan(&c.ID, &c.BrandKey, &channel, &c.Raw, &c.Normalized, &verdict, &c.Confidence, &c.DiscoveredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan contact")
	}
	c.Channel = model.Channel(channel)
	c.Verdict = model.Verdict(verdict)
	return &c, nil
}
