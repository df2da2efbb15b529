package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/mossy-p/jam-signaling/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS musicians (
	id         INTEGER PRIMARY KEY,
	name       TEXT,
	updated_by TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS bands (
	id         INTEGER PRIMARY KEY,
	name       TEXT,
	updated_by TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS band_members (
	group_id    INTEGER NOT NULL REFERENCES bands(id) ON DELETE CASCADE,
	musician_id INTEGER NOT NULL REFERENCES musicians(id),
	position    INTEGER NOT NULL,
	PRIMARY KEY (group_id, musician_id)
);
CREATE TABLE IF NOT EXISTS sessions (
	id         INTEGER PRIMARY KEY,
	name       TEXT,
	updated_by TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS session_members (
	group_id    INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	musician_id INTEGER NOT NULL REFERENCES musicians(id),
	position    INTEGER NOT NULL,
	PRIMARY KEY (group_id, musician_id)
);`

// groupTables names the record and membership tables of bands or sessions.
type groupTables struct {
	records string
	members string
}

var (
	bandTables    = groupTables{records: "bands", members: "band_members"}
	sessionTables = groupTables{records: "sessions", members: "session_members"}
)

// groupRecord is the shape shared by bands and sessions.
type groupRecord struct {
	ID        int32
	Name      *string
	Members   []models.Musician
	UpdatedBy string
	UpdatedAt time.Time
}

// Postgres stores records relationally; band and session membership lives in
// join tables that keep member order.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects and creates the tables if needed.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "create tables")
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) GetMusician(ctx context.Context, id int32) (*models.Musician, error) {
	var m models.Musician
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, updated_by, updated_at FROM musicians WHERE id = $1`, id,
	).Scan(&m.ID, &m.Name, &m.UpdatedBy, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get musician %d", id)
	}
	return &m, nil
}

func (p *Postgres) PutMusician(ctx context.Context, m *models.Musician) error {
	_, err := p.pool.Exec(ctx, upsertMusician, m.ID, m.Name, m.UpdatedBy, m.UpdatedAt)
	return errors.Wrapf(err, "put musician %d", m.ID)
}

const upsertMusician = `
INSERT INTO musicians (id, name, updated_by, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`

func (p *Postgres) getGroup(ctx context.Context, t groupTables, id int32) (*groupRecord, error) {
	g := groupRecord{Members: []models.Musician{}}
	err := p.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, name, updated_by, updated_at FROM %s WHERE id = $1`, t.records), id,
	).Scan(&g.ID, &g.Name, &g.UpdatedBy, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s %d", t.records, id)
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT m.id, m.name, m.updated_by, m.updated_at
		FROM %s g JOIN musicians m ON m.id = g.musician_id
		WHERE g.group_id = $1 ORDER BY g.position`, t.members), id)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s %d", t.members, id)
	}
	defer rows.Close()
	for rows.Next() {
		var m models.Musician
		if err := rows.Scan(&m.ID, &m.Name, &m.UpdatedBy, &m.UpdatedAt); err != nil {
			return nil, errors.Wrapf(err, "scan %s %d", t.members, id)
		}
		g.Members = append(g.Members, m)
	}
	return &g, errors.Wrapf(rows.Err(), "read %s %d", t.members, id)
}

// putGroup replaces the record and its membership in one transaction.
func (p *Postgres) putGroup(ctx context.Context, t groupTables, g groupRecord) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, name, updated_by, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`,
		t.records), g.ID, g.Name, g.UpdatedBy, g.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "put %s %d", t.records, g.ID)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE group_id = $1`, t.members), g.ID); err != nil {
		return errors.Wrapf(err, "clear %s %d", t.members, g.ID)
	}

	batch := &pgx.Batch{}
	for i, m := range g.Members {
		batch.Queue(fmt.Sprintf(`INSERT INTO %s (group_id, musician_id, position) VALUES ($1, $2, $3)`, t.members),
			g.ID, m.ID, i)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "put %s %d", t.members, g.ID)
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

func (p *Postgres) GetBand(ctx context.Context, id int32) (*models.Band, error) {
	g, err := p.getGroup(ctx, bandTables, id)
	if err != nil {
		return nil, err
	}
	b := models.Band(*g)
	return &b, nil
}

func (p *Postgres) PutBand(ctx context.Context, b *models.Band) error {
	return p.putGroup(ctx, bandTables, groupRecord(*b))
}

func (p *Postgres) GetSession(ctx context.Context, id int32) (*models.Session, error) {
	g, err := p.getGroup(ctx, sessionTables, id)
	if err != nil {
		return nil, err
	}
	s := models.Session(*g)
	return &s, nil
}

func (p *Postgres) PutSession(ctx context.Context, s *models.Session) error {
	return p.putGroup(ctx, sessionTables, groupRecord(*s))
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
