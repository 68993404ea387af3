// Package ledger stores the fish data fishermen report after a catch.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/boristopalov/fishery/pkg/protocol"
)

// InMemory keeps the ledger for the life of the process only.
const InMemory = ":memory:"

// Ledger wraps a SQLite connection holding registered catches.
type Ledger struct {
	conn *sqlx.DB
}

// Entry is one registered catch.
type Entry struct {
	ID        int64     `db:"id"`
	Fisherman string    `db:"fisherman"`
	Species   string    `db:"species"`
	Size      float64   `db:"size"`
	Mass      float64   `db:"mass"`
	CaughtAt  time.Time `db:"caught_at"`
}

// Summary aggregates every registered catch.
type Summary struct {
	Count     int     `db:"count"`
	AvgSize   float64 `db:"avg_size"`
	TotalMass float64 `db:"total_mass"`
}

// SpeciesSummary aggregates catches of one species.
type SpeciesSummary struct {
	Species   string  `db:"species"`
	Count     int     `db:"count"`
	TotalMass float64 `db:"total_mass"`
}

// Open opens or creates a ledger at dsn. An empty dsn means InMemory.
func Open(dsn string) (*Ledger, error) {
	if dsn == "" {
		dsn = InMemory
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// each connection to :memory: is a separate database
	conn.SetMaxOpenConns(1)

	l := &Ledger{conn: conn}
	if err := l.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.conn.Close()
}

func (l *Ledger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS catches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fisherman TEXT NOT NULL,
		species TEXT NOT NULL,
		size REAL NOT NULL,
		mass REAL NOT NULL,
		caught_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_catches_species ON catches(species);
	`
	_, err := l.conn.Exec(schema)
	return err
}

// Record stores one catch reported by fisherman.
func (l *Ledger) Record(ctx context.Context, fisherman string, fd protocol.FishData) (int64, error) {
	caught := fd.Time
	if caught.IsZero() {
		caught = time.Now()
	}
	res, err := l.conn.ExecContext(ctx,
		`INSERT INTO catches (fisherman, species, size, mass, caught_at) VALUES (?, ?, ?, ?, ?)`,
		fisherman, fd.Species, fd.Size, fd.Mass, caught.UTC())
	if err != nil {
		return 0, fmt.Errorf("record catch: %w", err)
	}
	return res.LastInsertId()
}

// Summary returns totals over all catches. An empty ledger yields zeros.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	err := l.conn.GetContext(ctx, &s, `
		SELECT COUNT(*) AS count,
		       COALESCE(AVG(size), 0) AS avg_size,
		       COALESCE(SUM(mass), 0) AS total_mass
		FROM catches`)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize catches: %w", err)
	}
	return s, nil
}

// BySpecies returns per-species totals ordered by species name.
func (l *Ledger) BySpecies(ctx context.Context) ([]SpeciesSummary, error) {
	var out []SpeciesSummary
	err := l.conn.SelectContext(ctx, &out, `
		SELECT species, COUNT(*) AS count, COALESCE(SUM(mass), 0) AS total_mass
		FROM catches
		GROUP BY species
		ORDER BY species`)
	if err != nil {
		return nil, fmt.Errorf("summarize species: %w", err)
	}
	return out, nil
}

// Catches returns the catches of one fisherman, oldest first.
func (l *Ledger) Catches(ctx context.Context, fisherman string) ([]Entry, error) {
	var out []Entry
	err := l.conn.SelectContext(ctx, &out, `
		SELECT id, fisherman, species, size, mass, caught_at
		FROM catches
		WHERE fisherman = ?
		ORDER BY id`, fisherman)
	if err != nil {
		return nil, fmt.Errorf("load catches of %s: %w", fisherman, err)
	}
	return out, nil
}
