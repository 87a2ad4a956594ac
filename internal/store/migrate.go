package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration pairs the up and down SQL for one schema revision.
type Migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

// MigrationStatus is one row of the migration ledger: a known revision and
// whether it has been applied. AppliedAt is zero for pending revisions.
type MigrationStatus struct {
	ID        string
	Applied   bool
	AppliedAt time.Time
}

// Migrator runs the embedded Postgres schema migrations. Each revision
// executes in its own transaction together with its ledger bookkeeping, so
// a failing revision rolls back cleanly while earlier revisions stay
// applied. Failures surface as TransactionError like every other store
// write.
type Migrator struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrator loads the embedded revisions and binds them to db. A nil
// logger falls back to slog.Default().
func NewMigrator(db *sql.DB, logger *slog.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: migrator requires a database handle", ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}
	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, logger: logger, migrations: migrations}, nil
}

// Up applies pending revisions in order. steps <= 0 applies all. The
// returned IDs are the revisions that landed before any failure.
func (m *Migrator) Up(ctx context.Context, steps int) ([]string, error) {
	ledger, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	pending := []Migration{}
	for _, row := range ledger {
		if row.Applied {
			continue
		}
		if mig, ok := m.revision(row.ID); ok {
			pending = append(pending, mig)
		}
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	applied := []string{}
	for _, mig := range pending {
		if strings.TrimSpace(mig.UpSQL) == "" {
			return applied, &TransactionError{Op: "migrate.up", Err: fmt.Errorf("revision %s has no up script", mig.ID)}
		}
		start := time.Now()
		if err := m.runStep(ctx, "migrate.up", mig.ID, mig.UpSQL,
			`INSERT INTO schema_migrations (id) VALUES ($1)`); err != nil {
			return applied, err
		}
		m.logger.Info("migration applied", "id", mig.ID, "duration", time.Since(start))
		applied = append(applied, mig.ID)
	}
	return applied, nil
}

// Down rolls back the most recently applied revisions, newest first.
// steps <= 0 rolls back one.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	if steps <= 0 {
		steps = 1
	}
	ledger, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	applied := []MigrationStatus{}
	for _, row := range ledger {
		if row.Applied {
			applied = append(applied, row)
		}
	}
	if len(applied) == 0 {
		return nil, nil
	}
	if steps > len(applied) {
		steps = len(applied)
	}

	rolled := []string{}
	for i := len(applied) - 1; i >= len(applied)-steps; i-- {
		mig, ok := m.revision(applied[i].ID)
		if !ok {
			return rolled, &TransactionError{Op: "migrate.down", Err: fmt.Errorf("revision %s is recorded but not embedded", applied[i].ID)}
		}
		if strings.TrimSpace(mig.DownSQL) == "" {
			return rolled, &TransactionError{Op: "migrate.down", Err: fmt.Errorf("revision %s has no down script", mig.ID)}
		}
		if err := m.runStep(ctx, "migrate.down", mig.ID, mig.DownSQL,
			`DELETE FROM schema_migrations WHERE id = $1`); err != nil {
			return rolled, err
		}
		m.logger.Info("migration rolled back", "id", mig.ID)
		rolled = append(rolled, mig.ID)
	}
	return rolled, nil
}

// Status returns the full ledger: every embedded revision in order, then
// any recorded revision the binary no longer embeds, so schema drift is
// visible in one listing.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, `SELECT id, applied_at FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, &TransactionError{Op: "migrate.status", Err: err}
	}
	defer rows.Close()

	appliedAt := map[string]time.Time{}
	recorded := []string{}
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, &TransactionError{Op: "migrate.status", Err: err}
		}
		appliedAt[id] = at
		recorded = append(recorded, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &TransactionError{Op: "migrate.status", Err: err}
	}

	ledger := make([]MigrationStatus, 0, len(m.migrations))
	embedded := map[string]bool{}
	for _, mig := range m.migrations {
		embedded[mig.ID] = true
		at, ok := appliedAt[mig.ID]
		ledger = append(ledger, MigrationStatus{ID: mig.ID, Applied: ok, AppliedAt: at})
	}
	for _, id := range recorded {
		if !embedded[id] {
			ledger = append(ledger, MigrationStatus{ID: id, Applied: true, AppliedAt: appliedAt[id]})
		}
	}
	return ledger, nil
}

// ensureLedger creates the schema_migrations table on first use.
func (m *Migrator) ensureLedger(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return &TransactionError{Op: "migrate.ensure", Err: err}
	}
	return nil
}

// runStep executes one revision's SQL plus its ledger bookkeeping inside a
// single transaction.
func (m *Migrator) runStep(ctx context.Context, op, id, script, bookkeeping string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return &TransactionError{Op: op, Err: fmt.Errorf("begin %s: %w", id, err)}
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return &TransactionError{Op: op, Err: fmt.Errorf("%s: %w", id, err)}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, id); err != nil {
		_ = tx.Rollback()
		return &TransactionError{Op: op, Err: fmt.Errorf("record %s: %w", id, err)}
	}
	if err := tx.Commit(); err != nil {
		return &TransactionError{Op: op, Err: fmt.Errorf("commit %s: %w", id, err)}
	}
	return nil
}

func (m *Migrator) revision(id string) (Migration, bool) {
	for _, mig := range m.migrations {
		if mig.ID == id {
			return mig, true
		}
	}
	return Migration{}, false
}

// loadMigrations reads the embedded migrations directory and pairs
// NNNN_name.up.sql with NNNN_name.down.sql into ordered revisions.
func loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	byRevision := map[string]*Migration{}
	for _, entry := range entries {
		name := entry.Name()
		var id string
		var up bool
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			id, up = strings.TrimSuffix(name, ".up.sql"), true
		case strings.HasSuffix(name, ".down.sql"):
			id = strings.TrimSuffix(name, ".down.sql")
		default:
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		mig := byRevision[id]
		if mig == nil {
			mig = &Migration{ID: id}
			byRevision[id] = mig
		}
		if up {
			mig.UpSQL = string(data)
		} else {
			mig.DownSQL = string(data)
		}
	}

	ids := make([]string, 0, len(byRevision))
	for id := range byRevision {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	migrations := make([]Migration, 0, len(ids))
	for _, id := range ids {
		migrations = append(migrations, *byRevision[id])
	}
	return migrations, nil
}
