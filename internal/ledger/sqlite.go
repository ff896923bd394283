package ledger

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/ppiankov/warrant/internal/keys"
	"github.com/ppiankov/warrant/internal/model"

	// sqlite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps the ledger in a SQLite database. The schema rejects
// UPDATE and DELETE on ledger rows.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

type entryRow struct {
	Sequence           int64          `db:"sequence"`
	Timestamp          string         `db:"timestamp"`
	Verdict            string         `db:"verdict"`
	Actor              string         `db:"actor"`
	Action             string         `db:"action"`
	Tool               string         `db:"tool"`
	Resource           string         `db:"resource"`
	MatchedRelationIDs string         `db:"matched_relation_ids"`
	PolicyVersionHash  string         `db:"policy_version_hash"`
	TokenID            sql.NullString `db:"token_id"`
	PreviousHash       string         `db:"previous_hash"`
	ContentHash        string         `db:"content_hash"`
	Signature          string         `db:"signature"`
	KeyID              string         `db:"key_id"`
}

// OpenSQLiteStore opens (or creates) the database at path and runs the
// embedded migrations.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := runMigrations(ctx, path, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: sqlx.NewDb(db, "sqlite")}, nil
}

func runMigrations(ctx context.Context, dbFile string, db *sql.DB) error {
	migDriver, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("ledger: load migrations: %w", err)
	}
	defer migDriver.Close()

	driver, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("ledger: migration driver: %w", err)
	}
	mig, err := migrate.NewWithInstance("iofs", migDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("ledger: init migrations: %w", err)
	}

	// Serialize migrations across processes sharing the database.
	fileLock := flock.New(filepath.Join(filepath.Dir(dbFile), ".warrant-migration.lock"))
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := fileLock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("ledger: acquire migration lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("ledger: timeout waiting for migration lock")
	}
	defer fileLock.Unlock()

	version, dirty, err := mig.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("ledger: read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("ledger: database is in dirty state at version %d, manual intervention required", version)
	}
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ledger: run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, e Entry) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var count int64
	if err = tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM ledger_entries`); err != nil {
		return fmt.Errorf("ledger: count entries: %w", err)
	}
	if uint64(count) != e.Sequence {
		return fmt.Errorf("%w: got %d, want %d", ErrSequence, e.Sequence, count)
	}

	row, err := rowFromEntry(e)
	if err != nil {
		return err
	}
	const query = `INSERT INTO ledger_entries (
		sequence, timestamp, verdict, actor, action, tool, resource,
		matched_relation_ids, policy_version_hash, token_id,
		previous_hash, content_hash, signature, key_id
	) VALUES (
		:sequence, :timestamp, :verdict, :actor, :action, :tool, :resource,
		:matched_relation_ids, :policy_version_hash, :token_id,
		:previous_hash, :content_hash, :signature, :key_id
	)`
	if _, err = tx.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("ledger: insert entry %d: %w", e.Sequence, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit entry %d: %w", e.Sequence, err)
	}
	return nil
}

func (s *SQLiteStore) Last(ctx context.Context) (Entry, bool, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM ledger_entries ORDER BY sequence DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("ledger: read last entry: %w", err)
	}
	e, err := row.entry()
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *SQLiteStore) Range(ctx context.Context, from, to uint64) ([]Entry, error) {
	if from > to {
		return nil, nil
	}
	to = min(to, maxSequence)
	if from > maxSequence {
		return nil, nil
	}
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM ledger_entries WHERE sequence BETWEEN $1 AND $2 ORDER BY sequence`,
		int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("ledger: read entries: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func rowFromEntry(e Entry) (entryRow, error) {
	c := e.content()
	ids, err := json.Marshal(c.MatchedRelationIDs)
	if err != nil {
		return entryRow{}, fmt.Errorf("ledger: marshal matched relations: %w", err)
	}
	return entryRow{
		Sequence:           int64(e.Sequence),
		Timestamp:          c.Timestamp,
		Verdict:            c.Verdict,
		Actor:              c.Actor,
		Action:             c.Action,
		Tool:               c.Tool,
		Resource:           c.Resource,
		MatchedRelationIDs: string(ids),
		PolicyVersionHash:  c.PolicyVersionHash,
		TokenID:            sql.NullString{String: e.Payload.TokenID, Valid: e.Payload.TokenID != ""},
		PreviousHash:       e.PreviousHash,
		ContentHash:        e.ContentHash,
		Signature:          keys.EncodeSignature(e.Signature),
		KeyID:              e.KeyID,
	}, nil
}

func (r entryRow) entry() (Entry, error) {
	seq := uint64(r.Sequence)
	corrupt := func(err error) (Entry, error) {
		return Entry{}, &CorruptEntryError{Sequence: seq, Err: err}
	}
	ts, err := model.ParseTime(r.Timestamp)
	if err != nil {
		return corrupt(err)
	}
	verdict, err := model.ParseVerdict(r.Verdict)
	if err != nil {
		return corrupt(err)
	}
	ids := []string{}
	if err := json.Unmarshal([]byte(r.MatchedRelationIDs), &ids); err != nil {
		return corrupt(err)
	}
	if ids == nil {
		ids = []string{}
	}
	sig, err := keys.DecodeSignature(r.Signature)
	if err != nil {
		return corrupt(err)
	}
	return Entry{
		Sequence:  seq,
		Timestamp: ts,
		Payload: Payload{
			Verdict:            verdict,
			Actor:              r.Actor,
			Action:             r.Action,
			Tool:               r.Tool,
			Resource:           r.Resource,
			MatchedRelationIDs: ids,
			PolicyVersionHash:  r.PolicyVersionHash,
			TokenID:            r.TokenID.String,
		},
		PreviousHash: r.PreviousHash,
		ContentHash:  r.ContentHash,
		Signature:    sig,
		KeyID:        r.KeyID,
	}, nil
}
