// Package sandbox is a local SQLite-backed remote.Service. It stores
// entities per account, applies mutate calls with partial-failure
// semantics, rejects field values containing configured policy terms,
// journals every applied operation, and can simulate rate limiting. It
// backs dry rehearsals (--sandbox) and the engine's end-to-end tests.
package sandbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/tonimelisma/bulkmutate/internal/remote"
)

// MemoryPath opens a private in-memory sandbox.
const MemoryPath = ":memory:"

const (
	sqlUpsertEntity = `INSERT INTO entities
		(account_id, entity_type, id, name, status, origin, fields, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, entity_type, id) DO UPDATE SET
		 name = excluded.name,
		 status = excluded.status,
		 origin = excluded.origin,
		 fields = excluded.fields,
		 updated_at = excluded.updated_at`

	sqlSelectEntity = `SELECT entity_type, id, name, status, origin, fields
		FROM entities WHERE account_id = ? AND entity_type = ? AND id = ?`

	sqlListEntities = `SELECT entity_type, id, name, status, origin, fields
		FROM entities WHERE account_id = ? AND entity_type = ? ORDER BY id`

	sqlUpsertPolicyTerm = `INSERT INTO policy_terms (term, policy, exemptable)
		VALUES (?, ?, ?)
		ON CONFLICT(term) DO UPDATE SET
		 policy = excluded.policy,
		 exemptable = excluded.exemptable`

	sqlListPolicyTerms = `SELECT term, policy, exemptable FROM policy_terms ORDER BY term`

	sqlInsertMutation = `INSERT INTO mutations
		(id, account_id, call_seq, position, operator, entity_type, entity_id, outcome, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlListMutations = `SELECT call_seq, position, operator, entity_type, entity_id, outcome
		FROM mutations WHERE account_id = ? ORDER BY call_seq, position`
)

// Store owns the sandbox database. Calls from every account handle are
// serialized on one connection.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time

	mu                 gosync.Mutex
	calls              int
	throttleEvery      int
	throttleRetryAfter time.Duration
}

// Open opens or creates the sandbox database at path and runs migrations.
// Pass MemoryPath for a throwaway store.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := path
	if path != MemoryPath {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sandbox: opening database %s: %w", path, err)
	}

	// A single connection keeps in-memory databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sandbox opened", slog.String("db_path", path))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Throttle makes every n-th mutate call fail with a rate limit advertising
// retryAfter. n <= 0 disables throttling.
func (s *Store) Throttle(n int, retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.throttleEvery = n
	s.throttleRetryAfter = retryAfter
}

// Seed inserts or replaces an entity for accountID.
func (s *Store) Seed(ctx context.Context, accountID string, e remote.Entity) error {
	return s.upsert(ctx, s.db, accountID, e)
}

// AddPolicyTerm registers a term that causes any SET carrying it in a
// field value to fail with a policy violation.
func (s *Store) AddPolicyTerm(ctx context.Context, term, policy string, exemptable bool) error {
	if _, err := s.db.ExecContext(ctx, sqlUpsertPolicyTerm, term, policy, exemptable); err != nil {
		return fmt.Errorf("sandbox: adding policy term %q: %w", term, err)
	}

	return nil
}

// Entity returns the stored entity, or false if absent.
func (s *Store) Entity(ctx context.Context, accountID, entityType, id string) (remote.Entity, bool, error) {
	e, err := scanEntity(s.db.QueryRowContext(ctx, sqlSelectEntity, accountID, entityType, id))
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Entity{}, false, nil
	}

	if err != nil {
		return remote.Entity{}, false, fmt.Errorf("sandbox: reading %s %s: %w", entityType, id, err)
	}

	return e, true, nil
}

// Connect implements remote.Connector.
func (s *Store) Connect(_ context.Context, accountID string) (remote.Service, error) {
	if accountID == "" {
		return nil, fmt.Errorf("sandbox: empty account id")
	}

	return &account{store: s, id: accountID}, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsert(ctx context.Context, db execer, accountID string, e remote.Entity) error {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("sandbox: encoding fields: %w", err)
	}

	status := e.Status
	if status == "" {
		status = remote.StatusEnabled
	}

	if _, err := db.ExecContext(ctx, sqlUpsertEntity,
		accountID, e.Type, e.ID, e.Name, status, e.Origin, string(fields), s.nowFunc().UnixNano(),
	); err != nil {
		return fmt.Errorf("sandbox: writing %s %s: %w", e.Type, e.ID, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (remote.Entity, error) {
	var (
		e      remote.Entity
		fields string
	)

	if err := row.Scan(&e.Type, &e.ID, &e.Name, &e.Status, &e.Origin, &fields); err != nil {
		return remote.Entity{}, err
	}

	if fields != "" && fields != "null" {
		if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
			return remote.Entity{}, fmt.Errorf("decoding fields: %w", err)
		}
	}

	return e, nil
}

type policyTerm struct {
	term       string
	policy     string
	exemptable bool
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func policyTerms(ctx context.Context, q querier) ([]policyTerm, error) {
	rows, err := q.QueryContext(ctx, sqlListPolicyTerms)
	if err != nil {
		return nil, fmt.Errorf("sandbox: loading policy terms: %w", err)
	}
	defer rows.Close()

	var terms []policyTerm

	for rows.Next() {
		var pt policyTerm
		if err := rows.Scan(&pt.term, &pt.policy, &pt.exemptable); err != nil {
			return nil, fmt.Errorf("sandbox: scanning policy term: %w", err)
		}

		terms = append(terms, pt)
	}

	return terms, rows.Err()
}

// Mutation is one journaled operation.
type Mutation struct {
	Call     int
	Position int
	Operator remote.Operator
	Entity   string
	ID       string
	Outcome  string
}

// Mutations returns the journal for accountID in application order.
func (s *Store) Mutations(ctx context.Context, accountID string) ([]Mutation, error) {
	rows, err := s.db.QueryContext(ctx, sqlListMutations, accountID)
	if err != nil {
		return nil, fmt.Errorf("sandbox: loading journal: %w", err)
	}
	defer rows.Close()

	var out []Mutation

	for rows.Next() {
		var m Mutation
		if err := rows.Scan(&m.Call, &m.Position, &m.Operator, &m.Entity, &m.ID, &m.Outcome); err != nil {
			return nil, fmt.Errorf("sandbox: scanning journal row: %w", err)
		}

		out = append(out, m)
	}

	return out, rows.Err()
}
