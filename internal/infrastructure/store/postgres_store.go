package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps documents as JSONB rows keyed by (collection, key).
// Every row carries a version used for compare-and-set.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ConnectPostgres opens and pings a connection pool.
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// Migrate brings the schema up to date.
func (s *PostgresStore) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(s.db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// classify maps driver errors onto the store's sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case "23505": // unique_violation
			return fmt.Errorf("%w: %w", ErrExists, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// load returns the document and its version, or (nil, 0) if absent.
func load(ctx context.Context, q queryer, loc location, forUpdate bool) (json.RawMessage, int64, error) {
	query := "SELECT value, version FROM documents WHERE collection = $1 AND key = $2"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var doc []byte
	var version int64
	err := q.QueryRowContext(ctx, query, loc.collection, loc.key).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, classify(err)
	}
	return doc, version, nil
}

func (s *PostgresStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	loc, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	doc, _, err := load(ctx, s.db, loc, false)
	if err != nil {
		return nil, err
	}
	return readAt(doc, loc)
}

func (s *PostgresStore) Write(ctx context.Context, path string, value any) error {
	loc, err := parsePath(path)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if loc.field == "" {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO documents (collection, key, value) VALUES ($1, $2, $3::jsonb)
			 ON CONFLICT (collection, key) DO UPDATE
			 SET value = EXCLUDED.value, version = documents.version + 1, updated_at = NOW()`,
			loc.collection, loc.key, string(encoded),
		)
		return classify(err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET value = jsonb_set(value, ARRAY[$3::text], $4::jsonb, true),
		 version = version + 1, updated_at = NOW()
		 WHERE collection = $1 AND key = $2`,
		loc.collection, loc.key, loc.field, string(encoded),
	)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, loc.doc())
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	loc, err := parsePath(path)
	if err != nil {
		return err
	}
	if loc.field != "" {
		return fmt.Errorf("%w: cannot delete a field: %q", ErrInvalidPath, path)
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = $1 AND key = $2", loc.collection, loc.key)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return nil
}

// AtomicUpdate reads the row, applies fn, and writes back only if the row
// version is unchanged.
func (s *PostgresStore) AtomicUpdate(ctx context.Context, path string, fn UpdateFunc) error {
	loc, err := parsePath(path)
	if err != nil {
		return err
	}

	doc, version, err := load(ctx, s.db, loc, false)
	if err != nil {
		return err
	}
	next, err := applyUpdate(doc, loc, fn)
	if err != nil {
		return err
	}

	var res sql.Result
	if version == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO documents (collection, key, value) VALUES ($1, $2, $3::jsonb)
			 ON CONFLICT (collection, key) DO NOTHING`,
			loc.collection, loc.key, string(next),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE documents SET value = $3::jsonb, version = version + 1, updated_at = NOW()
			 WHERE collection = $1 AND key = $2 AND version = $4`,
			loc.collection, loc.key, string(next), version,
		)
	}
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrConflict, loc.doc())
	}
	return nil
}

func (s *PostgresStore) AppendChild(ctx context.Context, collection string, value any) (string, error) {
	if err := validCollection(collection); err != nil {
		return "", err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}

	key := NewKey()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO documents (collection, key, value) VALUES ($1, $2, $3::jsonb)",
		collection, key, string(encoded),
	)
	if err != nil {
		return "", classify(err)
	}
	return key, nil
}

func (s *PostgresStore) List(ctx context.Context, collection string) ([]Node, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM documents WHERE collection = $1 ORDER BY key",
		collection,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		var value []byte
		if err := rows.Scan(&n.Key, &value); err != nil {
			return nil, classify(err)
		}
		n.Value = value
		nodes = append(nodes, n)
	}
	return nodes, classify(rows.Err())
}

// Commit locks every touched row in path order, applies the updates, inserts
// the creates, and commits in one database transaction.
func (s *PostgresStore) Commit(ctx context.Context, txn Txn) (err error) {
	type staged struct {
		loc     location
		doc     json.RawMessage
		version int64
		dirty   bool
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	docs := make(map[string]*staged)
	var order []string
	for _, u := range txn.Updates {
		loc, perr := parsePath(u.Path)
		if perr != nil {
			return perr
		}
		if _, ok := docs[loc.doc()]; !ok {
			docs[loc.doc()] = &staged{loc: loc}
			order = append(order, loc.doc())
		}
	}
	slices.Sort(order)

	for _, path := range order {
		st := docs[path]
		st.doc, st.version, err = load(ctx, tx, st.loc, true)
		if err != nil {
			return err
		}
	}

	for _, u := range txn.Updates {
		loc, _ := parsePath(u.Path)
		st := docs[loc.doc()]
		st.doc, err = applyUpdate(st.doc, loc, u.Fn)
		if err != nil {
			return err
		}
		st.dirty = true
	}

	for _, path := range order {
		st := docs[path]
		if !st.dirty {
			continue
		}
		var res sql.Result
		if st.version == 0 {
			res, err = tx.ExecContext(ctx,
				`INSERT INTO documents (collection, key, value) VALUES ($1, $2, $3::jsonb)
				 ON CONFLICT (collection, key) DO NOTHING`,
				st.loc.collection, st.loc.key, string(st.doc),
			)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE documents SET value = $3::jsonb, version = version + 1, updated_at = NOW()
				 WHERE collection = $1 AND key = $2`,
				st.loc.collection, st.loc.key, string(st.doc),
			)
		}
		if err != nil {
			return classify(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrConflict, path)
		}
	}

	for _, c := range txn.Creates {
		loc, perr := parsePath(c.Path)
		if perr != nil {
			return perr
		}
		if loc.field != "" {
			return fmt.Errorf("%w: create needs a document path: %q", ErrInvalidPath, c.Path)
		}
		encoded, merr := json.Marshal(c.Value)
		if merr != nil {
			return fmt.Errorf("failed to marshal value: %w", merr)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO documents (collection, key, value) VALUES ($1, $2, $3::jsonb)",
			loc.collection, loc.key, string(encoded),
		); err != nil {
			return classify(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}
