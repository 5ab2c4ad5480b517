package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/wardenbot/warden/internal/db"
	"github.com/wardenbot/warden/resources"
)

type sqliteClient struct {
	db   *sqlx.DB
	keys keyedMutex
}

var _ db.Client = (*sqliteClient)(nil)

func NewSQLiteClient(ctx context.Context, dir, name string) (*sqliteClient, error) {
	dsn := "file:" + filepath.Join(dir, name) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.WithMessage(err, "cant open db")
	}
	dbx.SetMaxOpenConns(42)

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	if _, _, err = migrate.PlanMigration(dbx.DB, "sqlite3", migrationsSource, migrate.Up, 0); err != nil {
		return nil, errors.WithMessage(err, "migrate plan failed")
	}
	n, err := migrate.Exec(dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		return nil, errors.WithMessage(err, "migrate up failed")
	}
	if n > 0 {
		log.Infof("applied %d migrations!", n)
	}

	if err := dbx.PingContext(ctx); err != nil {
		return nil, errors.WithMessage(err, "cant ping db")
	}

	return &sqliteClient{db: dbx, keys: keyedMutex{locks: map[string]*sync.Mutex{}}}, nil
}

func (c *sqliteClient) Close() error {
	return c.db.Close()
}

// keyedMutex serializes read-modify-write sequences per logical key while
// leaving unrelated keys fully parallel. Entries are never evicted; the map
// is bounded by the set of (subject, community) pairs seen by the process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (m *keyedMutex) lock(key string) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func pairKey(subjectID, communityID int64) string {
	return fmt.Sprintf("%d:%d", subjectID, communityID)
}

func sanctionKey(subjectID, communityID int64, kind db.ActionKind) string {
	return fmt.Sprintf("%d:%d:%s", subjectID, communityID, kind)
}
