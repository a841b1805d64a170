package fixgres

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io/fs"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
)

// Sandbox is a schema private to one test. DB is pinned to a single
// connection whose search_path starts with Schema.
type Sandbox struct {
	DB     *sql.DB
	Schema string
	Seed   int64
}

// goose keeps its base filesystem and dialect in globals.
var gooseMu sync.Mutex

// NewSandbox creates a fresh schema and applies migrations from migFS,
// which may be nil. The schema is dropped when the test ends. The test is
// skipped when no database could be booted.
func NewSandbox(t *testing.T, migFS fs.FS) *Sandbox {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	if err := Boot(ctx); err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}

	admin, err := sql.Open("pgx", connString)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}
	if err := admin.PingContext(ctx); err != nil {
		admin.Close()
		t.Skipf("postgres unavailable: %v", err)
	}

	schema := fmt.Sprintf("t_%x", time.Now().UnixNano())
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA "`+schema+`"`); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}

	db, err := sql.Open("pgx", withSearchPath(connString, schema))
	if err != nil {
		t.Fatalf("open sandbox: %v", err)
	}
	db.SetMaxOpenConns(1)

	sbx := &Sandbox{DB: db, Schema: schema, Seed: randomSeed()}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Close()
		_, _ = admin.ExecContext(ctx, `DROP SCHEMA IF EXISTS "`+schema+`" CASCADE`)
		_ = admin.Close()
	})

	if migFS != nil {
		if err := migrate(ctx, db, migFS); err != nil {
			t.Fatalf("migrate sandbox: %v", err)
		}
	}
	return sbx
}

func migrate(ctx context.Context, db *sql.DB, migFS fs.FS) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migFS)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

func withSearchPath(base, schema string) string {
	u, _ := url.Parse(base)
	q := u.Query()
	q.Set("options", fmt.Sprintf("-csearch_path=%s,public", schema))
	u.RawQuery = q.Encode()
	return u.String()
}

func randomSeed() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]))
}
