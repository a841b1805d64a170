// Package fixgres boots a disposable Postgres for tests and hands out one
// schema sandbox per test.
//
// Set PGLIVE_TEST_DSN to use an existing server instead of a container.
// When neither is available, NewSandbox skips the test.
package fixgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// EnvDSN names the variable pointing tests at an external server.
const EnvDSN = "PGLIVE_TEST_DSN"

type config struct {
	image    string
	dbName   string
	user     string
	password string
}

type Option func(*config)

func WithImage(i string) Option    { return func(c *config) { c.image = i } }
func WithDBName(n string) Option   { return func(c *config) { c.dbName = n } }
func WithUser(u string) Option     { return func(c *config) { c.user = u } }
func WithPassword(p string) Option { return func(c *config) { c.password = p } }

var (
	once       sync.Once
	bootErr    error
	pg         *postgres.PostgresContainer
	mu         sync.Mutex
	connString string
)

// Boot starts Postgres once per process. Later calls return the first
// result.
func Boot(ctx context.Context, opts ...Option) error {
	once.Do(func() {
		if dsn := os.Getenv(EnvDSN); dsn != "" {
			connString = dsn
			return
		}
		c := &config{
			image:    "docker.io/postgres:16-alpine",
			dbName:   "app",
			user:     "postgres",
			password: "pass",
		}
		for _, o := range opts {
			o(c)
		}
		bootErr = runContainer(ctx, c)
	})
	return bootErr
}

func runContainer(ctx context.Context, c *config) (err error) {
	// testcontainers panics when no Docker daemon is reachable.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("start postgres container: %v", r)
		}
	}()

	container, err := postgres.Run(ctx,
		c.image,
		postgres.WithDatabase(c.dbName),
		postgres.WithUsername(c.user),
		postgres.WithPassword(c.password),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return fmt.Errorf("start postgres container: %w", err)
	}
	mu.Lock()
	pg = container
	mu.Unlock()

	host, err := container.Host(ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return err
	}
	connString = fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.user, c.password, host, port.Port(), c.dbName,
	)
	return nil
}

// ShutdownNow terminates the container, if one was started.
func ShutdownNow() error {
	mu.Lock()
	defer mu.Unlock()
	if pg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := pg.Terminate(ctx)
	pg = nil
	return err
}
