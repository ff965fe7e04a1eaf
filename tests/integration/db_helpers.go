//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/otpdesk/internal/database"
	"github.com/BradenHooton/otpdesk/migrations"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("otpdesk"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := database.NewFromPool(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         db,
	}, nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	for _, table := range []string{"audit_logs", "credentials"} {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}
	return nil
}

// CountAuditEvents returns how many audit rows carry eventType
func (db *TestDB) CountAuditEvents(ctx context.Context, eventType string) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs WHERE event_type = $1`, eventType).Scan(&n)
	return n, err
}
