//go:build integration

package dbtest

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"github.com/angelmondragon/payments-core/pkg/config"
	"github.com/angelmondragon/payments-core/pkg/db"
	"github.com/angelmondragon/payments-core/pkg/migrate"
)

// migrationsDir resolves the shipped migrations relative to this file so every
// package's integration tests run the same schema.
func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrate", "migrations")
}

// Postgres starts a disposable Postgres, applies the shipped migrations and
// returns a client with a real connection pool. Row locks, SKIP LOCKED and
// named unique constraints behave as in production, which sqlite cannot show.
func Postgres(t *testing.T) *db.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("payments"),
		tcpostgres.WithUsername("payments"),
		tcpostgres.WithPassword("payments"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres dsn: %v", err)
	}

	client, err := db.New(ctx, config.DBConfig{DSN: dsn, Driver: "postgres", MaxOpenConns: 20, MaxIdleConns: 5}, nil)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	sqlDB, err := client.DB().DB()
	if err != nil {
		t.Fatalf("postgres handle: %v", err)
	}
	if err := migrate.Run(ctx, sqlDB, migrationsDir(), "up"); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	return client
}

// PostgresConn is Postgres without the client wrapper.
func PostgresConn(t *testing.T) *gorm.DB {
	t.Helper()
	return Postgres(t).DB()
}
