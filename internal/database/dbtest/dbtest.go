// Package dbtest starts a throwaway PostgreSQL for integration tests. One
// container serves the test binary; every caller gets its own migrated database.
package dbtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mtlprog/fundo/internal/database"
	"github.com/mtlprog/fundo/migrations"
)

const (
	user     = "fundo"
	password = "fundo"
)

var (
	once    sync.Once
	baseURL string
	admin   *pgxpool.Pool
	initErr error
	dbSeq   atomic.Int64
)

func start() {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       "postgres",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithDeadline(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		initErr = fmt.Errorf("start postgres container: %w", err)
		return
	}

	host, err := container.Host(ctx)
	if err != nil {
		initErr = fmt.Errorf("get postgres host: %w", err)
		return
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		initErr = fmt.Errorf("get postgres port: %w", err)
		return
	}

	baseURL = fmt.Sprintf("postgres://%s:%s@%s:%s", user, password, host, port.Port())
	admin, err = database.Connect(ctx, baseURL+"/postgres?sslmode=disable", database.PoolConfig{MaxConns: 2})
	if err != nil {
		initErr = err
	}
}

// Pool returns a pool on a fresh, fully migrated database. The pool is closed
// when the test ends.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	once.Do(start)
	if initErr != nil {
		t.Fatalf("postgres container failed: %v", initErr)
	}

	ctx := context.Background()
	name := fmt.Sprintf("fundo_test_%d", dbSeq.Add(1))
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+name); err != nil {
		t.Fatalf("create database %s: %v", name, err)
	}

	pool, err := database.Connect(ctx, fmt.Sprintf("%s/%s?sslmode=disable", baseURL, name), database.PoolConfig{MaxConns: 8})
	if err != nil {
		t.Fatalf("connect %s: %v", name, err)
	}
	t.Cleanup(pool.Close)

	if err := database.RunMigrations(ctx, pool, migrations.FS); err != nil {
		t.Fatalf("migrate %s: %v", name, err)
	}
	return pool
}
