// Package pgtest starts a throwaway Postgres for integration tests.
package pgtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
)

// Start returns a migrated pool. The test is skipped under -short or when no container runtime is reachable.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in -short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "storefront",
			"POSTGRES_PASSWORD": "storefront",
			"POSTGRES_DB":       "storefront",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://storefront:storefront@%s:%s/storefront?sslmode=disable", host, port.Port())
	db, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, postgres.Migrate(ctx, db))
	return db
}

// SeedSize inserts one color/size option, creating the product and variant when missing.
func SeedSize(t *testing.T, db *pgxpool.Pool, id, color, size string, qty int) {
	t.Helper()
	ctx := context.Background()
	_, err := db.Exec(ctx, `INSERT INTO products (id, name) VALUES ($1, 'seed') ON CONFLICT (id) DO NOTHING`, id)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO product_variants (product_id, color) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, color)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO product_sizes (product_id, color, size, quantity, price) VALUES ($1, $2, $3, $4, 10)`, id, color, size, qty)
	require.NoError(t, err)
}

func Quantity(t *testing.T, db *pgxpool.Pool, id, color, size string) int {
	t.Helper()
	var n int
	err := db.QueryRow(context.Background(),
		`SELECT quantity FROM product_sizes WHERE product_id = $1 AND color = $2 AND size = $3`, id, color, size).Scan(&n)
	require.NoError(t, err)
	return n
}
