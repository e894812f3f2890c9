package store

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	host := os.Getenv("LF_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("skipping: LF_TEST_POSTGRES_HOST not set")
	}
	port, _ := strconv.Atoi(envOrDefault("LF_TEST_POSTGRES_PORT", "5432"))
	db, err := postgres.Open(context.Background(), config.PostgresConfig{
		Host:            host,
		Port:            port,
		Database:        envOrDefault("LF_TEST_POSTGRES_DB", "lostfound_test"),
		User:            envOrDefault("LF_TEST_POSTGRES_USER", "lostfound"),
		Password:        envOrDefault("LF_TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
		QueryTimeout:    5 * time.Second,
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func seed(t *testing.T, db *postgres.Client) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.Exec(ctx, Schema))
	require.NoError(t, db.Exec(ctx, `TRUNCATE items`))
	err := db.Exec(ctx, `
		INSERT INTO items (id, type, name, description, place, deleted_at) VALUES
		('a', 'lost',  'wallet', 'black leather wallet with id cards', 'library', NULL),
		('b', 'found', '',       'found a black wallet containing cards', '', NULL),
		('c', 'found', 'bottle', 'blue water bottle', 'gym', NOW())`)
	require.NoError(t, err)
}

func TestActiveItemsExcludesDeleted(t *testing.T) {
	db := skipIfNoPostgres(t)
	seed(t, db)

	got, err := New(db).ActiveItems(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, items.TypeLost, got[0].Type)
	assert.True(t, got[0].Active)
	assert.Equal(t, "library", got[0].Place)
	assert.Equal(t, "b", got[1].ID)
}

func TestGetItem(t *testing.T) {
	db := skipIfNoPostgres(t)
	seed(t, db)
	s := New(db)

	deleted, err := s.GetItem(context.Background(), "c")
	require.NoError(t, err)
	assert.False(t, deleted.Active)

	_, err = s.GetItem(context.Background(), "zzz")
	assert.True(t, errors.Is(err, apperrors.ErrItemNotFound))
}
