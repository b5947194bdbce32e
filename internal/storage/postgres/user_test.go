package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pribylovaa/go-storefront-edge/internal/models"
	"github.com/pribylovaa/go-storefront-edge/internal/storage"
)

// Интеграционные тесты репозитория пользователей на реальном PostgreSQL.
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/postgres -v -race -count=1

func repoRootFromThisFile() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Clean(filepath.Join(filepath.Dir(thisFile), "..", "..", ".."))
}

func readMigration(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(repoRootFromThisFile(), "migrations", name)
	b, err := os.ReadFile(path)
	require.NoError(t, err, "read migration %s", path)
	return string(b)
}

// startPostgres поднимает postgres:16-alpine, применяет миграцию users и
// возвращает хранилище. Без GO_TEST_INTEGRATION тест пропускается.
func startPostgres(t *testing.T) *Storage {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "db"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "5432/tcp")
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/db?sslmode=disable", host, port.Port())

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, readMigration(t, "1_init_users.up.sql"))
	require.NoError(t, err)

	st, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	return st
}

func newUser(email string) *models.User {
	now := time.Now().UTC()
	return &models.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         "Ann",
		Handle:       "ann",
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestIntegration_SaveUser_And_Lookup_OK(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	u := newUser("Ann@Example.Com")
	u.Avatar = "https://cdn.example.com/a.png"
	require.NoError(t, st.SaveUser(ctx, u))

	byEmail, err := st.UserByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)
	require.Equal(t, "Ann", byEmail.Name)
	require.Equal(t, "ann", byEmail.Handle)
	require.Equal(t, u.Avatar, byEmail.Avatar)
	require.Equal(t, "hash", byEmail.PasswordHash)
	require.WithinDuration(t, u.CreatedAt, byEmail.CreatedAt, time.Second)

	byID, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, byEmail.Email, byID.Email)
}

func TestIntegration_SaveUser_OAuthUserWithoutPassword(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	u := newUser("oauth@example.com")
	u.PasswordHash = ""
	require.NoError(t, st.SaveUser(ctx, u))

	got, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, got.PasswordHash)
}

func TestIntegration_SaveUser_UniqueEmail_CaseInsensitive(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, st.SaveUser(ctx, newUser("user@example.com")))

	err := st.SaveUser(ctx, newUser("USER@EXAMPLE.COM"))
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestIntegration_SaveUser_UniqueID(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	a := newUser("a@example.com")
	require.NoError(t, st.SaveUser(ctx, a))

	b := newUser("b@example.com")
	b.ID = a.ID
	require.ErrorIs(t, st.SaveUser(ctx, b), storage.ErrAlreadyExists)
}

func TestIntegration_NotFound(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	_, err := st.UserByEmail(ctx, "absent@example.com")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = st.UserByID(ctx, uuid.New())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_ContextCanceled(t *testing.T) {
	st := startPostgres(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := st.UserByEmail(ctx, "user@example.com")
	require.ErrorIs(t, err, context.Canceled)

	require.ErrorIs(t, st.SaveUser(ctx, newUser("c@example.com")), context.Canceled)
}

func TestIntegration_Ping(t *testing.T) {
	st := startPostgres(t)
	require.NoError(t, st.Ping(context.Background()))
}
