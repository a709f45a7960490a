package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/angelmondragon/txnflow/pkg/config"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestAutoRunAllowed(t *testing.T) {
	cases := []struct {
		name string
		cfg  *config.Config
		want bool
	}{
		{"nil config", nil, false},
		{"disabled", &config.Config{App: config.AppConfig{Env: config.AppEnvDev}}, false},
		{"dev postgres", &config.Config{App: config.AppConfig{Env: config.AppEnvDev}, DB: config.DBConfig{AutoMigrate: true, Driver: "postgres"}}, true},
		{"prod postgres", &config.Config{App: config.AppConfig{Env: "prod"}, DB: config.DBConfig{AutoMigrate: true, Driver: "postgres"}}, false},
		{"prod sqlite", &config.Config{App: config.AppConfig{Env: "prod"}, DB: config.DBConfig{AutoMigrate: true, Driver: config.DBDriverSQLite}}, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, autoRunAllowed(tc.cfg), tc.name)
	}
}

func TestAutoRunAppliesPendingMigrationsOnce(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:autorun?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	ctx := context.Background()
	require.NoError(t, autoRun(ctx, sqlDB, goose.DialectSQLite3, "migrations", nil))
	require.True(t, conn.Migrator().HasTable("dead_letters"))

	m, err := NewMigrator(sqlDB, goose.DialectSQLite3, "migrations")
	require.NoError(t, err)
	first, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Positive(t, first)

	require.NoError(t, autoRun(ctx, sqlDB, goose.DialectSQLite3, "migrations", nil))
	second, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAutoRunRefusesInvalidDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "oops.sql"), []byte("-- +goose Up\n"), 0o644))
	assert.Error(t, autoRun(context.Background(), nil, goose.DialectSQLite3, dir, nil))
}
