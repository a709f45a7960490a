package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/txnflow/pkg/config"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testModel struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestGormLoggerReportsFailedAndSlowStatements(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "dlq-worker", Output: buf, Format: logger.FormatJSON})
	gl := newGormLogger(logg, 10*time.Millisecond)
	ctx := context.Background()
	stmt := func() (string, int64) { return "INSERT INTO dead_letters", 0 }

	gl.Trace(ctx, time.Now(), stmt, nil)
	if buf.Len() != 0 {
		t.Fatalf("fast statements should be silent; got %s", buf.String())
	}

	gl.Trace(ctx, time.Now(), stmt, gorm.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Fatalf("not found should be silent; got %s", buf.String())
	}

	gl.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	if !strings.Contains(buf.String(), "slow db statement") || !strings.Contains(buf.String(), `"component":"db"`) {
		t.Fatalf("expected slow statement entry; got %s", buf.String())
	}

	buf.Reset()
	gl.Trace(ctx, time.Now(), stmt, errors.New("disk full"))
	if !strings.Contains(buf.String(), "db statement failed") || !strings.Contains(buf.String(), "disk full") {
		t.Fatalf("expected failure entry; got %s", buf.String())
	}

	buf.Reset()
	gl.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), stmt, errors.New("disk full"))
	if buf.Len() != 0 {
		t.Fatalf("silent mode should drop entries; got %s", buf.String())
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	client := &Client{conn: db}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestNewOpensSQLite(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{
		Driver: config.DBDriverSQLite,
		DSN:    "file::memory:",
	}, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer client.Close()

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if client.DB() == nil {
		t.Fatal("expected gorm handle")
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != sqliteMaxOpenConns {
		t.Fatalf("expected sqlite pool capped at %d, got %d", sqliteMaxOpenConns, got)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New(context.Background(), config.DBConfig{Driver: "mysql", DSN: "x"}, nil); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if _, err := New(context.Background(), config.DBConfig{Driver: config.DBDriverSQLite}, nil); err == nil {
		t.Fatal("expected error for sqlite without dsn")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		err        error
		constraint string
		want       bool
	}{
		{nil, "", false},
		{errors.New(`ERROR: duplicate key value violates unique constraint "dead_letters_pkey"`), "", true},
		{errors.New("UNIQUE constraint failed: dead_letters.event_id"), "", true},
		{errors.New(`duplicate key value violates unique constraint "dead_letters_pkey"`), "dead_letters_pkey", true},
		{errors.New("connection reset"), "", false},
		{&pgconn.PgError{Code: "23505", ConstraintName: "dead_letters_pkey"}, "", true},
		{&pgconn.PgError{Code: "23505", ConstraintName: "dead_letters_pkey"}, "other_key", false},
		{&pgconn.PgError{Code: "23503"}, "", false},
		{fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), "", true},
	}
	for _, tc := range cases {
		if got := IsUniqueViolation(tc.err, tc.constraint); got != tc.want {
			t.Fatalf("IsUniqueViolation(%v, %q) = %v, want %v", tc.err, tc.constraint, got, tc.want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&pgconn.PgError{Code: "40001"}, true},
		{&pgconn.PgError{Code: "08006"}, true},
		{&pgconn.PgError{Code: "57P01"}, true},
		{&pgconn.PgError{Code: "23505"}, false},
		{fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{errors.New("database is locked"), true},
		{errors.New("no such table: dead_letters"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
