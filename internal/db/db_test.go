package db

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(Options{Driver: DriverSQLite})
	if err == nil {
		t.Fatalf("expected error when no path supplied")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(Options{Driver: "mysql"})
	if err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestOpenAppliesPragmasWithDefaultTimeout(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "maskfill.db")

	database, err := Open(Options{Driver: DriverSQLite, Path: path})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := Close(database); closeErr != nil {
			t.Errorf("closing database failed: %v", closeErr)
		}
	})

	var journalMode string
	if queryErr := database.Raw("PRAGMA journal_mode;").Scan(&journalMode).Error; queryErr != nil {
		t.Fatalf("querying journal_mode pragma failed: %v", queryErr)
	}
	if !strings.EqualFold(strings.TrimSpace(journalMode), "wal") {
		t.Fatalf("expected journal mode WAL, got %q", journalMode)
	}

	var busyTimeout int
	if queryErr := database.Raw("PRAGMA busy_timeout;").Scan(&busyTimeout).Error; queryErr != nil {
		t.Fatalf("querying busy_timeout pragma failed: %v", queryErr)
	}

	expectedTimeout := int((5 * time.Second) / time.Millisecond)
	if busyTimeout != expectedTimeout {
		t.Fatalf("expected busy timeout %d, got %d", expectedTimeout, busyTimeout)
	}
}

func TestOpenHonoursConnectionLimits(t *testing.T) {
	t.Parallel()

	opts := Options{
		Driver:       DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "limits.db"),
		MaxOpenConns: 7,
		MaxIdleConns: 3,
	}

	database, err := Open(opts)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(database)
	})

	sqlDB, err := SQLDB(database)
	if err != nil {
		t.Fatalf("SQLDB returned error: %v", err)
	}

	if stats := sqlDB.Stats(); stats.MaxOpenConnections != opts.MaxOpenConns {
		t.Fatalf("expected MaxOpenConns %d, got %d", opts.MaxOpenConns, stats.MaxOpenConnections)
	}
}

func TestOpenPostgresDefersConnection(t *testing.T) {
	t.Parallel()

	database, err := Open(Options{Driver: DriverPostgres, Host: "127.0.0.1", Port: "1", Name: "absent"})
	if err != nil {
		t.Fatalf("expected lazy postgres pool, got error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(database)
	})
}

func TestPostgresDSNSkipsEmptyValues(t *testing.T) {
	t.Parallel()

	dsn := PostgresDSN(Options{Host: "db", Port: "5432", User: "app", Name: "maskfill", SSLMode: "disable"})
	expected := "host=db port=5432 user=app dbname=maskfill sslmode=disable"
	if dsn != expected {
		t.Fatalf("expected dsn %q, got %q", expected, dsn)
	}

	if PostgresDSN(Options{}) != "" {
		t.Fatalf("expected empty dsn when no parameters are set")
	}
}

func TestPostgresDSNQuotesSpecialValues(t *testing.T) {
	t.Parallel()

	dsn := PostgresDSN(Options{Password: "it's a secret"})
	expected := `password='it\'s a secret'`
	if dsn != expected {
		t.Fatalf("expected dsn %q, got %q", expected, dsn)
	}
}

func TestSQLDBWithNilDatabase(t *testing.T) {
	t.Parallel()

	_, err := SQLDB(nil)
	if err == nil {
		t.Fatalf("expected error when database is nil")
	}
}
