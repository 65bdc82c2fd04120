// Package testing provides a throwaway PostgreSQL database for repository integration tests
package testing

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	stdtesting "testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // migrations run over database/sql
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB is a migrated database owned by one test
type TestDB struct {
	DB   *gorm.DB
	Name string
}

// RequireTestDB creates and migrates a fresh database for t and drops it on cleanup.
// The test is skipped when TEST_DB_SKIP=true or PostgreSQL cannot be reached.
func RequireTestDB(t *stdtesting.T) *TestDB {
	t.Helper()
	if os.Getenv("TEST_DB_SKIP") == "true" {
		t.Skip("TEST_DB_SKIP is set")
	}

	server := serverDSN()
	admin, err := openGorm(server)
	if err != nil {
		t.Skipf("PostgreSQL not available for integration tests: %v", err)
	}
	closeGorm := func(db *gorm.DB) {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	name := "pallet_test_" + uuid.NewString()[:8]
	if err := admin.Exec("CREATE DATABASE " + name).Error; err != nil {
		closeGorm(admin)
		t.Skipf("PostgreSQL not available for integration tests: %v", err)
	}
	t.Cleanup(func() {
		defer closeGorm(admin)
		admin.Exec("SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = ? AND pid <> pg_backend_pid()", name)
		if err := admin.Exec("DROP DATABASE IF EXISTS " + name).Error; err != nil {
			t.Logf("failed to drop test database %s: %v", name, err)
		}
	})

	dsn := server + " dbname=" + name
	if err := applyMigrations(dsn); err != nil {
		t.Fatalf("failed to migrate test database %s: %v", name, err)
	}
	db, err := openGorm(dsn)
	if err != nil {
		t.Fatalf("failed to open test database %s: %v", name, err)
	}
	t.Cleanup(func() { closeGorm(db) })

	return &TestDB{DB: db, Name: name}
}

// ClearAllTables truncates every allocator table
func (tdb *TestDB) ClearAllTables() error {
	for _, table := range []string{"audit_log", "pallet_reservations", "record_palletinfo", "daily_pallet_sequences"} {
		if err := tdb.DB.Exec("TRUNCATE TABLE " + table + " RESTART IDENTITY CASCADE").Error; err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}
	return nil
}

func serverDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s sslmode=%s",
		envOr("TEST_DB_HOST", "localhost"),
		envOr("TEST_DB_PORT", "5432"),
		envOr("TEST_DB_USER", "postgres"),
		envOr("TEST_DB_PASSWORD", "postgres"),
		envOr("TEST_DB_SSL_MODE", "disable"),
	)
}

func openGorm(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
}

// applyMigrations runs the numbered files under the module's migrations directory in order
func applyMigrations(dsn string) error {
	dir, err := findMigrations()
	if err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(dir, "[0-9]*.sql"))
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(files)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filepath.Base(file), err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filepath.Base(file), err)
		}
	}
	return nil
}

// findMigrations walks up from the package directory to the module root
func findMigrations() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	for dir := wd; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		if filepath.Dir(dir) == dir {
			return "", fmt.Errorf("migrations directory not found above %s", wd)
		}
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
