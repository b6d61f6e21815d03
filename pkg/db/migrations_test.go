package db

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("db:migrations_test - failed to write %s: %v", name, err)
		}
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"0003_third.sql":  "THIRD",
		"0001_first.sql":  "FIRST",
		"0002_second.sql": "SECOND",
	})

	result, err := LoadMigrations(dir)
	if err != nil {
		t.Fatalf("db:migrations_test - unexpected error: %v", err)
	}
	want := []Migration{
		{Name: "0001_first.sql", SQL: "FIRST"},
		{Name: "0002_second.sql", SQL: "SECOND"},
		{Name: "0003_third.sql", SQL: "THIRD"},
	}
	if len(result) != len(want) {
		t.Fatalf("db:migrations_test - expected %d, got %d", len(want), len(result))
	}
	for i := range want {
		if result[i] != want[i] {
			t.Errorf("db:migrations_test - [%d] = %+v, want %+v", i, result[i], want[i])
		}
	}
}

func TestLoadMigrations_SkipsNonSQL(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"0001_create.sql": "CREATE TABLE t1;",
		"README.md":       "# Migrations",
		"config.json":     "{}",
	})
	if err := os.Mkdir(filepath.Join(dir, "subdir.sql"), 0755); err != nil {
		t.Fatal(err)
	}

	result, err := LoadMigrations(dir)
	if err != nil {
		t.Fatalf("db:migrations_test - unexpected error: %v", err)
	}
	if len(result) != 1 || result[0].Name != "0001_create.sql" {
		t.Errorf("db:migrations_test - got %+v", result)
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	if _, err := LoadMigrations(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("db:migrations_test - expected error for missing dir")
	}
}

func TestLoadMigrations_ShippedSchema(t *testing.T) {
	result, err := LoadMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("db:migrations_test - shipped migrations: %v", err)
	}
	if len(result) == 0 {
		t.Fatal("db:migrations_test - no shipped migrations")
	}
}
