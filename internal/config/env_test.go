package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFile_missing(t *testing.T) {
	err := LoadEnvFile(filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatalf("missing file should return nil: %v", err)
	}
}

func TestLoadEnvFile_setsEnv(t *testing.T) {
	os.Unsetenv("STALKER_TEST_FOO")
	os.Unsetenv("STALKER_TEST_BAZ")
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("STALKER_TEST_FOO=bar\n# comment\nexport STALKER_TEST_BAZ='quux'\nnoequals\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := LoadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	if os.Getenv("STALKER_TEST_FOO") != "bar" {
		t.Errorf("FOO = %q", os.Getenv("STALKER_TEST_FOO"))
	}
	if os.Getenv("STALKER_TEST_BAZ") != "quux" {
		t.Errorf("BAZ = %q", os.Getenv("STALKER_TEST_BAZ"))
	}
}

func TestLoadEnvFile_keepsExisting(t *testing.T) {
	t.Setenv("STALKER_TEST_MAC", "from-env")
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(`STALKER_TEST_MAC="from-file"`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := LoadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	if os.Getenv("STALKER_TEST_MAC") != "from-env" {
		t.Errorf("existing env should win; got %q", os.Getenv("STALKER_TEST_MAC"))
	}
}
