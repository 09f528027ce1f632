package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWrite_CreatesDirectoriesAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")
	if err := AtomicWrite(path, []byte("log:\n  level: info\n")); err != nil {
		t.Fatalf("AtomicWrite() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if string(data) != "log:\n  level: info\n" {
		t.Errorf("content = %q", data)
	}
}

func TestAtomicWrite_PreservesPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("old"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := AtomicWrite(path, []byte("new")); err != nil {
		t.Fatalf("AtomicWrite() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Errorf("perm = %v, want 0640", info.Mode().Perm())
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".scribo.yaml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	err := WriteDefault(path, false)
	if !errors.Is(err, ErrConfigExists) {
		t.Fatalf("second write err = %v, want ErrConfigExists", err)
	}
	if err := WriteDefault(path, true); err != nil {
		t.Fatalf("forced write error = %v", err)
	}

	cfg, err := NewLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("loading default file: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default file should validate: %v", err)
	}
}
