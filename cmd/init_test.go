package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunInit_CreatesFilesAndIsIdempotent(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	for _, rel := range []string{
		"dispatch.yaml",
		".env",
		"actions.yaml",
		"intents.yaml",
	} {
		if _, err := os.Stat(filepath.Join(home, ".dispatch", rel)); err != nil {
			t.Fatalf("missing %s after init: %v", rel, err)
		}
	}

	// A second run must not overwrite user files.
	marker := []byte("actions: []\n")
	catalogPath := filepath.Join(home, ".dispatch", "actions.yaml")
	if err := os.WriteFile(catalogPath, marker, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("second init: %v", err)
	}
	got, err := os.ReadFile(catalogPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(marker) {
		t.Fatal("init overwrote an existing catalog file")
	}
}
