package nrt

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "program.neff")
	want := bytes.Repeat([]byte("neff"), 1024)
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	mapped, err := mapFile(path)
	if err != nil {
		t.Fatalf("mapFile failed: %v", err)
	}
	if !bytes.Equal(mapped.data, want) {
		t.Fatalf("mapped contents differ from file")
	}
	if err := mapped.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := mapped.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestMapFileErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.neff")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	tests := []struct {
		name       string
		path       string
		wantKind   error
		wantStatus Status
	}{
		{"missing", filepath.Join(dir, "missing.neff"), ErrFileAccess, StatusStatFailed},
		{"empty", empty, ErrMapping, StatusMapFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mapFile(tt.path)
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("expected %v, got %v", tt.wantKind, err)
			}
			if StatusOf(err) != tt.wantStatus {
				t.Fatalf("unexpected status: %v", StatusOf(err))
			}
		})
	}
}
