package rundetect

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCurrentRunFileMissingReturnsEmpty(t *testing.T) {
	f := NewCurrentRunFile(filepath.Join(t.TempDir(), "current-run"))
	got, err := f.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestCurrentRunFileTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-run")
	if err := os.WriteFile(path, []byte("run-42\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f := NewCurrentRunFile(path)
	got, err := f.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "run-42" {
		t.Errorf("got %q, want run-42", got)
	}
}

func TestMarkerFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-complete-notified")
	m := NewMarkerFile(path)

	got, err := m.Read()
	if err != nil {
		t.Fatalf("Read (missing): %v", err)
	}
	if got != "" {
		t.Errorf("got %q, want empty before first write", got)
	}

	if err := m.Write("run-1"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err = m.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "run-1" {
		t.Errorf("got %q, want run-1", got)
	}

	if err := m.Write("run-2"); err != nil {
		t.Fatalf("Write (overwrite): %v", err)
	}
	got, err = m.Read()
	if err != nil {
		t.Fatalf("Read (after overwrite): %v", err)
	}
	if got != "run-2" {
		t.Errorf("got %q, want run-2", got)
	}
}
