package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriter(t *testing.T) {
	t.Run("rotates when size exceeded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), LogFileName)
		rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer rw.Close()

		chunk := []byte(strings.Repeat("x", 600*1024))
		for i := 0; i < 3; i++ {
			if _, err := rw.Write(chunk); err != nil {
				t.Fatalf("Write %d failed: %v", i, err)
			}
		}

		for _, name := range []string{path + ".1", path + ".2"} {
			if _, err := os.Stat(name); err != nil {
				t.Errorf("expected backup %s: %v", name, err)
			}
		}
		if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
			t.Errorf("backup beyond MaxBackups should not exist")
		}
		if got := rw.Size(); got != int64(len(chunk)) {
			t.Errorf("live size = %d, want %d", got, len(chunk))
		}
	})

	t.Run("zero size disables rotation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), LogFileName)
		rw, err := NewRotatingWriter(path, RotationConfig{})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer rw.Close()

		for i := 0; i < 10; i++ {
			if _, err := rw.Write([]byte("line\n")); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
			t.Error("no backup expected when rotation disabled")
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), LogFileName)
		if err := os.WriteFile(path, []byte("old\n"), 0644); err != nil {
			t.Fatal(err)
		}
		rw, err := NewRotatingWriter(path, DefaultRotationConfig())
		if err != nil {
			t.Fatal(err)
		}
		if got := rw.Size(); got != 4 {
			t.Errorf("Size() = %d, want 4", got)
		}
		_ = rw.Close()
	})

	t.Run("write after close fails", func(t *testing.T) {
		rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), LogFileName), DefaultRotationConfig())
		if err != nil {
			t.Fatal(err)
		}
		if err := rw.Close(); err != nil {
			t.Fatal(err)
		}
		if _, err := rw.Write([]byte("x")); err == nil {
			t.Error("expected error writing to closed writer")
		}
		if err := rw.Close(); err != nil {
			t.Errorf("double Close returned %v", err)
		}
	})
}

func TestNewLoggerWithRotation(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLoggerWithRotation(dir, LevelInfo, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewLoggerWithRotation failed: %v", err)
	}
	logger.WithSession("abc").Info("hello")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := AggregateLogs(dir)
	if err != nil {
		t.Fatalf("AggregateLogs failed: %v", err)
	}
	if len(entries) != 1 || entries[0].SessionID != "abc" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}
