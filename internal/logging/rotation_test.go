package logging

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestWriter(t *testing.T, cfg RotationConfig, maxBytes int64) (*RotatingWriter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	rw, err := NewRotatingWriter(path, cfg)
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	rw.maxBytes = maxBytes
	return rw, path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRotatingWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.log")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("existing\n"), 0644); err != nil {
		t.Fatal(err)
	}

	rw, err := NewRotatingWriter(path, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	if rw.Size() != int64(len("existing\n")) {
		t.Errorf("Size() = %d, want existing file size", rw.Size())
	}
	if _, err := rw.Write([]byte("more\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	rw.Close()

	data, _ := os.ReadFile(path)
	if string(data) != "existing\nmore\n" {
		t.Errorf("content = %q", data)
	}
}

func TestRotatingWriterRotation(t *testing.T) {
	t.Run("rotates past the limit", func(t *testing.T) {
		rw, path := newTestWriter(t, RotationConfig{MaxBackups: 3}, 100)
		for range 5 {
			rw.Write([]byte("this is a test message that will trigger rotation\n")) //nolint:errcheck
		}
		rw.Close()

		if !exists(path + ".1") {
			t.Error("backup .1 was not created")
		}
		if !exists(path) {
			t.Error("current log missing after rotation")
		}
	})

	t.Run("keeps only MaxBackups files", func(t *testing.T) {
		rw, path := newTestWriter(t, RotationConfig{MaxBackups: 2}, 50)
		for range 10 {
			rw.Write([]byte("this message will trigger rotation\n")) //nolint:errcheck
		}
		rw.Close()

		if !exists(path+".1") || !exists(path+".2") {
			t.Error("backups .1 and .2 should exist")
		}
		if exists(path + ".3") {
			t.Error("backup .3 should not exist")
		}
	})

	t.Run("zero backups truncates in place", func(t *testing.T) {
		rw, path := newTestWriter(t, RotationConfig{}, 50)
		for range 4 {
			rw.Write([]byte("this message will trigger rotation\n")) //nolint:errcheck
		}
		rw.Close()

		if exists(path + ".1") {
			t.Error("no backup should be kept")
		}
		data, _ := os.ReadFile(path)
		if strings.Count(string(data), "\n") != 1 {
			t.Errorf("current log should hold only the last write, got %q", data)
		}
	})

	t.Run("disabled when max size is zero", func(t *testing.T) {
		rw, path := newTestWriter(t, RotationConfig{MaxBackups: 3}, 0)
		for range 100 {
			rw.Write([]byte("test message that would trigger rotation if enabled\n")) //nolint:errcheck
		}
		rw.Close()

		if exists(path + ".1") {
			t.Error("backup should not exist when rotation is disabled")
		}
	})
}

func TestRotatingWriterCompression(t *testing.T) {
	rw, path := newTestWriter(t, RotationConfig{MaxBackups: 3, Compress: true}, 50)
	for range 2 {
		rw.Write([]byte("test message for compression test\n")) //nolint:errcheck
	}
	rw.Close()

	if exists(path + ".1") {
		t.Error("uncompressed backup should be removed after compression")
	}
	f, err := os.Open(path + ".1.gz")
	if err != nil {
		t.Fatalf("compressed backup missing: %v", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	content, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip: %v", err)
	}
	if string(content) != "test message for compression test\n" {
		t.Errorf("decompressed = %q", content)
	}
}

func TestRotatingWriterConcurrency(t *testing.T) {
	rw, _ := newTestWriter(t, RotationConfig{MaxBackups: 5}, 1024)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if _, err := rw.Write([]byte("concurrent line\n")); err != nil {
					t.Errorf("Write failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if err := rw.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestRotatingWriterClose(t *testing.T) {
	rw, _ := newTestWriter(t, DefaultRotationConfig(), 0)
	if err := rw.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if _, err := rw.Write([]byte("x")); err == nil {
		t.Error("Write after Close should fail")
	}
}

func TestNewRotatingLogger(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewRotatingLogger(dir, LevelInfo, RotationConfig{MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewRotatingLogger failed: %v", err)
	}
	logger.Info("through the rotating writer")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "through the rotating writer") {
		t.Errorf("log content = %q", data)
	}
}

func TestDefaultRotationConfig(t *testing.T) {
	cfg := DefaultRotationConfig()
	if cfg.MaxSizeMB != 10 || cfg.MaxBackups != 3 || cfg.Compress {
		t.Errorf("DefaultRotationConfig() = %+v", cfg)
	}
}
