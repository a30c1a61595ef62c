package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileWriter_Write(t *testing.T) {
	dir := t.TempDir()

	fw, err := NewFileWriter(dir)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer fw.Close()

	if _, err := fw.Write([]byte(`{"msg":"test"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := filepath.Join(dir, "portage-"+time.Now().Format("2006-01-02")+".jsonl")
	if fw.Path() != want {
		t.Errorf("Path() = %q, want %q", fw.Path(), want)
	}
	content, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(content), `{"msg":"test"}`) {
		t.Errorf("log file content = %s", content)
	}
}

func TestFileWriter_RotatesOnNewDay(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWriter(dir)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer fw.Close()

	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	fw.now = func() time.Time { return day }
	fw.Write([]byte("one\n"))
	day = day.Add(2 * time.Minute)
	fw.Write([]byte("two\n"))

	first, _ := os.ReadFile(filepath.Join(dir, "portage-2026-03-01.jsonl"))
	second, _ := os.ReadFile(filepath.Join(dir, "portage-2026-03-02.jsonl"))
	if string(first) != "one\n" {
		t.Errorf("first day content = %q", first)
	}
	if string(second) != "two\n" {
		t.Errorf("second day content = %q", second)
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	old := "portage-" + time.Now().AddDate(0, 0, -30).Format("2006-01-02") + ".jsonl"
	recent := "portage-" + time.Now().Format("2006-01-02") + ".jsonl"
	other := "notes.txt"
	for _, name := range []string{old, recent, other} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	Cleanup(dir, 7)

	if _, err := os.Stat(filepath.Join(dir, old)); !os.IsNotExist(err) {
		t.Error("old log file should be removed")
	}
	for _, name := range []string{recent, other} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should be kept: %v", name, err)
		}
	}
}
