package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteJSONAtomic_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")

	if err := writeJSONAtomic(path, sample{Name: "web", Count: 3}); err != nil {
		t.Fatalf("writeJSONAtomic returned error: %v", err)
	}

	var got sample
	ok, err := readJSON(path, &got)
	if err != nil {
		t.Fatalf("readJSON returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected readJSON to report the file existed")
	}
	if got.Name != "web" || got.Count != 3 {
		t.Fatalf("got %+v, want {web 3}", got)
	}
}

func TestWriteJSONAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")

	if err := writeJSONAtomic(path, sample{Name: "web"}); err != nil {
		t.Fatalf("writeJSONAtomic returned error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "sample.json" {
		t.Fatalf("expected only sample.json to remain, got %v", entries)
	}
}

func TestWriteJSONAtomic_OverwritesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")

	if err := writeJSONAtomic(path, sample{Name: "first"}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := writeJSONAtomic(path, sample{Name: "second"}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var got sample
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Name != "second" {
		t.Fatalf("expected overwritten content, got %+v", got)
	}
}

func TestReadJSON_MissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	var got sample
	ok, err := readJSON(filepath.Join(dir, "missing.json"), &got)
	if err != nil {
		t.Fatalf("expected no error for a missing file, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing file")
	}
}

func TestReadJSON_EmptyFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	var got sample
	ok, err := readJSON(path, &got)
	if err != nil {
		t.Fatalf("expected no error for an empty file, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an empty file")
	}
}
