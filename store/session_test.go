package store_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/2389-research/massgen/store"
)

func TestLayoutPaths(t *testing.T) {
	l := store.Layout{MassgenRoot: ".massgen", SessionID: "sess1"}
	if got, want := l.TaskFile(), filepath.Join(".massgen", "sessions", "sess1", "task.json"); got != want {
		t.Fatalf("TaskFile() = %s, want %s", got, want)
	}
	if got, want := l.TranscriptFile(1, "a1"), filepath.Join(".massgen", "sessions", "sess1", "transcripts", "1", "a1.ndjson"); got != want {
		t.Fatalf("TranscriptFile() = %s, want %s", got, want)
	}
	if got, want := l.WorkspacesRoot(), filepath.Join(".massgen", "workspaces"); got != want {
		t.Fatalf("WorkspacesRoot() = %s, want %s", got, want)
	}
}

func TestTranscriptAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a1.ndjson")

	tr, err := store.OpenTranscript(path)
	if err != nil {
		t.Fatalf("OpenTranscript: %v", err)
	}
	type rec struct {
		Text string `json:"text"`
	}
	if err := tr.Append(rec{Text: "first"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tr.Append(rec{Text: "second"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines, err := store.ReplayTranscript(path)
	if err != nil {
		t.Fatalf("ReplayTranscript: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	var r rec
	if err := json.Unmarshal(lines[0], &r); err != nil {
		t.Fatalf("unmarshal line 0: %v", err)
	}
	if r.Text != "first" {
		t.Fatalf("line 0 text = %q, want first", r.Text)
	}
}

func TestWriteTaskFileIsReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.json")
	type task struct {
		ID string `json:"id"`
	}
	if err := store.WriteTaskFile(path, task{ID: "t1"}); err != nil {
		t.Fatalf("WriteTaskFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile on task file: %v", err)
	}
	var got task
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("expected the whole file to read back as one JSON blob: %v", err)
	}
	if got.ID != "t1" {
		t.Fatalf("task ID = %q, want t1", got.ID)
	}
}
