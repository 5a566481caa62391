package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCollectJSONFilesRecursive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.json"), `{"posts":[]}`)
	mustWriteFile(t, filepath.Join(root, "b.txt"), `x`)
	mustWriteFile(t, filepath.Join(root, ".hidden.json"), `{}`)
	mustWriteFile(t, filepath.Join(root, "nested", "c.json"), `{"posts":[]}`)

	files, err := collectJSONFiles(root, true)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 json files, got %d (%v)", len(files), files)
	}
}

func TestCollectJSONFilesNonRecursive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.json"), `{"posts":[]}`)
	mustWriteFile(t, filepath.Join(root, "nested", "c.json"), `{"posts":[]}`)

	files, err := collectJSONFiles(root, false)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 json file, got %d (%v)", len(files), files)
	}
}

func TestRunValidateBatches(t *testing.T) {
	t.Parallel()

	good := t.TempDir()
	mustWriteFile(t, filepath.Join(good, "batch.json"), `{
  "posts": [
    {"channel": "rbc", "text": "ЦБ сохранил ставку", "date": "2026-10-14T09:30:00Z", "views": 10}
  ],
  "posts_count": 1
}`)
	if code := runValidate([]string{"--dir", good}); code != 0 {
		t.Fatalf("expected exit 0 for a clean batch, got %d", code)
	}

	rejected := t.TempDir()
	mustWriteFile(t, filepath.Join(rejected, "batch.json"), `{
  "posts": [
    {"channel": "rbc", "text": "ЦБ сохранил ставку", "date": "2026-10-14T09:30:00Z"},
    {"channel": "rbc", "date": "2026-10-14T09:31:00Z"}
  ]
}`)
	if code := runValidate([]string{"--dir", rejected}); code != 1 {
		t.Fatalf("expected exit 1 when a post is rejected, got %d", code)
	}

	broken := t.TempDir()
	mustWriteFile(t, filepath.Join(broken, "batch.json"), `{"posts": [`)
	if code := runValidate([]string{"--dir", broken}); code != 1 {
		t.Fatalf("expected exit 1 for malformed JSON, got %d", code)
	}

	if code := runValidate([]string{"--dir", t.TempDir()}); code != 1 {
		t.Fatalf("expected exit 1 for an empty directory, got %d", code)
	}
}

func TestSampleBatchValidates(t *testing.T) {
	t.Parallel()

	if code := runValidate([]string{"--dir", filepath.Join("..", "..", "testdata", "batches")}); code != 0 {
		t.Fatalf("expected bundled sample batches to validate, got %d", code)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}
