package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"fileflow/internal/storage"
	"fileflow/internal/task"
)

type fixture struct {
	reg     *task.Registry
	store   storage.TaskStore
	builder *Builder
	root    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	reg := task.NewRegistry()
	store := storage.NewDiskStore(root)
	return fixture{reg: reg, store: store, builder: NewBuilder(reg, store), root: root}
}

// seed registers a task with the given files on disk and marks it completed.
func (f fixture) seed(t *testing.T, files map[string]string) string {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	created, _, err := f.reg.CreateTaskWithFiles(task.NewTask{FileCount: len(files)}, func(taskID string) ([]task.NewFile, error) {
		out := make([]task.NewFile, 0, len(names))
		for _, name := range names {
			entry, err := f.store.Put(context.Background(), taskID, name, strings.NewReader(files[name]))
			if err != nil {
				return nil, err
			}
			out = append(out, task.NewFile{FileName: name, FileType: "application/pdf", FileSize: entry.Size, FilePath: entry.Path})
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.complete(created.ID)
	return created.ID
}

func (f fixture) complete(taskID string) {
	f.reg.UpdateTask(taskID, task.TaskUpdate{
		Status:         task.Ptr(task.StatusCompleted),
		Progress:       task.Ptr(100),
		ProcessedCount: task.Ptr(1),
		CompletedAt:    task.Ptr(time.Now()),
	})
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	out := make(map[string]string, len(zr.File))
	for _, zf := range zr.File {
		if zf.Method != zip.Deflate {
			t.Fatalf("entry %s not deflated", zf.Name)
		}
		rc, err := zf.Open()
		if err != nil {
			t.Fatalf("open entry: %v", err)
		}
		b, _ := io.ReadAll(rc)
		_ = rc.Close()
		out[zf.Name] = string(b)
	}
	return out
}

func TestPreparePreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.builder.Prepare(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}

	pending := f.reg.CreateTask(task.NewTask{FileCount: 1})
	if _, err := f.builder.Prepare(ctx, pending.ID); !errors.Is(err, ErrTaskNotReady) {
		t.Fatalf("expected ErrTaskNotReady, got %v", err)
	}
	f.reg.UpdateTask(pending.ID, task.TaskUpdate{Status: task.Ptr(task.StatusFailed)})
	if _, err := f.builder.Prepare(ctx, pending.ID); !errors.Is(err, ErrTaskNotReady) {
		t.Fatalf("expected ErrTaskNotReady for failed task, got %v", err)
	}

	noDir := f.reg.CreateTask(task.NewTask{FileCount: 1})
	f.complete(noDir.ID)
	if _, err := f.builder.Prepare(ctx, noDir.ID); !errors.Is(err, ErrNoFilesAvailable) {
		t.Fatalf("expected ErrNoFilesAvailable for missing dir, got %v", err)
	}

	emptyDir := f.reg.CreateTask(task.NewTask{FileCount: 1})
	f.complete(emptyDir.ID)
	if err := os.MkdirAll(filepath.Join(f.root, emptyDir.ID), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := f.builder.Prepare(ctx, emptyDir.ID); !errors.Is(err, ErrNoFilesAvailable) {
		t.Fatalf("expected ErrNoFilesAvailable for empty dir, got %v", err)
	}
}

func TestSingleFileIsServedRaw(t *testing.T) {
	f := newFixture(t)
	taskID := f.seed(t, map[string]string{"report.pdf": "%PDF-1.4 original bytes"})

	dl, err := f.builder.Prepare(context.Background(), taskID)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer func() { _ = dl.Close() }()

	if dl.IsArchive() || dl.Entries() != 1 {
		t.Fatalf("expected single-file download")
	}
	if dl.Filename != "processed_report.pdf" || dl.ContentType != "application/pdf" {
		t.Fatalf("unexpected metadata: %+v", dl)
	}
	var buf bytes.Buffer
	if _, err := dl.Stream(context.Background(), &buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.String() != "%PDF-1.4 original bytes" || dl.Size != int64(buf.Len()) {
		t.Fatalf("bytes differ: %q size=%d", buf.String(), dl.Size)
	}
}

func TestMultipleFilesStreamZip(t *testing.T) {
	f := newFixture(t)
	files := map[string]string{
		"a.jpg": strings.Repeat("a", 4096),
		"b.jpg": "bee",
		"c.pdf": "%PDF",
	}
	taskID := f.seed(t, files)

	download := func() []byte {
		dl, err := f.builder.Prepare(context.Background(), taskID)
		if err != nil {
			t.Fatalf("prepare: %v", err)
		}
		if !dl.IsArchive() || dl.Filename != "processed_"+taskID+".zip" || dl.ContentType != "application/zip" {
			t.Fatalf("unexpected archive metadata: %+v", dl)
		}
		var buf bytes.Buffer
		n, err := dl.Stream(context.Background(), &buf)
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		if n != int64(buf.Len()) {
			t.Fatalf("reported %d bytes, wrote %d", n, buf.Len())
		}
		return buf.Bytes()
	}

	first := download()
	entries := readZip(t, first)
	if len(entries) != len(files) {
		t.Fatalf("expected %d entries, got %d", len(files), len(entries))
	}
	for name, content := range files {
		if entries["processed_"+name] != content {
			t.Fatalf("entry processed_%s mismatch", name)
		}
	}

	second := download()
	if !bytes.Equal(first, second) {
		t.Fatalf("repeated downloads differ")
	}
}

func TestVanishedFileIsSkipped(t *testing.T) {
	f := newFixture(t)
	taskID := f.seed(t, map[string]string{"keep.pdf": "k", "gone.pdf": "g", "also.pdf": "a"})

	dl, err := f.builder.Prepare(context.Background(), taskID)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := os.Remove(filepath.Join(f.root, taskID, "gone.pdf")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	var buf bytes.Buffer
	if _, err := dl.Stream(context.Background(), &buf); err != nil {
		t.Fatalf("stream: %v", err)
	}
	entries := readZip(t, buf.Bytes())
	if _, ok := entries["processed_gone.pdf"]; ok || len(entries) != 2 {
		t.Fatalf("expected vanished file to be skipped, got %v", entries)
	}
}

// noise returns incompressible content so the archive spans many writes.
func noise(seed int64, size int) string {
	buf := make([]byte, size)
	_, _ = rand.New(rand.NewSource(seed)).Read(buf)
	return string(buf)
}

type brokenWriter struct{ after int }

func (w *brokenWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("connection reset")
	}
	w.after--
	return len(p), nil
}

func TestSinkFailureAbortsStream(t *testing.T) {
	f := newFixture(t)
	taskID := f.seed(t, map[string]string{"a.bin": noise(1, 1<<20), "b.bin": noise(2, 1<<20)})

	dl, err := f.builder.Prepare(context.Background(), taskID)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	_, err = dl.Stream(context.Background(), &brokenWriter{after: 1})
	if !errors.Is(err, ErrArchiveFailed) || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected archive failure, got %v", err)
	}
}

func TestCancelledContextStopsProducer(t *testing.T) {
	f := newFixture(t)
	taskID := f.seed(t, map[string]string{"a.pdf": "a", "b.pdf": "b"})

	dl, err := f.builder.Prepare(context.Background(), taskID)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := dl.Stream(ctx, io.Discard); !errors.Is(err, ErrArchiveFailed) {
		t.Fatalf("expected archive failure for cancelled context, got %v", err)
	}
}
