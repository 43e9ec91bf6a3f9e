package backup

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"copycat/internal/store"
)

type fixedSource struct{ state store.State }

func (f fixedSource) Snapshot() store.State { return f.state }

type recordingUploader struct {
	names []string
	err   error
}

func (u *recordingUploader) Upload(_ context.Context, localPath, name string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	u.names = append(u.names, name)
	return u.err
}

func newTestManager(t *testing.T, up Uploader, now time.Time) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	src := fixedSource{state: store.State{
		Clipboard: []string{"[2024-05-01 10:00:00] hello"},
		Files:     []string{"a.txt", "b.pdf"},
	}}
	m := NewManager(Config{Dir: dir, RetentionDays: 7}, src, up, "test")
	m.now = func() time.Time { return now }
	return m, dir
}

func TestBackupWritesReadableSnapshot(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	m, dir := newTestManager(t, nil, now)

	path, err := m.Backup(context.Background())
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("backup written to %s, want dir %s", path, dir)
	}

	snap, err := readSnapshot(path)
	if err != nil {
		t.Fatalf("readSnapshot: %v", err)
	}
	if !snap.CreatedAt.Equal(now) || snap.Version != "test" {
		t.Errorf("unexpected metadata: %+v", snap)
	}
	if len(snap.State.Clipboard) != 1 || len(snap.State.Files) != 2 || snap.State.Files[1] != "b.pdf" {
		t.Errorf("unexpected state: %+v", snap.State)
	}

	list, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || !list[0].Timestamp.Equal(now) {
		t.Fatalf("unexpected listing: %+v", list)
	}
}

func TestBackupUploads(t *testing.T) {
	up := &recordingUploader{}
	m, _ := newTestManager(t, up, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	path, err := m.Backup(context.Background())
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if len(up.names) != 1 || up.names[0] != filepath.Base(path) {
		t.Fatalf("uploaded %v, want [%s]", up.names, filepath.Base(path))
	}
}

func TestBackupUploadFailureIsNotFatal(t *testing.T) {
	up := &recordingUploader{err: errors.New("bucket gone")}
	m, _ := newTestManager(t, up, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	path, err := m.Backup(context.Background())
	if err != nil {
		t.Fatalf("Backup should succeed locally: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("local backup missing: %v", err)
	}
}

func TestBackupPrunesExpired(t *testing.T) {
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	m, dir := newTestManager(t, nil, now)

	old := filepath.Join(dir, filePrefix+now.AddDate(0, 0, -10).Format(stampFmt)+fileSuffix)
	recent := filepath.Join(dir, filePrefix+now.AddDate(0, 0, -2).Format(stampFmt)+fileSuffix)
	unrelated := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, recent, unrelated} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := m.Backup(context.Background()); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("expected %s to be pruned", filepath.Base(old))
	}
	for _, p := range []string{recent, unrelated} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to survive: %v", filepath.Base(p), err)
		}
	}

	list, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 backups, got %d", len(list))
	}
	if !list[0].Timestamp.After(list[1].Timestamp) {
		t.Error("expected newest first")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	m, _ := newTestManager(t, nil, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	m.cfg.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		list, _ := m.List()
		if len(list) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("initial backup not written")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func readSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer gz.Close()

	err = json.NewDecoder(gz).Decode(&snap)
	return snap, err
}
