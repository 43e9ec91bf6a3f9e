package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Options{
		UploadDir: filepath.Join(dir, "uploads"),
		DataFile:  filepath.Join(dir, "data.json"),
		Now:       func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func readState(t *testing.T, s *Store) State {
	t.Helper()
	b, err := os.ReadFile(s.DataFile())
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func TestAddClipboardEntry(t *testing.T) {
	s := newTestStore(t)

	entry, err := s.AddClipboardEntry("hello")
	if err != nil {
		t.Fatalf("AddClipboardEntry() error = %v", err)
	}
	want := "[2024-03-09 14:05:07] hello"
	if entry != want {
		t.Errorf("entry = %q, want %q", entry, want)
	}
	if got := s.Clipboard(); len(got) != 1 || got[0] != want {
		t.Errorf("Clipboard() = %v, want [%q]", got, want)
	}
	if st := readState(t, s); len(st.Clipboard) != 1 || st.Clipboard[0] != want {
		t.Errorf("persisted clipboard = %v", st.Clipboard)
	}
}

func TestAddClipboardEntryRejectsBlank(t *testing.T) {
	tests := []string{"", "  ", "\t\n", " \r\n "}
	s := newTestStore(t)
	for _, text := range tests {
		t.Run(fmt.Sprintf("%q", text), func(t *testing.T) {
			if _, err := s.AddClipboardEntry(text); !errors.Is(err, ErrEmptyText) {
				t.Errorf("err = %v, want ErrEmptyText", err)
			}
			if n := len(s.Clipboard()); n != 0 {
				t.Errorf("clipboard length = %d, want 0", n)
			}
		})
	}
}

func TestClipboardCapEvictsOldest(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 150; i++ {
		if _, err := s.AddClipboardEntry(fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	got := s.Clipboard()
	if len(got) != DefaultMaxClipboard {
		t.Fatalf("length = %d, want %d", len(got), DefaultMaxClipboard)
	}
	if !strings.HasSuffix(got[0], "msg 50") {
		t.Errorf("oldest = %q, want msg 50", got[0])
	}
	if !strings.HasSuffix(got[99], "msg 149") {
		t.Errorf("newest = %q, want msg 149", got[99])
	}
}

func TestDeleteClipboardEntry(t *testing.T) {
	s := newTestStore(t)
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		if _, err := s.AddClipboardEntry(m); err != nil {
			t.Fatal(err)
		}
	}

	// delete indices 1 then 2 of the shifted list: removes b then d
	for _, idx := range []int{1, 2} {
		if _, err := s.DeleteClipboardEntry(idx); err != nil {
			t.Fatalf("DeleteClipboardEntry(%d) error = %v", idx, err)
		}
	}

	got := s.Clipboard()
	var suffixes []string
	for _, e := range got {
		suffixes = append(suffixes, e[strings.LastIndex(e, " ")+1:])
	}
	if strings.Join(suffixes, ",") != "a,c,e" {
		t.Errorf("remaining = %v, want a,c,e", suffixes)
	}
}

func TestDeleteClipboardEntryOutOfRange(t *testing.T) {
	s := newTestStore(t)
	for _, m := range []string{"a", "b", "c"} {
		if _, err := s.AddClipboardEntry(m); err != nil {
			t.Fatal(err)
		}
	}

	for _, idx := range []int{5, 3, -1} {
		if _, err := s.DeleteClipboardEntry(idx); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("DeleteClipboardEntry(%d) err = %v, want ErrIndexOutOfRange", idx, err)
		}
	}
	if n := len(s.Clipboard()); n != 3 {
		t.Errorf("length = %d, want 3", n)
	}
}

func TestResetClipboard(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.AddClipboardEntry("x")
	s.ResetClipboard()

	if n := len(s.Clipboard()); n != 0 {
		t.Errorf("length = %d, want 0", n)
	}
	st := readState(t, s)
	if st.Clipboard == nil || len(st.Clipboard) != 0 {
		t.Errorf("persisted clipboard = %#v, want empty array", st.Clipboard)
	}
}

func TestAddFileUniqueNames(t *testing.T) {
	s := newTestStore(t)

	names := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		name, err := s.AddFile("a.txt", strings.NewReader(fmt.Sprintf("v%d", i)))
		if err != nil {
			t.Fatalf("AddFile() error = %v", err)
		}
		names = append(names, name)
	}

	want := []string{"a.txt", "a_1.txt", "a_2.txt"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("name[%d] = %q, want %q", i, names[i], want[i])
		}
		b, err := os.ReadFile(filepath.Join(s.UploadDir(), names[i]))
		if err != nil {
			t.Fatalf("read %s: %v", names[i], err)
		}
		if string(b) != fmt.Sprintf("v%d", i) {
			t.Errorf("%s content = %q", names[i], b)
		}
	}
}

func TestAddFileExistingOnDisk(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(filepath.Join(s.UploadDir(), "a.txt"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	name, err := s.AddFile("a.txt", strings.NewReader("new"))
	if err != nil {
		t.Fatal(err)
	}
	if name != "a_1.txt" {
		t.Errorf("name = %q, want a_1.txt", name)
	}
}

func TestAddFileSanitizes(t *testing.T) {
	s := newTestStore(t)

	name, err := s.AddFile("../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if name != "etc_passwd" {
		t.Errorf("name = %q, want etc_passwd", name)
	}

	name, err = s.AddFile("///", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if name != PlaceholderName {
		t.Errorf("name = %q, want %q", name, PlaceholderName)
	}
}

func TestConcurrentUploadsGetDistinctNames(t *testing.T) {
	s := newTestStore(t)

	const n = 20
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		names = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, err := s.AddFile("same.bin", strings.NewReader("data"))
			if err != nil {
				t.Errorf("AddFile() error = %v", err)
				return
			}
			mu.Lock()
			names[name] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(names) != n {
		t.Errorf("distinct names = %d, want %d", len(names), n)
	}
	files, err := s.ListFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != n {
		t.Errorf("ListFiles() = %d entries, want %d", len(files), n)
	}
}

func TestUploadAbortReleasesName(t *testing.T) {
	s := newTestStore(t)

	up, err := s.Begin("doc.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if up.Name() != "doc.pdf" {
		t.Fatalf("Name() = %q", up.Name())
	}
	_, _ = up.Write([]byte("partial"))
	up.Abort()

	entries, err := os.ReadDir(s.UploadDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("upload dir has %d entries after abort, want 0", len(entries))
	}

	up2, err := s.Begin("doc.pdf")
	if err != nil {
		t.Fatal(err)
	}
	defer up2.Abort()
	if up2.Name() != "doc.pdf" {
		t.Errorf("name after abort = %q, want doc.pdf", up2.Name())
	}
}

func TestPendingUploadHiddenFromList(t *testing.T) {
	s := newTestStore(t)

	up, err := s.Begin("big.iso")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = up.Write([]byte("chunk"))

	files, err := s.ListFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("ListFiles() during upload = %v, want empty", files)
	}

	if err := up.Commit(); err != nil {
		t.Fatal(err)
	}
	files, _ = s.ListFiles()
	if len(files) != 1 || files[0] != "big.iso" {
		t.Errorf("ListFiles() after commit = %v", files)
	}
}

func TestRemoveFile(t *testing.T) {
	tests := []struct {
		name    string
		onDisk  bool
		inList  bool
		wantErr error
	}{
		{"disk and list", true, true, nil},
		{"disk only", true, false, nil},
		{"list only", false, true, nil},
		{"neither", false, false, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			if tt.onDisk {
				if err := os.WriteFile(filepath.Join(s.UploadDir(), "f.txt"), []byte("x"), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			if tt.inList {
				s.files = append(s.files, "f.txt")
			}

			err := s.RemoveFile("f.txt")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("RemoveFile() err = %v, want %v", err, tt.wantErr)
			}
			if _, statErr := os.Stat(filepath.Join(s.UploadDir(), "f.txt")); !os.IsNotExist(statErr) {
				t.Errorf("file still on disk")
			}
			if len(s.Snapshot().Files) != 0 {
				t.Errorf("file still listed")
			}
		})
	}
}

func TestRemoveFileRejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	outside := filepath.Join(filepath.Dir(s.UploadDir()), "secret.txt")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"../secret.txt", "..", "", "a/b"} {
		if err := s.RemoveFile(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("RemoveFile(%q) err = %v, want ErrNotFound", name, err)
		}
	}
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("file outside upload dir was touched: %v", err)
	}
}

func TestResetFilesWithMissingFile(t *testing.T) {
	s := newTestStore(t)
	for _, n := range []string{"a.txt", "b.txt", "c.txt"} {
		if _, err := s.AddFile(n, strings.NewReader(n)); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Remove(filepath.Join(s.UploadDir(), "b.txt")); err != nil {
		t.Fatal(err)
	}

	if got := s.ResetFiles(); got != 3 {
		t.Errorf("ResetFiles() = %d, want 3", got)
	}
	entries, _ := os.ReadDir(s.UploadDir())
	if len(entries) != 0 {
		t.Errorf("upload dir has %d entries, want 0", len(entries))
	}
	if st := readState(t, s); len(st.Files) != 0 {
		t.Errorf("persisted files = %v", st.Files)
	}
}

func TestListFilesReconciles(t *testing.T) {
	s := newTestStore(t)
	for _, n := range []string{"b.txt", "a.txt"} {
		if _, err := s.AddFile(n, strings.NewReader(n)); err != nil {
			t.Fatal(err)
		}
	}

	// in sync: memory order is kept
	files, err := s.ListFiles()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(files, ",") != "b.txt,a.txt" {
		t.Errorf("in-sync list = %v", files)
	}

	// out of band changes: directory wins, sorted
	if err := os.Remove(filepath.Join(s.UploadDir(), "b.txt")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.UploadDir(), "c.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(s.UploadDir(), "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err = s.ListFiles()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(files, ",") != "a.txt,c.txt" {
		t.Errorf("reconciled list = %v, want a.txt,c.txt", files)
	}
	if st := readState(t, s); strings.Join(st.Files, ",") != "a.txt,c.txt" {
		t.Errorf("persisted files = %v", st.Files)
	}
}

func TestStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		UploadDir: filepath.Join(dir, "uploads"),
		DataFile:  filepath.Join(dir, "data.json"),
		Now:       func() time.Time { return fixedNow },
	}

	s1, err := Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = s1.AddClipboardEntry("one")
	_, _ = s1.AddClipboardEntry("two")
	if _, err := s1.AddFile("x.bin", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	a, b := s1.Snapshot(), s2.Snapshot()
	if strings.Join(a.Clipboard, "|") != strings.Join(b.Clipboard, "|") {
		t.Errorf("clipboard after reload = %v, want %v", b.Clipboard, a.Clipboard)
	}
	if strings.Join(a.Files, "|") != strings.Join(b.Files, "|") {
		t.Errorf("files after reload = %v, want %v", b.Files, a.Files)
	}
}

func TestOpenCorruptState(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data.json")
	if err := os.WriteFile(data, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(Options{UploadDir: filepath.Join(dir, "uploads"), DataFile: data})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	st := s.Snapshot()
	if len(st.Clipboard) != 0 || len(st.Files) != 0 {
		t.Errorf("state = %+v, want empty", st)
	}
}

func TestPersistFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	// parent of the state file is a regular file, so every save fails
	s, err := Open(Options{
		UploadDir: filepath.Join(dir, "uploads"),
		DataFile:  filepath.Join(blocker, "data.json"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.AddClipboardEntry("still works"); err != nil {
		t.Fatalf("AddClipboardEntry() error = %v", err)
	}
	if n := len(s.Clipboard()); n != 1 {
		t.Errorf("length = %d, want 1", n)
	}
}

func TestSubscribe(t *testing.T) {
	s := newTestStore(t)

	var got []Change
	s.Subscribe(func(c Change) { got = append(got, c) })

	_, _ = s.AddClipboardEntry("hi")
	_, _ = s.AddFile("a.txt", strings.NewReader("a"))
	_ = s.RemoveFile("a.txt")
	s.ResetClipboard()

	want := []Change{
		{Kind: KindClipboard, Action: "clipboard_add"},
		{Kind: KindFiles, Action: "file_add", Resource: "a.txt"},
		{Kind: KindFiles, Action: "file_remove", Resource: "a.txt"},
		{Kind: KindClipboard, Action: "clipboard_reset"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d changes, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
