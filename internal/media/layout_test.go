package media

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestAssetDirIsCollisionFree(t *testing.T) {
	layout, err := NewLayout(t.TempDir())
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}

	pairs := [][2]string{
		{"owner-a", "asset-1"},
		{"owner-a", "asset-2"},
		{"owner-b", "asset-1"},
		{"owner-b", "asset-2"},
	}
	seen := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		dir := layout.AssetDir(pair[0], pair[1])
		if _, dup := seen[dir]; dup {
			t.Fatalf("duplicate path for distinct pair %v: %s", pair, dir)
		}
		seen[dir] = struct{}{}
		if !strings.HasPrefix(dir, layout.Root) {
			t.Fatalf("path escapes root: %s", dir)
		}
	}
}

func TestNewLayoutRequiresRoot(t *testing.T) {
	if _, err := NewLayout("   "); err == nil {
		t.Fatal("expected error for blank root")
	}
}

func TestFixedNames(t *testing.T) {
	layout, err := NewLayout(t.TempDir())
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	dir := layout.AssetDir("owner", "asset")

	if got := layout.OriginalPath(dir, ".mkv"); filepath.Base(got) != "video.mkv" {
		t.Fatalf("original name: %s", got)
	}
	if got := layout.ThumbnailPath(dir); filepath.Base(got) != "thumbnail.jpg" {
		t.Fatalf("thumbnail name: %s", got)
	}
	if got := layout.ManifestPath(dir); !strings.HasSuffix(got, filepath.Join("dash", "manifest.mpd")) {
		t.Fatalf("manifest path: %s", got)
	}
	if got := InitSegmentName(1); got != "init-stream1.m4s" {
		t.Fatalf("init segment name: %s", got)
	}
	if got := SegmentName(2, 7); got != "chunk-stream2-00007.m4s" {
		t.Fatalf("segment name: %s", got)
	}
}

func TestNormalizeExt(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"clip.MP4", ".mp4"},
		{"movie.webm", ".webm"},
		{"noext", ".mp4"},
		{"", ".mp4"},
		{"trailing.", ".mp4"},
	}
	for _, tc := range cases {
		if got := NormalizeExt(tc.filename); got != tc.want {
			t.Errorf("NormalizeExt(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func TestValidID(t *testing.T) {
	valid := []string{"user-1", "0f8fad5b-d9cb-469f-a165-70867728950e", "a"}
	for _, id := range valid {
		if !ValidID(id) {
			t.Errorf("ValidID(%q) = false, want true", id)
		}
	}
	invalid := []string{"", "  ", "..", ".", "a/b", `a\b`}
	for _, id := range invalid {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true, want false", id)
		}
	}
}

func TestEnsureConcurrentSamePath(t *testing.T) {
	fs := DiskFS{}
	dir := filepath.Join(t.TempDir(), "users", "owner", "asset")

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- fs.Ensure(dir)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Ensure errored: %v", err)
		}
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("directory missing after Ensure: %v", err)
	}
	parent := filepath.Dir(dir)
	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatalf("read parent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one directory, found %d", len(entries))
	}
}

func TestStoreIsDurableAndOverwriteSafe(t *testing.T) {
	fs := DiskFS{}
	dir := t.TempDir()
	dst := filepath.Join(dir, "video.mp4")

	if _, err := fs.Store(dst, strings.NewReader("first")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	written, err := fs.Store(dst, strings.NewReader("second upload"))
	if err != nil {
		t.Fatalf("Store overwrite: %v", err)
	}
	if written != int64(len("second upload")) {
		t.Fatalf("written = %d", written)
	}
	content, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(content) != "second upload" {
		t.Fatalf("content = %q", content)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("staging files left behind: %d entries", len(entries))
	}
}

func TestMoveRename(t *testing.T) {
	fs := DiskFS{}
	dir := t.TempDir()
	src := filepath.Join(dir, "incoming.bin")
	dst := filepath.Join(dir, "video.mp4")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("seed source: %v", err)
	}

	if err := fs.Move(src, dst); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source should be gone: %v", err)
	}
	content, err := os.ReadFile(dst)
	if err != nil || string(content) != "payload" {
		t.Fatalf("destination content wrong: %q %v", content, err)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	fs := DiskFS{}
	dir := filepath.Join(t.TempDir(), "asset")
	if err := fs.Ensure(filepath.Join(dir, "dash")); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "video.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := fs.Remove(dir); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if err := fs.Remove(dir); err != nil {
		t.Fatalf("second Remove should be a no-op: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("directory should be gone: %v", err)
	}
}

func TestListFilesSkipsDirectories(t *testing.T) {
	fs := DiskFS{}
	dir := t.TempDir()
	if err := fs.Ensure(filepath.Join(dir, "dash")); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	for _, name := range []string{"video.mp4", "thumbnail.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	names, err := fs.ListFiles(dir)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 files, got %v", names)
	}
}
