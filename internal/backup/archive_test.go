package backup

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

// readArchive returns the regular file contents of a tar.zst keyed by name.
func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer zr.Close()

	files := map[string]string{}
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("reading tar: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("reading %s: %v", hdr.Name, err)
		}
		files[hdr.Name] = string(data)
	}
	return files
}

func TestArchive(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "blog.json"), `[{"uid":"b1"}]`)
	writeFile(t, filepath.Join(src, "assets", "logo.json"), `{}`)

	dst := filepath.Join(t.TempDir(), "out.tar.zst")
	if err := Archive(src, dst); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	files := readArchive(t, dst)
	want := map[string]string{
		"blog.json":        `[{"uid":"b1"}]`,
		"assets/logo.json": `{}`,
	}
	if len(files) != len(want) {
		t.Fatalf("got %d files, want %d: %v", len(files), len(want), files)
	}
	for name, content := range want {
		if files[name] != content {
			t.Errorf("%s = %q, want %q", name, files[name], content)
		}
	}
}

func TestArchiveMissingSource(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.tar.zst")
	if err := Archive(filepath.Join(t.TempDir(), "missing"), dst); err == nil {
		t.Fatal("expected error for missing source")
	}
	if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("partial archive left behind: %v", err)
	}
}

func TestSnapshotCompressed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "en-us", "blog.json"), "[]")

	path, err := Snapshot(root, "en-us", true, FormatTarZstd, time.UnixMilli(1700000000123))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	want := filepath.Join(root, "1700000000123_en-us_backup.tar.zst")
	if path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
	if files := readArchive(t, path); files["blog.json"] != "[]" {
		t.Errorf("unexpected archive contents: %v", files)
	}
}
