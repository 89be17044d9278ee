// Package backup snapshots local locale content before a run overwrites it.
package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BadgerOps/stacksync/internal/safety"
)

// IsEmpty reports whether dir is missing or has no entries.
func IsEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("opening %s: %w", dir, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s is not a directory", dir)
	}

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", dir, err)
	}
	return false, nil
}

// Copy recursively copies src to dst. Regular files keep their permission
// bits; symlinks are recreated, not followed.
func Copy(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if !srcInfo.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}

// Format selects how a snapshot is stored.
type Format string

const (
	// FormatDir copies the locale directory as is.
	FormatDir Format = "dir"
	// FormatTarZstd writes a single zstd-compressed tarball.
	FormatTarZstd Format = "tar.zst"
)

// Snapshot prepares contentDir/locale for a run. When the directory holds
// content and enabled is set, it is saved as contentDir/<millis>_<locale>_backup
// (with a .tar.zst suffix for FormatTarZstd) and the backup path is returned.
// An empty or missing directory is created and no backup is taken.
func Snapshot(contentDir, locale string, enabled bool, format Format, now time.Time) (string, error) {
	localeDir, err := safety.SafeJoinUnder(contentDir, locale)
	if err != nil {
		return "", fmt.Errorf("locale directory: %w", err)
	}

	empty, err := IsEmpty(localeDir)
	if err != nil {
		return "", err
	}
	if empty {
		if err := os.MkdirAll(localeDir, 0o755); err != nil {
			return "", fmt.Errorf("creating %s: %w", localeDir, err)
		}
		return "", nil
	}
	if !enabled {
		return "", nil
	}

	name := strconv.FormatInt(now.UnixMilli(), 10) + "_" + locale + "_backup"
	if format == FormatTarZstd {
		name += ".tar.zst"
	}
	dst, err := safety.SafeJoinUnder(contentDir, name)
	if err != nil {
		return "", fmt.Errorf("backup directory: %w", err)
	}

	switch format {
	case FormatTarZstd:
		err = Archive(localeDir, dst)
	case FormatDir, "":
		err = Copy(localeDir, dst)
	default:
		return "", fmt.Errorf("unsupported backup format %q", format)
	}
	if err != nil {
		return "", fmt.Errorf("backing up %s: %w", localeDir, err)
	}
	return dst, nil
}
