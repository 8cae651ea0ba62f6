// internal/snapshot/archive.go
package snapshot

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// errUnsafePath rejects archive entries that would escape the
// extraction root.
var errUnsafePath = errors.New("archive entry path escapes extraction root")

// CreateArchive writes a zstd-compressed tar archive containing the
// given paths, read relative to root. Paths that no longer exist on
// disk are skipped. Returns the number of files written; when zero,
// the archive file is removed and the caller should treat the result
// as "no content to restore".
func CreateArchive(archivePath, root string, paths []string) (int, error) {
	f, err := os.Create(archivePath)
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	written := 0
	for _, path := range paths {
		abs := filepath.Join(root, path)
		info, err := os.Lstat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return written, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		hdr := &tar.Header{
			Name: filepath.ToSlash(path),
			Mode: int64(info.Mode().Perm()),
			Size: info.Size(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return written, fmt.Errorf("write tar header for %s: %w", path, err)
		}

		src, err := os.Open(abs)
		if err != nil {
			return written, fmt.Errorf("open %s: %w", path, err)
		}
		_, err = io.Copy(tw, src)
		src.Close()
		if err != nil {
			return written, fmt.Errorf("archive %s: %w", path, err)
		}
		written++
	}

	if err := tw.Close(); err != nil {
		return written, fmt.Errorf("close tar writer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("close zstd writer: %w", err)
	}

	if written == 0 {
		f.Close()
		os.Remove(archivePath)
	}
	return written, nil
}

// ListArchive returns the file paths contained in an archive without
// extracting anything.
func ListArchive(archivePath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open zstd reader: %w", err)
	}
	defer zr.Close()

	var paths []string
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(hdr.Name)) {
			return nil, fmt.Errorf("%w: %s", errUnsafePath, hdr.Name)
		}
		paths = append(paths, filepath.FromSlash(hdr.Name))
	}
	return paths, nil
}

// ExtractArchive unpacks an archive over root and returns the paths it
// wrote. Only the archived files are touched; entries that would land
// outside root are rejected before anything is written.
func ExtractArchive(archivePath, root string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open zstd reader: %w", err)
	}
	defer zr.Close()

	var written []string
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		rel := filepath.FromSlash(hdr.Name)
		if !filepath.IsLocal(rel) {
			return written, fmt.Errorf("%w: %s", errUnsafePath, hdr.Name)
		}

		dest := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return written, fmt.Errorf("create dir for %s: %w", rel, err)
		}

		mode := os.FileMode(hdr.Mode) & os.ModePerm
		if mode == 0 {
			mode = 0644
		}
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
		if err != nil {
			return written, fmt.Errorf("create %s: %w", rel, err)
		}
		_, err = io.Copy(out, tr)
		out.Close()
		if err != nil {
			return written, fmt.Errorf("extract %s: %w", rel, err)
		}
		written = append(written, rel)
	}
	return written, nil
}
