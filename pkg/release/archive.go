package release

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExtractArchive materializes a zip bundle into the destination
// directory, creating it when absent. Parent directories are created
// per entry, so files do not depend on explicit directory entries
// preceding them in the archive.
//
// On failure the partially written tree is left in place for
// inspection.
func ExtractArchive(bundle []byte, destination string) error {
	reader, err := zip.NewReader(bytes.NewReader(bundle), int64(len(bundle)))
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}

	err = os.MkdirAll(destination, 0o755)
	if err != nil {
		return err
	}

	for _, file := range reader.File {
		path, err := entryPath(destination, file.Name)
		if err != nil {
			return err
		}

		if file.FileInfo().IsDir() {
			err = os.MkdirAll(path, 0o755)
			if err != nil {
				return err
			}
			continue
		}

		err = writeEntry(path, file)
		if err != nil {
			return fmt.Errorf("extract %s: %w", file.Name, err)
		}
	}

	return nil
}

// entryPath maps an archive entry name onto the destination tree,
// rejecting names that would escape it.
func entryPath(destination, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute path in bundle: %s", name)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal in bundle: %s", name)
	}
	return filepath.Join(destination, clean), nil
}

func writeEntry(path string, file *zip.File) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	_, err = io.Copy(dst, src)
	if err != nil {
		dst.Close()
		return err
	}

	return dst.Close()
}
