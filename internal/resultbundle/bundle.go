// Package resultbundle packs a results directory into a single zip archive
// for transports that carry one payload per submission.
package resultbundle

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// Bundle is a zipped results directory.
type Bundle struct {
	Data  []byte
	Files int
}

// Zip archives every regular file under dir using slash-separated paths
// relative to dir. Symlinks and other special files are skipped. An empty
// directory is an error.
func Zip(dir string) (*Bundle, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		if err := copyFile(w, path); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", dir, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("bundle %s: close zip: %w", dir, err)
	}
	if files == 0 {
		return nil, fmt.Errorf("bundle %s: no files to publish", dir)
	}

	return &Bundle{Data: buf.Bytes(), Files: files}, nil
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}
