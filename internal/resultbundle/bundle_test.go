package resultbundle

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		files[f.Name] = string(body)
	}
	return files
}

func TestZipCollectsNestedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.xml"), []byte("<testsuite/>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "html", "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "html", "css", "style.css"), []byte("body{}"), 0o644))

	bundle, err := Zip(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, bundle.Files)

	files := readZip(t, bundle.Data)
	assert.Equal(t, map[string]string{
		"report.xml":         "<testsuite/>",
		"html/css/style.css": "body{}",
	}, files)
}

func TestZipSkipsSymlinks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.xml"), []byte("ok"), 0o644))
	if err := os.Symlink("/etc/hostname", filepath.Join(dir, "leak")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	bundle, err := Zip(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, bundle.Files)
	assert.NotContains(t, readZip(t, bundle.Data), "leak")
}

func TestZipRejectsEmptyDirectory(t *testing.T) {
	_, err := Zip(t.TempDir())
	require.Error(t, err)
}

func TestZipMissingDirectory(t *testing.T) {
	_, err := Zip(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestEncodeWrapsBundle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.xml"), []byte("<testsuite/>"), 0o644))

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))
	payload, err := Encode("s1", dir, now)
	require.NoError(t, err)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(payload, &envelope))
	assert.Equal(t, "s1", envelope.SubmissionID)
	assert.Equal(t, 1, envelope.Files)
	assert.True(t, envelope.PublishedAt.Equal(now))
	assert.Equal(t, map[string]string{"report.xml": "<testsuite/>"}, readZip(t, envelope.Archive))
}
