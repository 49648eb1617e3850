// Package testutil builds archive fixtures and records job events for tests.
package testutil

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// File is one fixture entry. Names ending in "/" are directories.
type File struct {
	Name   string
	Body   string
	Stored bool
}

// Fixed modification time for fixture entries
var Modified = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// ZipBytes builds an archive in memory
func ZipBytes(t testing.TB, files ...File) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		hdr := &zip.FileHeader{Name: f.Name, Modified: Modified, Method: zip.Deflate}
		if f.Stored || strings.HasSuffix(f.Name, "/") {
			hdr.Method = zip.Store
		}
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		if !strings.HasSuffix(f.Name, "/") {
			_, err = io.WriteString(w, f.Body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// WriteZip writes an archive fixture to path, creating parent directories
func WriteZip(t testing.TB, path string, files ...File) {
	t.Helper()
	WriteFile(t, path, string(ZipBytes(t, files...)))
}

// WriteFile writes content to path, creating parent directories
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// ReadFile returns the content of path
func ReadFile(t testing.TB, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// ZipNames lists the record names of the archive at path in physical order
func ZipNames(t testing.TB, path string) []string {
	t.Helper()
	return namesOf(t, openZip(t, ReadFile(t, path)))
}

// ZipContents maps every file record of the archive at path to its content
func ZipContents(t testing.TB, path string) map[string]string {
	t.Helper()
	return ZipContentsOf(t, []byte(ReadFile(t, path)))
}

// ZipContentsOf maps every file record of an in-memory archive to its content
func ZipContentsOf(t testing.TB, data []byte) map[string]string {
	t.Helper()

	zr := openZip(t, string(data))
	out := make(map[string]string)
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(body)
	}
	return out
}

// NestedEntry reads name out of the archive stored as entry nested inside
// the archive at path
func NestedEntry(t testing.TB, path, nested, name string) string {
	t.Helper()

	inner := ZipContents(t, path)[nested]
	require.NotEmpty(t, inner, "nested archive %s missing", nested)
	return ZipContentsOf(t, []byte(inner))[name]
}

// TempFiles returns the leftover rebuild/stream temp files under dir
func TempFiles(t testing.TB, dir string) []string {
	t.Helper()

	var out []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if strings.Contains(info.Name(), ".tmp.") {
			out = append(out, p)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func openZip(t testing.TB, data string) *zip.Reader {
	t.Helper()
	zr, err := zip.NewReader(strings.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return zr
}

func namesOf(t testing.TB, zr *zip.Reader) []string {
	t.Helper()
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}
