package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) (*LocalStorage, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLocalStorage(LocalConfig{BasePath: dir, BaseURL: "http://localhost:8080/files/"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s, dir
}

func TestLocalStorage_PutDeleteURL(t *testing.T) {
	s, dir := newTestLocal(t)
	ctx := context.Background()
	key := "forms/abc/files/one.txt"

	require.NoError(t, s.Put(ctx, key, strings.NewReader("hello"), PutOptions{ContentType: "text/plain"}))

	got, err := os.ReadFile(filepath.Join(dir, key))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	url, err := s.URL(ctx, key, 0)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/forms/abc/files/one.txt", url)

	require.NoError(t, s.Delete(ctx, key))
	_, err = os.Stat(filepath.Join(dir, key))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, s.Delete(ctx, key), "deleting a missing key is not an error")
}

func TestLocalStorage_MaxSize(t *testing.T) {
	s, dir := newTestLocal(t)
	ctx := context.Background()

	err := s.Put(ctx, "big.bin", bytes.NewReader(make([]byte, 11)), PutOptions{MaxSize: 10})
	assert.True(t, IsTooLarge(err))

	_, statErr := os.Stat(filepath.Join(dir, "big.bin"))
	assert.True(t, os.IsNotExist(statErr), "oversized upload must not be left behind")

	assert.NoError(t, s.Put(ctx, "fits.bin", bytes.NewReader(make([]byte, 10)), PutOptions{MaxSize: 10}))
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx := context.Background()

	for _, key := range []string{"", "../outside", "forms/../../etc/passwd", "/etc/passwd"} {
		err := s.Put(ctx, key, strings.NewReader("x"), PutOptions{})
		assert.True(t, errors.Is(err, ErrInvalidKey), "key %q", key)
	}
}

func TestLocalStorage_CanceledContext(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Put(ctx, "a.txt", strings.NewReader("x"), PutOptions{}), context.Canceled)
}

func TestFileKey(t *testing.T) {
	formID := uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")

	key := FileKey(formID, "Resume.PDF", "application/pdf")
	assert.True(t, strings.HasPrefix(key, "forms/123e4567-e89b-12d3-a456-426614174000/files/"))
	assert.True(t, strings.HasSuffix(key, ".pdf"))

	key = FileKey(formID, "noext", "text/csv")
	assert.True(t, strings.HasSuffix(key, ".csv"))

	assert.NotEqual(t, FileKey(formID, "a.txt", ""), FileKey(formID, "a.txt", ""))
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name     string
		provided string
		filename string
		data     io.Reader
		want     string
	}{
		{"provided wins", "image/png", "photo.jpg", nil, "image/png"},
		{"octet-stream falls through to extension", "application/octet-stream", "doc.pdf", nil, "application/pdf"},
		{"sniffed", "", "noext", strings.NewReader("%PDF-1.4 rest"), "application/pdf"},
		{"fallback", "", "noext", nil, "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectContentType(tt.provided, tt.filename, tt.data))
		})
	}
}

func TestIsAllowedUploadType(t *testing.T) {
	assert.True(t, IsAllowedUploadType("application/pdf"))
	assert.True(t, IsAllowedUploadType("text/csv; charset=utf-8"))
	assert.False(t, IsAllowedUploadType("application/x-msdownload"))
	assert.False(t, IsAllowedUploadType("Application/X-SH"))
	assert.False(t, IsAllowedUploadType(""))
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "ftp"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
