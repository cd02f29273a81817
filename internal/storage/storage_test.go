package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)
	return s
}

func TestLocalStorage_PutGetDelete(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	err := s.Put(ctx, "abc_mold_0_0.jpg", strings.NewReader("jpeg bytes"), PutOptions{})
	require.NoError(t, err)

	rc, info, err := s.Get(ctx, "abc_mold_0_0.jpg")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, "jpeg bytes", string(body))
	assert.Equal(t, int64(len("jpeg bytes")), info.Size)
	assert.Equal(t, "image/jpeg", info.ContentType)

	require.NoError(t, s.Delete(ctx, "abc_mold_0_0.jpg"))
	_, _, err = s.Get(ctx, "abc_mold_0_0.jpg")
	assert.True(t, IsNotFound(err))

	// Deleting again is not an error.
	assert.NoError(t, s.Delete(ctx, "abc_mold_0_0.jpg"))
}

func TestLocalStorage_Overwrite(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k.jpg", strings.NewReader("one"), PutOptions{}))

	err := s.Put(ctx, "k.jpg", strings.NewReader("two"), PutOptions{})
	assert.True(t, errors.Is(err, ErrKeyExists))

	require.NoError(t, s.Put(ctx, "k.jpg", strings.NewReader("three"), PutOptions{Overwrite: true}))
	rc, _, err := s.Get(ctx, "k.jpg")
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "three", string(body))
}

func TestLocalStorage_MaxSize(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	err := s.Put(ctx, "big.mp4", strings.NewReader("0123456789"), PutOptions{MaxSize: 5})
	assert.True(t, IsTooLarge(err))

	_, _, err = s.Get(ctx, "big.mp4")
	assert.True(t, IsNotFound(err), "oversized upload must not be left behind")

	require.NoError(t, s.Put(ctx, "ok.mp4", strings.NewReader("01234"), PutOptions{MaxSize: 5}))
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	for _, key := range []string{"", "../escape.jpg", "a/../../escape.jpg", ".", "/etc/passwd"} {
		t.Run(key, func(t *testing.T) {
			err := s.Put(ctx, key, strings.NewReader("x"), PutOptions{})
			assert.True(t, IsInvalidKey(err), "key %q", key)
		})
	}
}

func TestLocalStorage_Path(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(LocalConfig{BasePath: dir}, testLogger())
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "sess_walk.mp4", strings.NewReader("video"), PutOptions{}))

	path, err := s.Path("sess_walk.mp4")
	require.NoError(t, err)

	absDir, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(absDir, "sess_walk.mp4"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))

	_, err = s.Path("../x")
	assert.True(t, IsInvalidKey(err))
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	s := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Put(ctx, "k.jpg", strings.NewReader("x"), PutOptions{}), context.Canceled)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "s1_mold_30_0.jpg", ThumbnailName("s1", "mold_30_0"))

	tests := []struct {
		filename string
		want     string
	}{
		{"walkthrough.mp4", "s1_walkthrough.mp4"},
		{"../../etc/passwd", "s1_passwd"},
		{`C:\videos\basement.mov`, "s1_basement.mov"},
		{"", "s1_video"},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, UploadName("s1", tt.filename))
		})
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("s1_mold_30_0.jpg"))

	for _, name := range []string{"", ".", "..", "a/b.jpg", `a\b.jpg`, "..jpg"} {
		assert.True(t, IsInvalidKey(ValidateName(name)), "name %q", name)
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name     string
		provided string
		filename string
		data     io.Reader
		want     string
	}{
		{"provided wins", "video/webm", "a.mp4", nil, "video/webm"},
		{"mp4 extension", "", "a.MP4", nil, "video/mp4"},
		{"mov extension", "", "a.mov", nil, "video/quicktime"},
		{"thumbnail", "", "s_mold_0_0.jpg", nil, "image/jpeg"},
		{"sniffed", "", "noext", strings.NewReader("\x89PNG\r\n\x1a\n0000"), "image/png"},
		{"fallback", "", "noext", nil, "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectContentType(tt.provided, tt.filename, tt.data))
		})
	}
}

func TestIsAllowedVideoType(t *testing.T) {
	assert.True(t, IsAllowedVideoType("video/mp4"))
	assert.True(t, IsAllowedVideoType("Video/QuickTime; codecs=avc1"))
	assert.True(t, IsAllowedVideoType("application/octet-stream"))
	assert.False(t, IsAllowedVideoType("image/jpeg"))
	assert.False(t, IsAllowedVideoType("text/plain"))
}

func TestWrapS3Error(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, ErrNotFound},
		{"not found", &smithy.GenericAPIError{Code: "NotFound"}, ErrNotFound},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, ErrAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, wrapS3Error(tt.err), tt.want)
		})
	}

	other := errors.New("connection reset")
	wrapped := wrapS3Error(other)
	assert.ErrorIs(t, wrapped, other)
	assert.False(t, IsNotFound(wrapped))
	assert.NoError(t, wrapS3Error(nil))
}

func TestR2Storage_ObjectKey(t *testing.T) {
	s, err := NewR2Storage(R2Config{
		AccountID:  "acct",
		BucketName: "defects",
		KeyPrefix:  "thumbnails/",
	}, testLogger())
	require.NoError(t, err)

	key, err := s.objectKey("s1_mold_0_0.jpg")
	require.NoError(t, err)
	assert.Equal(t, "thumbnails/s1_mold_0_0.jpg", key)

	for _, bad := range []string{"", "../x", "/abs"} {
		_, err := s.objectKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey)
	}

	_, err = NewR2Storage(R2Config{AccountID: "acct"}, testLogger())
	assert.Error(t, err)
}

func TestReadLimited(t *testing.T) {
	r, err := readLimited(strings.NewReader("12345"), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), r.Size())

	_, err = readLimited(strings.NewReader("123456"), 5)
	assert.ErrorIs(t, err, ErrTooLarge)

	r, err = readLimited(strings.NewReader("unbounded"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(9), r.Size())
}
