package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medipos/m/internal/blob/core"
)

func TestPutGetDelete(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)
	ctx := context.Background()

	info, err := s.Put(ctx, "backup_1.tar.gz", strings.NewReader("payload"), core.PutOptions{
		ContentType: "application/gzip",
		Metadata:    map[string]string{"backup_id": "b1"},
	})
	require.NoError(t, err)
	sum := sha256.Sum256([]byte("payload"))
	assert.Equal(t, hex.EncodeToString(sum[:]), info.ETag)
	assert.EqualValues(t, 7, info.Size)

	_, err = s.Put(ctx, "backup_1.tar.gz", strings.NewReader("again"), core.PutOptions{})
	assert.True(t, errors.Is(err, core.ErrExists))

	got, body, err := s.Get(ctx, "backup_1.tar.gz")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	require.NoError(t, body.Close())
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, "b1", got.Metadata["backup_id"])

	ok, err := s.Delete(ctx, "backup_1.tar.gz")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "backup_1.tar.gz")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.Get(ctx, "backup_1.tar.gz")
	assert.True(t, errors.Is(err, core.ErrNotFound))
	_, err = s.Head(ctx, "backup_1.tar.gz")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestListByPrefixSkipsSidecars(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	for _, k := range []string{"b1/medicines.json", "b1/backup_metadata.json", "b2.tar.gz"} {
		_, err := s.Put(ctx, k, strings.NewReader("{}"), core.PutOptions{})
		require.NoError(t, err)
	}

	infos, err := s.List(ctx, "b1/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "b1/backup_metadata.json", infos[0].Key)
	assert.Equal(t, "b1/medicines.json", infos[1].Key)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeletePrunesEmptyFolders(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.Put(ctx, "b1/medicines.json", strings.NewReader("[]"), core.PutOptions{})
	require.NoError(t, err)

	_, err = s.Delete(ctx, "b1/medicines.json")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "b1"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(root)
	assert.NoError(t, err)
}

func TestRejectsEscapingKeys(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	for _, k := range []string{"", "../etc/passwd", "/abs", "x.meta"} {
		_, err := s.Put(context.Background(), k, strings.NewReader("x"), core.PutOptions{})
		assert.Error(t, err, k)
	}
}
