package filestore_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mfiguera/lexbot-be/internal/filestore"
	"github.com/stretchr/testify/require"
)

func TestSaveAndOpen(t *testing.T) {
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	name := filestore.ArtifactName("thread_1", "run_1", "docx")
	require.Equal(t, "thread_1_run_1.docx", name)

	require.NoError(t, store.Save(name, []byte("content")))

	f, err := store.Open(name)
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, []byte("content"), data)
}

func TestOpenMissing(t *testing.T) {
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open("thread_x_run_x.docx")
	require.ErrorIs(t, err, filestore.ErrNotFound)
}

func TestRejectsEscapingNames(t *testing.T) {
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../evil", "a/b", ".hidden"} {
		require.ErrorIs(t, store.Save(name, []byte("x")), filestore.ErrBadName, "name %q", name)
	}
}

func TestSweepOlderThan(t *testing.T) {
	dir := t.TempDir()
	store, err := filestore.New(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save("old.docx", []byte("old")))
	require.NoError(t, store.Save("new.docx", []byte("new")))

	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.docx"), stale, stale))

	removed, err := store.SweepOlderThan(24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = store.Path("old.docx")
	require.ErrorIs(t, err, filestore.ErrNotFound)
	_, err = store.Path("new.docx")
	require.NoError(t, err)
}
