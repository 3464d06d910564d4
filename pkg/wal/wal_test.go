package wal

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	ID   int64  `json:"id"`
	Note string `json:"note"`
}

func TestWriteThenReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")

	w, err := Open(path)
	require.NoError(t, err)

	written := []entry{{ID: 1, Note: "first"}, {ID: 2, Note: "second"}, {ID: 3, Note: "third"}}
	for _, e := range written {
		require.NoError(t, w.Write(e))
	}

	var read []entry
	err = w.ReadAll(func(raw []byte) error {
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		read = append(read, e)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, written, read)
	require.NoError(t, w.Close())
}

func TestReadAllSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(entry{ID: 7, Note: "persisted"}))
	require.NoError(t, w.Close())

	w, err = Open(path)
	require.NoError(t, err)
	defer w.Close()

	var read []entry
	require.NoError(t, w.ReadAll(func(raw []byte) error {
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		read = append(read, e)
		return nil
	}))
	require.Len(t, read, 1)
	assert.Equal(t, int64(7), read[0].ID)
}

func TestReadAllEmptyFile(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "journal.log"))
	require.NoError(t, err)
	defer w.Close()

	calls := 0
	require.NoError(t, w.ReadAll(func([]byte) error {
		calls++
		return nil
	}))
	assert.Zero(t, calls)
}

func TestReadAllPropagatesCallbackError(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "journal.log"))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write(entry{ID: 1}))

	boom := errors.New("boom")
	assert.ErrorIs(t, w.ReadAll(func([]byte) error { return boom }), boom)
}
