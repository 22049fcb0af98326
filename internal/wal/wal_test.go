package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPage(fill byte) []byte {
	p := make([]byte, PageSize)
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestWAL_AppendCommitReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.wal")
	l, err := Open(path, Options{})
	require.NoError(t, err)

	_, err = l.AppendPageImage(1, testPage(0xAA))
	require.NoError(t, err)
	_, err = l.AppendPageImage(2, testPage(0xBB))
	require.NoError(t, err)
	_, err = l.Commit()
	require.NoError(t, err)

	// uncommitted image past the marker must be discarded
	_, err = l.AppendPageImage(3, testPage(0xCC))
	require.NoError(t, err)
	require.NoError(t, l.Flush())
	require.NoError(t, l.Close())

	applied := map[uint32]byte{}
	require.NoError(t, Replay(path, func(pageID uint32, page []byte) error {
		applied[pageID] = page[0]
		return nil
	}))
	assert.Equal(t, map[uint32]byte{1: 0xAA, 2: 0xBB}, applied)
}

func TestWAL_ReplayIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.wal")
	l, err := Open(path, Options{})
	require.NoError(t, err)
	_, err = l.AppendPageImage(7, testPage(0x11))
	require.NoError(t, err)
	_, err = l.Commit()
	require.NoError(t, err)
	require.NoError(t, l.Close())

	for round := 0; round < 3; round++ {
		count := 0
		require.NoError(t, Replay(path, func(uint32, []byte) error {
			count++
			return nil
		}))
		assert.Equal(t, 1, count)
	}
}

func TestWAL_TornTailTerminatesReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.wal")
	l, err := Open(path, Options{})
	require.NoError(t, err)
	_, err = l.AppendPageImage(1, testPage(0x01))
	require.NoError(t, err)
	_, err = l.Commit()
	require.NoError(t, err)
	_, err = l.AppendPageImage(2, testPage(0x02))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// tear the last frame in half
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-PageSize/2))

	applied := map[uint32]byte{}
	require.NoError(t, Replay(path, func(pageID uint32, page []byte) error {
		applied[pageID] = page[0]
		return nil
	}))
	assert.Equal(t, map[uint32]byte{1: 0x01}, applied)
}

func TestWAL_CheckpointTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.wal")
	l, err := Open(path, Options{})
	require.NoError(t, err)
	_, err = l.AppendPageImage(1, testPage(0x01))
	require.NoError(t, err)
	_, err = l.Commit()
	require.NoError(t, err)
	require.NoError(t, l.Checkpoint())
	require.NoError(t, l.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	require.NoError(t, Replay(path, func(uint32, []byte) error {
		t.Fatal("nothing should replay after checkpoint")
		return nil
	}))
}

func TestWAL_LSNMonotoneAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.wal")
	l, err := Open(path, Options{})
	require.NoError(t, err)
	lsn1, err := l.AppendPageImage(1, testPage(0x01))
	require.NoError(t, err)
	_, err = l.Commit()
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l2, err := Open(path, Options{})
	require.NoError(t, err)
	defer l2.Close()
	lsn2, err := l2.AppendPageImage(2, testPage(0x02))
	require.NoError(t, err)
	assert.Greater(t, lsn2, lsn1)
}

func TestWAL_MissingFileReplaysNothing(t *testing.T) {
	require.NoError(t, Replay(filepath.Join(t.TempDir(), "absent.wal"), func(uint32, []byte) error {
		t.Fatal("unexpected record")
		return nil
	}))
}

func TestWAL_RejectsWrongImageSize(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "db.wal"), Options{})
	require.NoError(t, err)
	defer l.Close()
	_, err = l.AppendPageImage(1, make([]byte, 100))
	require.ErrorIs(t, err, ErrBadRecord)
}
