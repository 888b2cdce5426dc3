package gateway

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestDivergenceTrackerRecordTracksDurationWhileDivergent(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "gw.db"), 0o600, nil)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDivergence)
		return err
	}))

	tracker, err := NewDivergenceTracker(db)
	require.NoError(t, err)

	assert.Equal(t, float64(0), tracker.DurationSeconds())

	tracker.Record(true, map[string]string{"a": "x", "b": "y"}, []string{"a", "b"})
	assert.Greater(t, tracker.DurationSeconds(), float64(-1))
	assert.True(t, tracker.DurationSeconds() >= 0)

	tracker.Record(false, map[string]string{"a": "x", "b": "x"}, []string{"a", "b"})
	assert.Equal(t, float64(0), tracker.DurationSeconds())
}

func TestDivergenceTrackerLogIsNewestFirst(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "gw.db"), 0o600, nil)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDivergence)
		return err
	}))

	tracker, err := NewDivergenceTracker(db)
	require.NoError(t, err)

	tracker.Record(false, map[string]string{"a": "1"}, []string{"a"})
	tracker.Record(true, map[string]string{"a": "1", "b": "2"}, []string{"a", "b"})

	log := tracker.Log()
	require.Len(t, log, 2)
	assert.True(t, log[0].IsDivergent)
	assert.False(t, log[1].IsDivergent)
}

func TestDivergenceTrackerPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gw.db")
	db, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDivergence)
		return err
	}))

	tracker, err := NewDivergenceTracker(db)
	require.NoError(t, err)
	tracker.Record(true, map[string]string{"a": "1", "b": "2"}, []string{"a", "b"})
	db.Close()

	db2, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	defer db2.Close()

	reloaded, err := NewDivergenceTracker(db2)
	require.NoError(t, err)
	assert.Len(t, reloaded.Log(), 1)
}

func TestDivergenceTrackerTrimsRingAtCap(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "gw.db"), 0o600, nil)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDivergence)
		return err
	}))

	tracker, err := NewDivergenceTracker(db)
	require.NoError(t, err)
	for i := 0; i < divergenceRingCap+10; i++ {
		tracker.Record(false, map[string]string{"a": "1"}, []string{"a"})
	}
	assert.Len(t, tracker.Log(), divergenceRingCap)
}
