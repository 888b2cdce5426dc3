package gateway

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestOpenStoreCreatesBothBuckets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gw.db")
	db, err := OpenStore(path)
	require.NoError(t, err)
	defer db.Close()

	err = db.View(func(tx *bbolt.Tx) error {
		assert.NotNil(t, tx.Bucket(bucketDivergence))
		assert.NotNil(t, tx.Bucket(bucketScenarios))
		return nil
	})
	require.NoError(t, err)
}

func TestOpenStoreIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gw.db")
	db1, err := OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := OpenStore(path)
	require.NoError(t, err)
	defer db2.Close()
}
