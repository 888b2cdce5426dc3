package gateway

import (
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketScenarios = []byte("scenarios")

// OpenStore opens (or creates) the gateway's embedded bbolt database at
// path and ensures both operational buckets exist, grounded on
// iudanet-gophkeeper's boltdb.Storage.initBuckets idiom.
func OpenStore(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: open bbolt store at %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDivergence); err != nil {
			return fmt.Errorf("create divergence bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketScenarios); err != nil {
			return fmt.Errorf("create scenarios bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
