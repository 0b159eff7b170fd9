// Package archive persists completed run results to disk so the
// `flowbench results` CLI subcommand can retrieve them after the
// process that produced them has exited.
//
// Repurposed (not copied) from the teacher's pkg/storage/boltdb.go:
// the same bucket-per-entity, Update/View transaction shape, but with
// one bucket per run id (nested under a single top-level "runs"
// bucket) and one key per node id inside it,
// rather than one bucket per resource type — a run's results are
// always looked up by run id first, never scanned across runs.
package archive

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/flowbench/pkg/protocol"
)

var bucketRuns = []byte("runs")

const nodeKeyPrefix = "node:"
const metaKey = "meta"

// RunMeta is the fixed, queryable metadata every archived run carries
// alongside its per-node Results.
type RunMeta struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	NumNodes   int       `json:"num_nodes"`
}

// NodeResult is one node's archived Results message, keyed by node id
// within a run.
type NodeResult struct {
	NodeID  string                  `json:"node_id"`
	Results protocol.ResultsMessage `json:"results"`
}

// Store is a bbolt-backed archive of completed runs, opened once per
// coordinator process.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the archive database under dataDir,
// mirroring the teacher's NewBoltStore(dataDir) constructor shape.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "flowbench-results.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: initializing buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutRunMeta records (or updates) a run's metadata.
func (s *Store) PutRunMeta(meta RunMeta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		runBucket, err := tx.Bucket(bucketRuns).CreateBucketIfNotExists([]byte(meta.RunID))
		if err != nil {
			return fmt.Errorf("archive: creating bucket for run %s: %w", meta.RunID, err)
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return runBucket.Put([]byte(metaKey), data)
	})
}

// PutNodeResult archives one node's final Results message under its
// run.
func (s *Store) PutNodeResult(runID string, nr NodeResult) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		runBucket, err := tx.Bucket(bucketRuns).CreateBucketIfNotExists([]byte(runID))
		if err != nil {
			return fmt.Errorf("archive: creating bucket for run %s: %w", runID, err)
		}
		data, err := json.Marshal(nr)
		if err != nil {
			return err
		}
		return runBucket.Put([]byte(nodeKeyPrefix+nr.NodeID), data)
	})
}

// GetRunMeta retrieves a run's metadata.
func (s *Store) GetRunMeta(runID string) (RunMeta, error) {
	var meta RunMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		runBucket := tx.Bucket(bucketRuns).Bucket([]byte(runID))
		if runBucket == nil {
			return fmt.Errorf("archive: run not found: %s", runID)
		}
		data := runBucket.Get([]byte(metaKey))
		if data == nil {
			return fmt.Errorf("archive: run %s has no metadata", runID)
		}
		return json.Unmarshal(data, &meta)
	})
	return meta, err
}

// ListNodeResults returns every node's archived result for a run, in
// bucket iteration order.
func (s *Store) ListNodeResults(runID string) ([]NodeResult, error) {
	var results []NodeResult
	err := s.db.View(func(tx *bolt.Tx) error {
		runBucket := tx.Bucket(bucketRuns).Bucket([]byte(runID))
		if runBucket == nil {
			return fmt.Errorf("archive: run not found: %s", runID)
		}
		return runBucket.ForEach(func(k, v []byte) error {
			if string(k) == metaKey {
				return nil
			}
			var nr NodeResult
			if err := json.Unmarshal(v, &nr); err != nil {
				return err
			}
			results = append(results, nr)
			return nil
		})
	})
	return results, err
}

// ListRunIDs returns every archived run id.
func (s *Store) ListRunIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v == nil { // nil value means k names a nested bucket
				ids = append(ids, string(k))
			}
		}
		return nil
	})
	return ids, err
}

// DeleteRun removes a run and all of its archived node results.
func (s *Store) DeleteRun(runID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).DeleteBucket([]byte(runID))
	})
}
