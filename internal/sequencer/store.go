package sequencer

import (
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Store keeps committed records. A record appended to a store survives a
// restart of the server.
type Store interface {
	Append(records []Record) error
	Load() ([]Record, error)
	Close() error
}

// MemoryStore keeps records for the lifetime of the process.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *MemoryStore) Load() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var deltasBucket = []byte("deltas")

// BoltStore keeps records in a bbolt file, keyed by the version they were
// applied at.
type BoltStore struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(deltasBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating bucket")
	}
	return &BoltStore{db: db}, nil
}

func versionKey(v int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(v))
	return key
}

// Append writes records in a single transaction.
func (s *BoltStore) Append(records []Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(deltasBucket)
		for _, r := range records {
			value, err := json.Marshal(r)
			if err != nil {
				return errors.Wrap(err, "encoding record")
			}
			if err := b.Put(versionKey(r.Delta.AppliedAt), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Load() ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(deltasBucket).ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return errors.Wrap(err, "decoding record")
			}
			records = append(records, r)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
