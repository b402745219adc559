package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
)

// Entry is the index record for one cached directory archive.
type Entry struct {
	// Key is the archive identity, see Key.
	Key string `json:"key"`

	// Job and Dir identify what the archive holds; Dir is the configured
	// (unexpanded) path.
	Job string `json:"job"`
	Dir string `json:"dir"`

	// Size is the archive size in bytes.
	Size int64 `json:"size"`

	// CreatedAt is when the archive was first saved; LastUsedAt tracks
	// the most recent save or restore, and Hits counts restores.
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	Hits       int       `json:"hits"`
}

// Index is the badger-backed catalog of cache entries.
type Index struct {
	db *badger.DB
}

// OpenIndex opens the index at dirPath. An empty path opens an in-memory
// index, which is what ephemeral runs and tests use.
func OpenIndex(dirPath string) (*Index, error) {
	var badgerOpts badger.Options
	if dirPath == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(dirPath).WithSyncWrites(false).WithTruncate(true)
	}
	// badger chatters on stderr by default; this is a CLI.
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.WithMessage(err, "could not open cache index")
	}

	return &Index{db: db}, nil
}

// Put inserts or replaces an entry.
func (ix *Index) Put(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return ix.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(e.Key), data)
	})
}

// Get looks up an entry by key. The second return is false when the key
// is not indexed.
func (ix *Index) Get(key string) (Entry, bool, error) {
	var e Entry
	found := false
	err := ix.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	return e, found, err
}

// Delete removes an entry. Deleting an absent key is not an error.
func (ix *Index) Delete(key string) error {
	return ix.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// List returns every entry, sorted by job then directory.
func (ix *Index) List() ([]Entry, error) {
	var entries []Entry
	err := ix.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("failed to decode cache entry: %w", err)
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Job != entries[j].Job {
			return entries[i].Job < entries[j].Job
		}
		return entries[i].Dir < entries[j].Dir
	})
	return entries, nil
}

// Close releases the index.
func (ix *Index) Close() {
	ix.db.Close()
}
