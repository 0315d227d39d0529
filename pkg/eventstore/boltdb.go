package eventstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/mls-relay/pkg/nostrcore"
	"github.com/cuemby/mls-relay/pkg/relayerr"
	"github.com/cuemby/mls-relay/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEvents     = []byte("events")
	bucketByTime     = []byte("idx_time")
	bucketByAuthor   = []byte("idx_author")
	bucketByKind     = []byte("idx_kind")
	bucketByAuthKind = []byte("idx_author_kind")
	bucketByTag      = []byte("idx_tag")
)

// Window bounds historical and future event timestamps; Put rejects events
// outside this window relative to the wall clock.
type Window struct {
	MaxOlderThanNow int64 // seconds
	MaxNewerThanNow int64 // seconds
}

// BoltStore implements Store using a single bbolt database, with one
// secondary-index bucket per indexed dimension named in the component spec.
type BoltStore struct {
	db     *bolt.DB
	window Window
}

// NewBoltStore opens (creating if absent) the bbolt-backed event store
// under dataDir.
func NewBoltStore(dataDir string, window Window) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "events.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEvents, bucketByTime, bucketByAuthor, bucketByKind, bucketByAuthKind, bucketByTag} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, window: window}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// invTime encodes a descending-sort key for created_at: a larger timestamp
// produces a smaller byte string, so forward iteration yields DESC order.
func invTime(createdAt int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(^createdAt))
	return b
}

func timeKey(e *types.Event) []byte {
	k := invTime(e.CreatedAt)
	return append(k, []byte(e.ID)...)
}

func kindKey(kind int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(kind))
	return b
}

// Put validates the event and commits it plus its secondary-index entries
// in a single write transaction.
func (s *BoltStore) Put(e *types.Event) (PutStatus, error) {
	wantID, err := nostrcore.ComputeID(e)
	if err != nil {
		return "", fmt.Errorf("%w: %v", relayerr.ErrInvalidFrame, err)
	}
	if wantID != e.ID {
		return "", fmt.Errorf("%w: computed %s want %s", relayerr.ErrIdentifierMismatch, wantID, e.ID)
	}

	ok, err := nostrcore.VerifySignature(e)
	if err != nil || !ok {
		return "", fmt.Errorf("%w", relayerr.ErrSignatureFailure)
	}

	now := time.Now().Unix()
	if s.window.MaxOlderThanNow > 0 && e.CreatedAt < now-s.window.MaxOlderThanNow {
		return "", fmt.Errorf("%w: too old", relayerr.ErrTimestampOutOfWindow)
	}
	if s.window.MaxNewerThanNow > 0 && e.CreatedAt > now+s.window.MaxNewerThanNow {
		return "", fmt.Errorf("%w: too far in the future", relayerr.ErrTimestampOutOfWindow)
	}

	var status PutStatus
	err = s.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket(bucketEvents)
		if existing := events.Get([]byte(e.ID)); existing != nil {
			status = PutDuplicate
			return nil
		}

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}
		if err := events.Put([]byte(e.ID), data); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}

		tk := timeKey(e)
		if err := tx.Bucket(bucketByTime).Put(tk, []byte(e.ID)); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}
		if err := tx.Bucket(bucketByAuthor).Put(append([]byte(e.PubKey), tk...), []byte(e.ID)); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}
		if err := tx.Bucket(bucketByKind).Put(append(kindKey(e.Kind), tk...), []byte(e.ID)); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}
		authKindKey := append(append([]byte(e.PubKey), kindKey(e.Kind)...), tk...)
		if err := tx.Bucket(bucketByAuthKind).Put(authKindKey, []byte(e.ID)); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}

		for _, t := range e.Tags {
			if len(t) < 2 || len(t[0]) != 1 {
				continue
			}
			tagKey := append([]byte(t[0]+":"+t[1]), tk...)
			if err := tx.Bucket(bucketByTag).Put(tagKey, []byte(e.ID)); err != nil {
				return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
			}
		}

		status = PutCommitted
		return nil
	})

	if err != nil {
		return "", err
	}
	return status, nil
}

func (s *BoltStore) Get(id string) (*types.Event, error) {
	var e *types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEvents).Get([]byte(id))
		if data == nil {
			return nil
		}
		var ev types.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}
		e = &ev
		return nil
	})
	return e, err
}

// Delete removes an event and all of its secondary-index entries. It never
// fails on a missing id (not-found is not an error here; callers are
// cleanup paths operating on records they already know to exist).
func (s *BoltStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEvents).Get([]byte(id))
		if data == nil {
			return nil
		}
		var e types.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}

		if err := tx.Bucket(bucketEvents).Delete([]byte(id)); err != nil {
			return err
		}

		tk := timeKey(&e)
		tx.Bucket(bucketByTime).Delete(tk)
		tx.Bucket(bucketByAuthor).Delete(append([]byte(e.PubKey), tk...))
		tx.Bucket(bucketByKind).Delete(append(kindKey(e.Kind), tk...))
		tx.Bucket(bucketByAuthKind).Delete(append(append([]byte(e.PubKey), kindKey(e.Kind)...), tk...))
		for _, t := range e.Tags {
			if len(t) < 2 || len(t[0]) != 1 {
				continue
			}
			tx.Bucket(bucketByTag).Delete(append([]byte(t[0]+":"+t[1]), tk...))
		}
		return nil
	})
}

// Query evaluates every filter against the most selective index available
// (author+kind, author, kind, single tag, or a full time-ordered scan),
// re-checking the full filter on each candidate since indices only narrow
// the search. Results are deduped and ordered (created_at DESC, id ASC),
// then capped.
func (s *BoltStore) Query(filters []*types.Filter, cap int) ([]*types.Event, error) {
	seen := make(map[string]bool)
	var results []*types.Event

	err := s.db.View(func(tx *bolt.Tx) error {
		for _, f := range filters {
			candidates, err := s.candidateIDs(tx, f)
			if err != nil {
				return err
			}
			for _, id := range candidates {
				if seen[id] {
					continue
				}
				data := tx.Bucket(bucketEvents).Get([]byte(id))
				if data == nil {
					continue
				}
				var e types.Event
				if err := json.Unmarshal(data, &e); err != nil {
					continue
				}
				if !f.Matches(&e) {
					continue
				}
				seen[id] = true
				results = append(results, &e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortDescTimeAscID(results)

	if cap > 0 && len(results) > cap {
		results = results[:cap]
	}
	return results, nil
}

// candidateIDs picks the narrowest index bucket for a filter and iterates
// it fully (each candidate is re-checked against the whole filter by the
// caller), or falls back to the by-time bucket for an unconstrained scan.
func (s *BoltStore) candidateIDs(tx *bolt.Tx, f *types.Filter) ([]string, error) {
	limit := f.Limit

	switch {
	case len(f.Authors) == 1 && len(f.Kinds) == 1:
		return scanPrefixes(tx.Bucket(bucketByAuthKind), [][]byte{append([]byte(f.Authors[0]), kindKey(f.Kinds[0])...)}, limit)
	case len(f.Authors) > 0:
		prefixes := make([][]byte, len(f.Authors))
		for i, a := range f.Authors {
			prefixes[i] = []byte(a)
		}
		return scanPrefixes(tx.Bucket(bucketByAuthor), prefixes, limit)
	case len(f.Kinds) > 0:
		prefixes := make([][]byte, len(f.Kinds))
		for i, k := range f.Kinds {
			prefixes[i] = kindKey(k)
		}
		return scanPrefixes(tx.Bucket(bucketByKind), prefixes, limit)
	case len(f.IDs) > 0:
		return f.IDs, nil
	case len(f.Tags) > 0:
		var prefixes [][]byte
		for name, values := range f.Tags {
			if len(name) != 1 {
				continue
			}
			for _, v := range values {
				prefixes = append(prefixes, []byte(name+":"+v))
			}
		}
		return scanPrefixes(tx.Bucket(bucketByTag), prefixes, limit)
	default:
		return scanAll(tx.Bucket(bucketByTime), limit)
	}
}

func scanPrefixes(b *bolt.Bucket, prefixes [][]byte, limit int) ([]string, error) {
	var ids []string
	c := b.Cursor()
	for _, prefix := range prefixes {
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			ids = append(ids, string(v))
			if limit > 0 && len(ids) >= limit*4 {
				break
			}
		}
	}
	return ids, nil
}

func scanAll(b *bolt.Bucket, limit int) ([]string, error) {
	var ids []string
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		ids = append(ids, string(v))
		if limit > 0 && len(ids) >= limit*4 {
			break
		}
	}
	return ids, nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// sortDescTimeAscID orders by created_at DESC, id ASC.
func sortDescTimeAscID(events []*types.Event) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID < b.ID
	})
}
