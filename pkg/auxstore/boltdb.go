package auxstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/cuemby/mls-relay/pkg/relayerr"
	"github.com/cuemby/mls-relay/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketGroups          = []byte("groups")
	bucketKeyPackages     = []byte("keypackages")
	bucketKPByOwner       = []byte("idx_keypackages_owner")
	bucketWelcomes        = []byte("welcomes")
	bucketWelcomesByRecip = []byte("idx_welcomes_recipient")
	bucketRosterPolicy    = []byte("roster_policy")
	bucketArchivedEvents  = []byte("archived_events")
	bucketArchivedByRecip = []byte("idx_archived_recipient")
	bucketServiceActions  = []byte("service_actions")
	bucketSecretVersions  = []byte("secret_versions")
	bucketPendingDel      = []byte("pending_deletions")
	bucketRateLimits      = []byte("rate_limits")
)

// BoltStore implements Store using one bbolt bucket per document
// collection, following the same bucket-per-entity layout as the primary
// event store.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the auxiliary store under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "auxiliary.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open auxiliary store: %w", err)
	}

	buckets := [][]byte{
		bucketGroups, bucketKeyPackages, bucketKPByOwner,
		bucketWelcomes, bucketWelcomesByRecip,
		bucketRosterPolicy, bucketArchivedEvents, bucketArchivedByRecip,
		bucketServiceActions, bucketSecretVersions, bucketPendingDel,
		bucketRateLimits,
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
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

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func be64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
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

func putJSON(b *bolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", relayerr.ErrEncodingInvalid, err)
	}
	if err := b.Put([]byte(key), data); err != nil {
		return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
	}
	return nil
}

// --- Groups ---

func (s *BoltStore) UpsertGroup(g *types.Group) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketGroups), g.ID, g)
	})
}

func (s *BoltStore) GetGroup(id string) (*types.Group, error) {
	var g *types.Group
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketGroups).Get([]byte(id))
		if data == nil {
			return nil
		}
		var v types.Group
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}
		g = &v
		return nil
	})
	return g, err
}

// --- KeyPackages ---

func (s *BoltStore) PutKeyPackage(kp *types.KeyPackage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketKeyPackages), kp.EventID, kp); err != nil {
			return err
		}
		idxKey := append(append([]byte(kp.Owner), be64(kp.CreatedAt)...), []byte(kp.EventID)...)
		return tx.Bucket(bucketKPByOwner).Put(idxKey, []byte(kp.EventID))
	})
}

func (s *BoltStore) GetKeyPackage(eventID string) (*types.KeyPackage, error) {
	var kp *types.KeyPackage
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketKeyPackages).Get([]byte(eventID))
		if data == nil {
			return nil
		}
		var v types.KeyPackage
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}
		kp = &v
		return nil
	})
	return kp, err
}

// ListKeyPackagesByOwner returns the owner's KeyPackages oldest-first, the
// order last-resort promotion and pool accounting depend on.
func (s *BoltStore) ListKeyPackagesByOwner(owner string) ([]*types.KeyPackage, error) {
	var out []*types.KeyPackage
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeyPackages)
		c := tx.Bucket(bucketKPByOwner).Cursor()
		prefix := []byte(owner)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			data := b.Get(v)
			if data == nil {
				continue
			}
			var kp types.KeyPackage
			if err := json.Unmarshal(data, &kp); err != nil {
				continue
			}
			out = append(out, &kp)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) DeleteKeyPackage(eventID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketKeyPackages).Get([]byte(eventID))
		if data == nil {
			return nil
		}
		var kp types.KeyPackage
		if err := json.Unmarshal(data, &kp); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}
		if err := tx.Bucket(bucketKeyPackages).Delete([]byte(eventID)); err != nil {
			return err
		}
		idxKey := append(append([]byte(kp.Owner), be64(kp.CreatedAt)...), []byte(kp.EventID)...)
		return tx.Bucket(bucketKPByOwner).Delete(idxKey)
	})
}

func (s *BoltStore) CountKeyPackagesByOwner(owner string) (int, error) {
	kps, err := s.ListKeyPackagesByOwner(owner)
	if err != nil {
		return 0, err
	}
	return len(kps), nil
}

// CleanupExpiredKeyPackages scans every KeyPackage once, grouping by owner,
// and deletes expired records down to (but never below) one per owner.
func (s *BoltStore) CleanupExpiredKeyPackages(now int64) (int, error) {
	byOwner := make(map[string][]*types.KeyPackage)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeyPackages).ForEach(func(k, v []byte) error {
			var kp types.KeyPackage
			if err := json.Unmarshal(v, &kp); err != nil {
				return nil
			}
			byOwner[kp.Owner] = append(byOwner[kp.Owner], &kp)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, kps := range byOwner {
		sort.Slice(kps, func(i, j int) bool { return kps[i].CreatedAt < kps[j].CreatedAt })
		remaining := len(kps)
		if remaining <= 1 {
			continue
		}
		for _, kp := range kps {
			if remaining <= 1 {
				break
			}
			if kp.ExpiresAt == 0 || kp.ExpiresAt > now {
				continue
			}
			if err := s.DeleteKeyPackage(kp.EventID); err != nil {
				return removed, err
			}
			removed++
			remaining--
		}
	}
	return removed, nil
}

// --- Welcomes ---

func (s *BoltStore) PutWelcome(w *types.Welcome) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketWelcomes), w.EventID, w); err != nil {
			return err
		}
		idxKey := append(append([]byte(w.Recipient), be64(w.CreatedAt)...), []byte(w.EventID)...)
		return tx.Bucket(bucketWelcomesByRecip).Put(idxKey, []byte(w.EventID))
	})
}

func (s *BoltStore) GetWelcome(eventID string) (*types.Welcome, error) {
	var w *types.Welcome
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWelcomes).Get([]byte(eventID))
		if data == nil {
			return nil
		}
		var v types.Welcome
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}
		w = &v
		return nil
	})
	return w, err
}

func (s *BoltStore) ListWelcomesByRecipient(recipient string, limit int) ([]*types.Welcome, error) {
	var out []*types.Welcome
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWelcomes)
		c := tx.Bucket(bucketWelcomesByRecip).Cursor()
		prefix := []byte(recipient)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			data := b.Get(v)
			if data == nil {
				continue
			}
			var w types.Welcome
			if err := json.Unmarshal(data, &w); err != nil {
				continue
			}
			out = append(out, &w)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) AckWelcome(eventID string, at int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWelcomes)
		data := b.Get([]byte(eventID))
		if data == nil {
			return fmt.Errorf("%w: welcome %s", relayerr.ErrNotFound, eventID)
		}
		var w types.Welcome
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}
		w.PickedUpAt = at
		return putJSON(b, w.EventID, &w)
	})
}

// DeleteExpiredWelcomes removes every welcome whose ExpiresAt has passed and
// reports how many were removed.
func (s *BoltStore) DeleteExpiredWelcomes(now int64) (int, error) {
	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWelcomes)
		idx := tx.Bucket(bucketWelcomesByRecip)

		var expired []types.Welcome
		if err := b.ForEach(func(k, v []byte) error {
			var w types.Welcome
			if err := json.Unmarshal(v, &w); err != nil {
				return nil
			}
			if w.ExpiresAt > 0 && w.ExpiresAt <= now {
				expired = append(expired, w)
			}
			return nil
		}); err != nil {
			return err
		}

		for _, w := range expired {
			if err := b.Delete([]byte(w.EventID)); err != nil {
				return err
			}
			idxKey := append(append([]byte(w.Recipient), be64(w.CreatedAt)...), []byte(w.EventID)...)
			if err := idx.Delete(idxKey); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// --- Roster / policy log ---

func (s *BoltStore) LastRosterSeq(groupID string) (int64, error) {
	var last int64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRosterPolicy).Cursor()
		prefix := append([]byte(groupID), ':')
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var e types.RosterEntry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			if e.Seq > last {
				last = e.Seq
			}
		}
		return nil
	})
	return last, err
}

// AppendRosterEntry appends a new roster entry, rejecting anything that does
// not strictly increment the group's sequence. Both the read of the current
// sequence and the write happen inside one transaction, so concurrent
// appends to the same group serialize correctly.
func (s *BoltStore) AppendRosterEntry(entry *types.RosterEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRosterPolicy)
		c := b.Cursor()
		prefix := append([]byte(entry.GroupID), ':')
		var last int64
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var e types.RosterEntry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			if e.Seq > last {
				last = e.Seq
			}
		}
		if entry.Seq <= last {
			return fmt.Errorf("%w: group %s seq %d <= last %d", relayerr.ErrNonMonotonicSequence, entry.GroupID, entry.Seq, last)
		}
		key := append(append([]byte(entry.GroupID), ':'), be64(entry.Seq)...)
		return putJSON(b, string(key), entry)
	})
}

// --- Archived messages ---

func (s *BoltStore) ArchiveMessage(m *types.ArchivedMessage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketArchivedEvents), m.EventID, m); err != nil {
			return err
		}
		idx := tx.Bucket(bucketArchivedByRecip)
		for _, r := range m.Recipients {
			idxKey := append(append([]byte(r), be64(m.CreatedAt)...), []byte(m.EventID)...)
			if err := idx.Put(idxKey, []byte(m.EventID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListArchivedSince(recipient string, since int64, limit int) ([]*types.ArchivedMessage, error) {
	var out []*types.ArchivedMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArchivedEvents)
		c := tx.Bucket(bucketArchivedByRecip).Cursor()
		prefix := []byte(recipient)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			data := b.Get(v)
			if data == nil {
				continue
			}
			var m types.ArchivedMessage
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			if m.CreatedAt < since {
				continue
			}
			out = append(out, &m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Service actions ---

func (s *BoltStore) GetServiceAction(actionID string) (*types.ServiceAction, error) {
	var a *types.ServiceAction
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketServiceActions).Get([]byte(actionID))
		if data == nil {
			return nil
		}
		var v types.ServiceAction
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}
		a = &v
		return nil
	})
	return a, err
}

func (s *BoltStore) PutServiceAction(a *types.ServiceAction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketServiceActions), a.ActionID, a)
	})
}

// --- Secret versions ---

func secretKey(clientScopeID, versionID string) string {
	return clientScopeID + ":" + versionID
}

func (s *BoltStore) GetSecretVersion(clientScopeID, versionID string) (*types.SecretVersion, error) {
	var v *types.SecretVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSecretVersions).Get([]byte(secretKey(clientScopeID, versionID)))
		if data == nil {
			return nil
		}
		var sv types.SecretVersion
		if err := json.Unmarshal(data, &sv); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}
		v = &sv
		return nil
	})
	return v, err
}

func (s *BoltStore) GetCurrentSecretVersion(clientScopeID string) (*types.SecretVersion, error) {
	var v *types.SecretVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSecretVersions).Cursor()
		prefix := []byte(clientScopeID + ":")
		for k, data := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, data = c.Next() {
			var sv types.SecretVersion
			if err := json.Unmarshal(data, &sv); err != nil {
				continue
			}
			if sv.State == types.SecretVersionCurrent {
				cp := sv
				v = &cp
				return nil
			}
		}
		return nil
	})
	return v, err
}

func (s *BoltStore) PutSecretVersion(v *types.SecretVersion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketSecretVersions), secretKey(v.ClientScopeID, v.VersionID), v)
	})
}

// PromoteSecretVersion moves the existing current version to grace (with
// graceNotAfter as its expiry) and the named pending version to current, in
// one transaction.
func (s *BoltStore) PromoteSecretVersion(clientScopeID, newVersionID string, graceNotAfter int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecretVersions)
		c := b.Cursor()
		prefix := []byte(clientScopeID + ":")
		for k, data := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, data = c.Next() {
			var sv types.SecretVersion
			if err := json.Unmarshal(data, &sv); err != nil {
				continue
			}
			if sv.State == types.SecretVersionCurrent {
				sv.State = types.SecretVersionGrace
				sv.NotAfter = graceNotAfter
				if err := putJSON(b, secretKey(sv.ClientScopeID, sv.VersionID), &sv); err != nil {
					return err
				}
			}
		}

		data := b.Get([]byte(secretKey(clientScopeID, newVersionID)))
		if data == nil {
			return fmt.Errorf("%w: pending version %s", relayerr.ErrNotFound, newVersionID)
		}
		var next types.SecretVersion
		if err := json.Unmarshal(data, &next); err != nil {
			return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
		}
		next.State = types.SecretVersionCurrent
		return putJSON(b, secretKey(next.ClientScopeID, next.VersionID), &next)
	})
}

// --- Pending deletions ---

func pendingDeletionKey(owner, kind, oldEventID string) string {
	return owner + ":" + kind + ":" + oldEventID
}

func (s *BoltStore) SchedulePendingDeletion(p *types.PendingDeletion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketPendingDel), pendingDeletionKey(p.Owner, string(p.Kind), p.OldEventID), p)
	})
}

func (s *BoltStore) ListDuePendingDeletions(now int64) ([]*types.PendingDeletion, error) {
	var out []*types.PendingDeletion
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPendingDel).ForEach(func(k, v []byte) error {
			var p types.PendingDeletion
			if err := json.Unmarshal(v, &p); err != nil {
				return nil
			}
			if p.DueAt <= now {
				out = append(out, &p)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeletePendingDeletion(owner string, kind types.PendingDeletionKind, oldEventID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPendingDel).Delete([]byte(pendingDeletionKey(owner, string(kind), oldEventID)))
	})
}

// --- Rate limiting ---

// rateCounter is the persisted sliding-window state for one (requester,
// target) pair: the timestamps (unix seconds) of successful requests that
// may still fall within some future window. Entries older than the widest
// window in use are pruned on every call so the slice never grows unbounded.
type rateCounter struct {
	Timestamps []int64 `json:"timestamps"`
}

func rateLimitKey(requester, target string) string {
	return requester + ":" + target
}

// AllowRequest implements a true sliding window: a request is allowed only
// if fewer than max successful requests for this (requester, target) pair
// have landed in the windowSeconds immediately preceding now. Unlike a
// fixed-window counter, this bounds requests in *any* windowSeconds-wide
// span, not just the periods between reset boundaries — a caller can never
// get 2x max by straddling a window edge. It persists the updated timestamp
// list only when the request is allowed, so a rejected caller does not
// consume a slot.
func (s *BoltStore) AllowRequest(requester, target string, now, windowSeconds int64, max int) (bool, error) {
	var allowed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRateLimits)
		key := []byte(rateLimitKey(requester, target))

		var rc rateCounter
		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &rc); err != nil {
				return fmt.Errorf("%w: %v", relayerr.ErrStorageIO, err)
			}
		}

		cutoff := now - windowSeconds
		kept := rc.Timestamps[:0]
		for _, ts := range rc.Timestamps {
			if ts > cutoff {
				kept = append(kept, ts)
			}
		}
		rc.Timestamps = kept

		if len(rc.Timestamps) >= max {
			allowed = false
			return nil
		}

		rc.Timestamps = append(rc.Timestamps, now)
		allowed = true
		return putJSON(b, string(key), &rc)
	})
	return allowed, err
}
