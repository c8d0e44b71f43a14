package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/kythira/raft/internal/raft"
)

// Durable bucket/key layout, grounded on _examples/cuemby-warren's use of
// go.etcd.io/bbolt (via hashicorp/raft-boltdb) for Raft metadata. Indexes
// are stored as big-endian uint64 keys so bbolt's ordered cursor gives us
// FirstIndex/LastIndex and ranged scans for free.
var (
	bucketMeta     = []byte("meta")
	bucketLog      = []byte("log")
	bucketSnapshot = []byte("snapshot")

	keyTerm          = []byte("term")
	keyVoteCandidate = []byte("vote_candidate")
	keyVoteHas       = []byte("vote_has")
	keySnapshotMeta  = []byte("snapshot_meta")
	keySnapshotData  = []byte("snapshot_data")
)

// BoltStore is the on-disk Engine backend, for production deployments.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt database at path and
// ensures its buckets exist.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, wrap("open", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketLog, bucketSnapshot} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, wrap("init buckets", err)
	}
	return &BoltStore{db: db}, nil
}

func indexKey(idx raft.LogIndex) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(idx))
	return key
}

func (b *BoltStore) LoadTerm() (raft.Term, error) {
	var term raft.Term
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyTerm)
		if v == nil {
			return nil
		}
		term = raft.Term(binary.BigEndian.Uint64(v))
		return nil
	})
	if err != nil {
		return 0, wrap("load term", err)
	}
	return term, nil
}

func (b *BoltStore) SaveTerm(t raft.Term) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, uint64(t))
		return tx.Bucket(bucketMeta).Put(keyTerm, v)
	})
	return wrap("save term", err)
}

func (b *BoltStore) LoadVote() (raft.NodeID, bool, error) {
	var candidate raft.NodeID
	var has bool
	err := b.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keyVoteHas); v != nil && len(v) == 1 && v[0] == 1 {
			has = true
		}
		candidate = raft.NodeID(meta.Get(keyVoteCandidate))
		return nil
	})
	if err != nil {
		return "", false, wrap("load vote", err)
	}
	return candidate, has, nil
}

func (b *BoltStore) SaveVote(candidate raft.NodeID, hasVote bool) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		hasByte := byte(0)
		if hasVote {
			hasByte = 1
		}
		if err := meta.Put(keyVoteHas, []byte{hasByte}); err != nil {
			return err
		}
		return meta.Put(keyVoteCandidate, []byte(candidate))
	})
	return wrap("save vote", err)
}

func (b *BoltStore) AppendEntries(entries []raft.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		logBucket := tx.Bucket(bucketLog)
		for _, e := range entries {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(e); err != nil {
				return err
			}
			if err := logBucket.Put(indexKey(e.Index), buf.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("append entries", err)
}

func (b *BoltStore) EntryAt(index raft.LogIndex) (raft.LogEntry, bool, error) {
	var entry raft.LogEntry
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLog).Get(indexKey(index))
		if v == nil {
			return nil
		}
		ok = true
		return gob.NewDecoder(bytes.NewReader(v)).Decode(&entry)
	})
	if err != nil {
		return raft.LogEntry{}, false, wrap("entry at", err)
	}
	return entry, ok, nil
}

func (b *BoltStore) EntriesFrom(index raft.LogIndex) ([]raft.LogEntry, error) {
	var out []raft.LogEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLog).Cursor()
		for k, v := c.Seek(indexKey(index)); k != nil; k, v = c.Next() {
			var e raft.LogEntry
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("entries from", err)
	}
	return out, nil
}

func (b *BoltStore) TruncateSuffix(fromIndex raft.LogIndex) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		logBucket := tx.Bucket(bucketLog)
		c := logBucket.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek(indexKey(fromIndex)); k != nil; k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := logBucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("truncate suffix", err)
}

func (b *BoltStore) FirstIndex() (raft.LogIndex, error) {
	var first raft.LogIndex
	err := b.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketLog).Cursor().First()
		if k != nil {
			first = raft.LogIndex(binary.BigEndian.Uint64(k))
		}
		return nil
	})
	if err != nil {
		return 0, wrap("first index", err)
	}
	return first, nil
}

func (b *BoltStore) LastIndex() (raft.LogIndex, error) {
	var last raft.LogIndex
	err := b.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketLog).Cursor().Last()
		if k != nil {
			last = raft.LogIndex(binary.BigEndian.Uint64(k))
		}
		return nil
	})
	if err != nil {
		return 0, wrap("last index", err)
	}
	return last, nil
}

func (b *BoltStore) SaveSnapshot(meta SnapshotMeta, data []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		snap := tx.Bucket(bucketSnapshot)
		var metaBuf bytes.Buffer
		if err := gob.NewEncoder(&metaBuf).Encode(meta); err != nil {
			return err
		}
		if err := snap.Put(keySnapshotMeta, metaBuf.Bytes()); err != nil {
			return err
		}
		return snap.Put(keySnapshotData, data)
	})
	return wrap("save snapshot", err)
}

func (b *BoltStore) LoadSnapshot() (SnapshotMeta, []byte, bool, error) {
	var meta SnapshotMeta
	var data []byte
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		snap := tx.Bucket(bucketSnapshot)
		v := snap.Get(keySnapshotMeta)
		if v == nil {
			return nil
		}
		if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&meta); err != nil {
			return err
		}
		data = append([]byte(nil), snap.Get(keySnapshotData)...)
		ok = true
		return nil
	})
	if err != nil {
		return SnapshotMeta{}, nil, false, wrap("load snapshot", err)
	}
	return meta, data, ok, nil
}

func (b *BoltStore) CompactLogThrough(index raft.LogIndex) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		logBucket := tx.Bucket(bucketLog)
		c := logBucket.Cursor()
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if raft.LogIndex(binary.BigEndian.Uint64(k)) > index {
				break
			}
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := logBucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap(fmt.Sprintf("compact through %d", index), err)
}

func (b *BoltStore) Close() error {
	return wrap("close", b.db.Close())
}
