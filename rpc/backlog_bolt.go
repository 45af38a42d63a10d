package rpc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/duplexrpc/duplex/utils"
)

// backlogFileName names the bolt database file inside the backlog directory.
const backlogFileName = "backlog.db"

// serverBucketName names the bucket holding commands directed at the server peer, whose ID is the
// empty string. bbolt bucket names must be non-empty.
var serverBucketName = []byte("__server__")

// backlogRecord is the durable form of a stored command.
type backlogRecord struct {
	ID               int64
	MethodName       string
	MethodParameters []json.RawMessage
	RetryStrategy    string
	TimeoutMs        int
}

// BoltBacklog is a Backlog persisted to a bolt database. Each peer gets its own bucket; keys are
// big-endian bucket sequence numbers, so a cursor walk yields commands in enqueue order and the
// order survives a process restart.
type BoltBacklog struct {
	db *bbolt.DB
}

// NewBoltBacklog opens (or creates) a backlog database inside the given directory.
func NewBoltBacklog(directory string) (*BoltBacklog, error) {
	if err := utils.MakeDirectory(directory); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(filepath.Join(directory, backlogFileName), 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &BoltBacklog{db: db}, nil
}

// bucketName maps a peer ID to its bucket name.
func bucketName(peerID string) []byte {
	if peerID == "" {
		return serverBucketName
	}
	return []byte(peerID)
}

// Enqueue stores a command durably for later retry, applying latest-writer-wins per method for the
// RetryWhenOnline strategy.
func (b *BoltBacklog) Enqueue(peerID string, cmd *Command) error {
	record := backlogRecord{
		ID:               cmd.ID,
		MethodName:       cmd.MethodName,
		MethodParameters: cmd.MethodParameters,
		RetryStrategy:    string(cmd.RetryStrategy),
		TimeoutMs:        cmd.TimeoutMs,
	}
	serialized, err := cbor.Marshal(record, cbor.EncOptions{})
	if err != nil {
		return errors.WithStack(err)
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(peerID))
		if err != nil {
			return err
		}

		// A RetryWhenOnline command supersedes any pending command for the same method: only the
		// last value of a heartbeat-style update matters.
		if cmd.RetryStrategy == RetryWhenOnline {
			if err := deleteMatching(bucket, func(r *backlogRecord) bool {
				return r.MethodName == record.MethodName
			}); err != nil {
				return err
			}
		}

		sequence, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, sequence)
		return bucket.Put(key, serialized)
	})
	return errors.WithStack(err)
}

// PeekAll returns the stored commands for a peer in enqueue order, without removing them.
func (b *BoltBacklog) PeekAll(peerID string) ([]*Command, error) {
	var commands []*Command
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(peerID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_ []byte, value []byte) error {
			var record backlogRecord
			if err := cbor.Unmarshal(value, &record); err != nil {
				return err
			}
			commands = append(commands, &Command{
				ID:               record.ID,
				MethodName:       record.MethodName,
				MethodParameters: record.MethodParameters,
				RetryStrategy:    RetryStrategy(record.RetryStrategy),
				TimeoutMs:        record.TimeoutMs,
			})
			return nil
		})
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return commands, nil
}

// Remove deletes the stored command with the given ID, if present.
func (b *BoltBacklog) Remove(peerID string, commandID int64) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(peerID))
		if bucket == nil {
			return nil
		}
		return deleteMatching(bucket, func(r *backlogRecord) bool {
			return r.ID == commandID
		})
	})
	return errors.WithStack(err)
}

// Close closes the underlying database.
func (b *BoltBacklog) Close() error {
	return b.db.Close()
}

// deleteMatching removes every record in the bucket the predicate matches. Keys are collected
// first, as deleting while iterating invalidates the cursor.
func deleteMatching(bucket *bbolt.Bucket, match func(*backlogRecord) bool) error {
	var staleKeys [][]byte
	err := bucket.ForEach(func(key []byte, value []byte) error {
		var record backlogRecord
		if err := cbor.Unmarshal(value, &record); err != nil {
			return err
		}
		if match(&record) {
			staleKeys = append(staleKeys, bytes.Clone(key))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range staleKeys {
		if err := bucket.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
