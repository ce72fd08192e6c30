package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MegaGrindStone/bfchat/internal/models"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the handlers Store interface using a BoltDB backend for persistent storage of chat
// histories and uploaded file contexts. Every session owns two buckets, one for its history and one for its
// file contexts, both keyed by a big-endian sequence so that iteration yields insertion order. The sessions
// bucket maps every session to the time of its last write.
type BoltDB struct {
	db *bolt.DB
}

var sessionsBucket = []byte("sessions")

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create buckets: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func historyBucketName(sessionID string) []byte {
	return []byte(fmt.Sprintf("history-%s", sessionID))
}

func filesBucketName(sessionID string) []byte {
	return []byte(fmt.Sprintf("files-%s", sessionID))
}

func sequenceKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func touchSession(tx *bolt.Tx, sessionID string) error {
	b := tx.Bucket(sessionsBucket)
	if b == nil {
		return fmt.Errorf("bucket %s not found", sessionsBucket)
	}
	return b.Put([]byte(sessionID), []byte(time.Now().UTC().Format(time.RFC3339Nano)))
}

// Sessions returns the time of the last write of every stored session.
func (b BoltDB) Sessions(_ context.Context) (map[string]time.Time, error) {
	sessions := map[string]time.Time{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
			touched, err := time.Parse(time.RFC3339Nano, string(v))
			if err != nil {
				return fmt.Errorf("failed to parse last write of session %s: %w", k, err)
			}
			sessions[string(k)] = touched
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// PruneSessions deletes the history and file contexts of every session last written before cutoff, and
// returns how many sessions were deleted.
func (b BoltDB) PruneSessions(_ context.Context, cutoff time.Time) (int, error) {
	pruned := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(sessionsBucket)

		var stale []string
		err := idx.ForEach(func(k, v []byte) error {
			touched, err := time.Parse(time.RFC3339Nano, string(v))
			if err != nil {
				return fmt.Errorf("failed to parse last write of session %s: %w", k, err)
			}
			if touched.Before(cutoff) {
				stale = append(stale, string(k))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, sid := range stale {
			for _, name := range [][]byte{historyBucketName(sid), filesBucketName(sid)} {
				if tx.Bucket(name) == nil {
					continue
				}
				if err := tx.DeleteBucket(name); err != nil {
					return fmt.Errorf("failed to delete bucket %s: %w", name, err)
				}
			}
			if err := idx.Delete([]byte(sid)); err != nil {
				return fmt.Errorf("failed to delete session %s: %w", sid, err)
			}
		}
		pruned = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}

func putSequenced(tx *bolt.Tx, bucket []byte, v any) error {
	b, err := tx.CreateBucketIfNotExists(bucket)
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to get next sequence: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return b.Put(sequenceKey(seq), data)
}

// History retrieves all messages of the specified session in the order they were added. A session without
// history yields an empty slice.
func (b BoltDB) History(_ context.Context, sessionID string) ([]models.Message, error) {
	messages := []models.Message{}
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(historyBucketName(sessionID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var entry models.HistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal history entry: %w", err)
			}
			messages = append(messages, entry.Message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage appends a message to the history of the specified session, creating the session if needed.
func (b BoltDB) AddMessage(_ context.Context, sessionID string, message models.Message) error {
	entry := models.HistoryEntry{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Message:   message,
		CreatedAt: time.Now(),
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		if err := touchSession(tx, sessionID); err != nil {
			return err
		}
		return putSequenced(tx, historyBucketName(sessionID), entry)
	})
}

// AddFileContext stores the file context together with the notice that announces it in the session
// history. Both writes happen in one transaction.
func (b BoltDB) AddFileContext(_ context.Context, fc models.FileContext, notice models.Message) error {
	if fc.ID == "" {
		fc.ID = uuid.New().String()
	}
	if fc.CreatedAt.IsZero() {
		fc.CreatedAt = time.Now()
	}
	entry := models.HistoryEntry{
		ID:        uuid.New().String(),
		SessionID: fc.SessionID,
		Message:   notice,
		CreatedAt: fc.CreatedAt,
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		if err := touchSession(tx, fc.SessionID); err != nil {
			return err
		}
		if err := putSequenced(tx, historyBucketName(fc.SessionID), entry); err != nil {
			return err
		}
		return putSequenced(tx, filesBucketName(fc.SessionID), fc)
	})
}

// FileContexts retrieves the file contexts of the specified session in upload order.
func (b BoltDB) FileContexts(_ context.Context, sessionID string) ([]models.FileContext, error) {
	var files []models.FileContext
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(filesBucketName(sessionID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var fc models.FileContext
			if err := json.Unmarshal(v, &fc); err != nil {
				return fmt.Errorf("failed to unmarshal file context: %w", err)
			}
			files = append(files, fc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ClearFileContexts removes every file context of the session along with the file notices in its history.
// Other history entries are kept in order. Clearing a session without files is not an error.
func (b BoltDB) ClearFileContexts(_ context.Context, sessionID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(filesBucketName(sessionID)) != nil {
			if err := tx.DeleteBucket(filesBucketName(sessionID)); err != nil {
				return fmt.Errorf("failed to delete files bucket: %w", err)
			}
		}

		hb := tx.Bucket(historyBucketName(sessionID))
		if hb == nil {
			return nil
		}

		var stale [][]byte
		err := hb.ForEach(func(k, v []byte) error {
			var entry models.HistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal history entry: %w", err)
			}
			if entry.Message.IsFileNotice() {
				// Keys must be copied, they are only valid for the life of the transaction.
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := hb.Delete(k); err != nil {
				return fmt.Errorf("failed to delete history entry: %w", err)
			}
		}
		return nil
	})
}
