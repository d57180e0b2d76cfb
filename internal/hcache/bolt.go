// Package hcache persists parsed message headers so that reopening a large
// mailbox does not reparse every file.
package hcache

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/avivsinai/mailsync/internal/mailbox"
)

const (
	metaBucket = "meta"
	versionKey = "version"

	// Version changes whenever the record layout does; a cache written by
	// another version is discarded on open.
	Version uint32 = 1
)

// Bolt is a header cache in a bbolt file. Each mailbox gets its own bucket.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
	log    *slog.Logger
}

// Open opens or creates the cache file at path for the mailbox at root.
// Another process holding the file makes Open fail after a short timeout.
func Open(path, root string, logger *slog.Logger) (*Bolt, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open header cache: %w", err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	c := &Bolt{db: db, bucket: []byte("mbox:" + abs), log: logger}
	if err := c.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Bolt) init() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return err
		}
		cur := meta.Get([]byte(versionKey))
		if cur != nil && len(cur) == 4 && binary.BigEndian.Uint32(cur) == Version {
			_, err := tx.CreateBucketIfNotExists(c.bucket)
			return err
		}
		// Unknown or missing version: start over.
		var stale [][]byte
		err = tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if string(name) != metaBucket {
				stale = append(stale, append([]byte(nil), name...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range stale {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, Version)
		if err := meta.Put([]byte(versionKey), buf); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(c.bucket)
		return err
	})
}

// Close releases the cache file.
func (c *Bolt) Close() error { return c.db.Close() }

// Fetch returns the cached message for key. Decode and read failures are
// logged and reported as a miss.
func (c *Bolt) Fetch(key string) (*mailbox.Message, time.Time, bool) {
	var (
		msg      *mailbox.Message
		validity time.Time
	)
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		m, t, err := decode(v)
		if err != nil {
			return err
		}
		msg, validity = m, t
		return nil
	})
	if err != nil {
		c.log.Debug("header cache fetch failed", slog.String("key", key), slog.Any("err", err))
		return nil, time.Time{}, false
	}
	return msg, validity, msg != nil
}

// Store records msg under key as valid up to validity.
func (c *Bolt) Store(key string, msg *mailbox.Message, validity time.Time) error {
	v, err := encode(msg, validity)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(c.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), v)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Bolt) Delete(key string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

var errShortRecord = errors.New("short header cache record")

// A record is the validity time as big-endian unix nanoseconds followed by
// the JSON encoded message.
func encode(msg *mailbox.Message, validity time.Time) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	v := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint64(v, uint64(validity.UnixNano()))
	return append(v, body...), nil
}

func decode(v []byte) (*mailbox.Message, time.Time, error) {
	if len(v) < 8 {
		return nil, time.Time{}, errShortRecord
	}
	validity := time.Unix(0, int64(binary.BigEndian.Uint64(v[:8])))
	var msg mailbox.Message
	if err := json.Unmarshal(v[8:], &msg); err != nil {
		return nil, time.Time{}, err
	}
	return &msg, validity, nil
}
