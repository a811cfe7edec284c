package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pathakanu/healthReminder/internal/database"
	"github.com/pathakanu/healthReminder/internal/model"
	bolt "go.etcd.io/bbolt"
)

var (
	remindersBucket = []byte(model.ContainerName)
	metaBucket      = []byte("meta")
	versionKey      = []byte("version")
)

type boltBackend struct {
	db *bolt.DB
}

func openBolt(ctx context.Context, opts Options) (*boltBackend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := opts.BoltPath
	if path == "" {
		path = model.DatabaseName + ".bolt"
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", metaBucket, err)
		}
		upgrade, err := database.NeedsUpgrade(decodeVersion(meta.Get(versionKey)), opts.Version)
		if err != nil || !upgrade {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(remindersBucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", remindersBucket, err)
		}
		return meta.Put(versionKey, encodeVersion(opts.Version))
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltBackend{db: db}, nil
}

func (b *boltBackend) Put(ctx context.Context, reminder *model.Reminder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(reminder)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := reminders(tx)
		if err != nil {
			return err
		}
		return bucket.Put(encodeID(reminder.ID), data)
	})
}

func (b *boltBackend) Get(ctx context.Context, id int64) (*model.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var reminder model.Reminder
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket, err := reminders(tx)
		if err != nil {
			return err
		}
		data := bucket.Get(encodeID(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &reminder)
	})
	if err != nil {
		return nil, err
	}
	return &reminder, nil
}

func (b *boltBackend) GetAll(ctx context.Context) ([]model.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var list []model.Reminder
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket, err := reminders(tx)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(k, v []byte) error {
			var reminder model.Reminder
			if err := json.Unmarshal(v, &reminder); err != nil {
				return fmt.Errorf("failed to unmarshal %d: %w", decodeID(k), err)
			}
			list = append(list, reminder)
			return nil
		})
	})
	return list, err
}

func (b *boltBackend) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := reminders(tx)
		if err != nil {
			return err
		}
		return bucket.Delete(encodeID(id))
	})
}

func (b *boltBackend) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(remindersBucket); err != nil {
			return fmt.Errorf("failed to delete bucket %s: %w", remindersBucket, err)
		}
		_, err := tx.CreateBucket(remindersBucket)
		return err
	})
}

func (b *boltBackend) Version(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var version int
	err := b.db.View(func(tx *bolt.Tx) error {
		if meta := tx.Bucket(metaBucket); meta != nil {
			version = decodeVersion(meta.Get(versionKey))
		}
		return nil
	})
	return version, err
}

func (b *boltBackend) Close() error {
	return b.db.Close()
}

func reminders(tx *bolt.Tx) (*bolt.Bucket, error) {
	bucket := tx.Bucket(remindersBucket)
	if bucket == nil {
		return nil, fmt.Errorf("bucket not found: %s", remindersBucket)
	}
	return bucket, nil
}

// encodeID flips the sign bit so byte order matches numeric order.
func encodeID(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id)^(1<<63))
	return key
}

func decodeID(key []byte) int64 {
	if len(key) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(key) ^ (1 << 63))
}

func encodeVersion(version int) []byte {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(version))
	return value
}

func decodeVersion(value []byte) int {
	if len(value) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(value))
}
