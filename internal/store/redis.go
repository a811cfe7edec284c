package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/pathakanu/healthReminder/internal/database"
	"github.com/pathakanu/healthReminder/internal/model"
	"github.com/redis/go-redis/v9"
)

type redisBackend struct {
	client     *redis.Client
	hashKey    string
	versionKey string
}

func openRedis(ctx context.Context, opts Options) (*redisBackend, error) {
	if opts.RedisURL == "" {
		return nil, errors.New("redis url is not configured")
	}
	redisOpts, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	backend := &redisBackend{
		client:     redis.NewClient(redisOpts),
		hashKey:    model.DatabaseName + ":" + model.ContainerName,
		versionKey: model.DatabaseName + ":version",
	}
	if err := backend.upgrade(ctx, opts.Version); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return backend, nil
}

// upgrade records the version; the hash itself appears with its first field.
func (r *redisBackend) upgrade(ctx context.Context, version int) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	stored, err := r.Version(ctx)
	if err != nil {
		return err
	}
	upgrade, err := database.NeedsUpgrade(stored, version)
	if err != nil || !upgrade {
		return err
	}
	return r.client.Set(ctx, r.versionKey, version, 0).Err()
}

func (r *redisBackend) Put(ctx context.Context, reminder *model.Reminder) error {
	data, err := json.Marshal(reminder)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return r.client.HSet(ctx, r.hashKey, field(reminder.ID), data).Err()
}

func (r *redisBackend) Get(ctx context.Context, id int64) (*model.Reminder, error) {
	data, err := r.client.HGet(ctx, r.hashKey, field(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var reminder model.Reminder
	if err := json.Unmarshal(data, &reminder); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %d: %w", id, err)
	}
	return &reminder, nil
}

func (r *redisBackend) GetAll(ctx context.Context) ([]model.Reminder, error) {
	values, err := r.client.HVals(ctx, r.hashKey).Result()
	if err != nil {
		return nil, err
	}
	list := make([]model.Reminder, 0, len(values))
	for _, value := range values {
		var reminder model.Reminder
		if err := json.Unmarshal([]byte(value), &reminder); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reminder: %w", err)
		}
		list = append(list, reminder)
	}
	slices.SortFunc(list, func(a, b model.Reminder) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return list, nil
}

func (r *redisBackend) Delete(ctx context.Context, id int64) error {
	return r.client.HDel(ctx, r.hashKey, field(id)).Err()
}

func (r *redisBackend) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.hashKey).Err()
}

func (r *redisBackend) Version(ctx context.Context) (int, error) {
	version, err := r.client.Get(ctx, r.versionKey).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (r *redisBackend) Close() error {
	return r.client.Close()
}

func field(id int64) string {
	return strconv.FormatInt(id, 10)
}
