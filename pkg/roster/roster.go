package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/bedside-sim/pkg/common/logger"
	"github.com/synaptica-ai/bedside-sim/pkg/device"
)

const (
	DefaultKey  = "bedside-sim:streams"
	syncTimeout = 5 * time.Second
	minRefresh  = time.Second
)

// Source yields the current registry snapshot.
type Source func() []device.Entry

// Roster mirrors the running streams into a redis hash keyed by device id.
// The hash expires unless refreshed, so a crashed simulator disappears from
// the roster on its own.
type Roster struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	source Source
}

func New(client *redis.Client, key string, ttl time.Duration, source Source) *Roster {
	if key == "" {
		key = DefaultKey
	}
	return &Roster{client: client, key: key, ttl: ttl, source: source}
}

// Sync replaces the hash with the given entries.
func (r *Roster) Sync(ctx context.Context, entries []device.Entry) error {
	fields := make(map[string]interface{}, len(entries))
	for _, e := range entries {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding roster entry %s: %w", e.DeviceID, err)
		}
		fields[e.DeviceID] = body
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, r.key, fields)
			if r.ttl > 0 {
				pipe.Expire(ctx, r.key, r.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("syncing roster: %w", err)
	}
	return nil
}

func (r *Roster) Observe(ev device.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	if err := r.Sync(ctx, r.source()); err != nil {
		logger.Log.WithError(err).WithField("event", ev.Type).Warn("failed to update roster")
	}
}

// Run refreshes the roster until ctx is done.
func (r *Roster) Run(ctx context.Context) {
	interval := r.ttl / 2
	if interval < minRefresh {
		interval = minRefresh
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
			if err := r.Sync(syncCtx, r.source()); err != nil {
				logger.Log.WithError(err).Warn("roster refresh failed")
			}
			cancel()
		}
	}
}

// Entries reads the roster back.
func (r *Roster) Entries(ctx context.Context) ([]device.Entry, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading roster: %w", err)
	}
	entries := make([]device.Entry, 0, len(raw))
	for id, body := range raw {
		var e device.Entry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("decoding roster entry %s: %w", id, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Clear removes the roster, used on orderly shutdown.
func (r *Roster) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}
