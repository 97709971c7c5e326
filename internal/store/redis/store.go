// Package redis mirrors the last known ping state of every controller into
// Redis so that other processes can read reachability without probing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bbernstein/lacylights-outputs/internal/logger"
)

// Snapshot is the stored reachability of one controller.
type Snapshot struct {
	ControllerID int       `json:"controllerId"`
	Name         string    `json:"name"`
	Address      string    `json:"address,omitempty"`
	State        string    `json:"state"`
	Reachable    bool      `json:"reachable"`
	At           time.Time `json:"at"`
}

// Options configures the Redis connection.
type Options struct {
	Addr        string
	Password    string
	DB          int
	PingTimeout time.Duration
}

// Connect opens a client and checks it answers a PING.
func Connect(ctx context.Context, opts Options, log *logger.Log) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is empty")
	}
	if log == nil {
		log = logger.Nop()
	}
	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	log.WithField("addr", opts.Addr).Info("connected to redis")
	return client, nil
}

// Store handles the ping snapshot keys.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStore creates a Store over an open client. A zero ttl keeps snapshots
// until deleted.
func NewStore(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

// Put stores a snapshot under the controller name.
func (s *Store) Put(ctx context.Context, snap Snapshot) error {
	if snap.Name == "" {
		return errors.New("snapshot has no controller name")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, SnapshotKey(s.prefix, snap.Name), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Get returns the snapshot of the named controller, or nil when none is stored.
func (s *Store) Get(ctx context.Context, name string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, SnapshotKey(s.prefix, name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

// All returns every stored snapshot ordered by controller name.
func (s *Store) All(ctx context.Context) ([]Snapshot, error) {
	var snaps []Snapshot
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		name, err := ExtractName(s.prefix, iter.Val())
		if err != nil {
			continue
		}
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired between scan and get
			}
			return nil, fmt.Errorf("failed to get snapshot: %w", err)
		}
		snap, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		snap.Name = name
		snaps = append(snaps, *snap)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan snapshots: %w", err)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps, nil
}

// Delete removes the snapshot of the named controller.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, SnapshotKey(s.prefix, name)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
