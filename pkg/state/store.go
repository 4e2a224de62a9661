package state

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists operational strategy state to Redis: the one-line
// status and the per-instrument position mirror, written on fills and
// stop transitions. Trading never depends on it; write failures are
// reported to the caller and logged there, not escalated.
type Store struct {
	client *redis.Client
	prefix string
}

// Options configures the Redis connection
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewStore connects to Redis and verifies the connection
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if opts.Prefix == "" {
		opts.Prefix = "pairflow"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	return &Store{client: client, prefix: opts.Prefix}, nil
}

func (s *Store) key(parts ...string) string {
	key := s.prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// SaveStatus writes the one-line strategy status with its timestamp
func (s *Store) SaveStatus(ctx context.Context, line string) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key("status"), line, 0)
	pipe.Set(ctx, s.key("status", "ts"), time.Now().UnixNano(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

// LoadStatus reads the last persisted status line
func (s *Store) LoadStatus(ctx context.Context) (string, time.Time, error) {
	line, err := s.client.Get(ctx, s.key("status")).Result()
	if err == redis.Nil {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to load status: %w", err)
	}
	var ts time.Time
	if nanos, err := s.client.Get(ctx, s.key("status", "ts")).Int64(); err == nil {
		ts = time.Unix(0, nanos)
	}
	return line, ts, nil
}

// SavePositions writes the per-instrument position mirror
func (s *Store) SavePositions(ctx context.Context, positions map[int]float64) error {
	if len(positions) == 0 {
		return nil
	}
	fields := make(map[string]any, len(positions))
	for secID, pos := range positions {
		fields[strconv.Itoa(secID)] = strconv.FormatFloat(pos, 'f', -1, 64)
	}
	if err := s.client.HSet(ctx, s.key("positions"), fields).Err(); err != nil {
		return fmt.Errorf("failed to save positions: %w", err)
	}
	return nil
}

// LoadPositions reads the persisted position mirror
func (s *Store) LoadPositions(ctx context.Context) (map[int]float64, error) {
	raw, err := s.client.HGetAll(ctx, s.key("positions")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	positions := make(map[int]float64, len(raw))
	for field, val := range raw {
		secID, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		pos, err := strconv.ParseFloat(val, 64)
		if err != nil {
			continue
		}
		positions[secID] = pos
	}
	return positions, nil
}

// Close releases the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}
