package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"inferd/pkg/types"
)

const defaultRedisPrefix = "inferd:"

// Redis stores records as JSON strings under <prefix>input:<id> and
// <prefix>output:<id>. A non-zero TTL is the eviction policy.
type Redis struct {
	opts   *redis.Options
	prefix string
	ttl    time.Duration

	mu        sync.RWMutex
	client    *redis.Client
	connected bool
}

// NewRedis builds a redis backend from a redis:// URL. The ttl and prefix
// query parameters are consumed here; the rest is handed to go-redis.
func NewRedis(u *url.URL) (*Redis, error) {
	q := u.Query()
	r := &Redis{prefix: defaultRedisPrefix}
	if v := q.Get("ttl"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("store: invalid redis ttl %q", v)
		}
		r.ttl = d
	}
	if q.Has("prefix") {
		r.prefix = q.Get("prefix")
	}
	q.Del("ttl")
	q.Del("prefix")
	clean := *u
	clean.RawQuery = q.Encode()
	opts, err := redis.ParseURL(clean.String())
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	r.opts = opts
	return r, nil
}

func (r *Redis) Scheme() string { return "redis" }

func (r *Redis) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected {
		return nil
	}
	client := redis.NewClient(r.opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("store: connect to redis %s: %w", r.opts.Addr, err)
	}
	r.client = client
	r.connected = true
	return nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func (r *Redis) Connected() bool {
	c, err := r.conn()
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return c.Ping(ctx).Err() == nil
}

func (r *Redis) conn() (*redis.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.connected || r.client == nil {
		return nil, ErrNotConnected
	}
	return r.client, nil
}

func (r *Redis) inputKey(id string) string  { return r.prefix + "input:" + id }
func (r *Redis) outputKey(id string) string { return r.prefix + "output:" + id }

func (r *Redis) SaveInput(ctx context.Context, in types.ModelInput) error {
	c, err := r.conn()
	if err != nil {
		return err
	}
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("store: encode input: %w", err)
	}
	if err := c.Set(ctx, r.inputKey(in.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("store: save input %s: %w", in.ID, err)
	}
	return nil
}

func (r *Redis) SaveOutput(ctx context.Context, in types.ModelInput, out types.ModelOutput) error {
	c, err := r.conn()
	if err != nil {
		return err
	}
	out.InputID = in.ID
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("store: encode output: %w", err)
	}
	if err := c.Set(ctx, r.outputKey(in.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("store: save output %s: %w", in.ID, err)
	}
	return nil
}

func (r *Redis) GetInput(ctx context.Context, id string) (*types.ModelInput, error) {
	var in types.ModelInput
	ok, err := r.getJSON(ctx, r.inputKey(id), &in)
	if err != nil || !ok {
		return nil, err
	}
	return &in, nil
}

func (r *Redis) GetOutput(ctx context.Context, id string) (*types.ModelOutput, error) {
	var out types.ModelOutput
	ok, err := r.getJSON(ctx, r.outputKey(id), &out)
	if err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

func (r *Redis) getJSON(ctx context.Context, key string, v any) (bool, error) {
	c, err := r.conn()
	if err != nil {
		return false, err
	}
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}
