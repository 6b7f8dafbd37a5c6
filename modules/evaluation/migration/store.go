package migration

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/iota-uz/cveteval/pkg/configuration"
)

var ErrSessionNotFound = errors.New("wizard session not found")

// WizardStore keeps wizard sessions between requests. Sessions expire after a TTL.
type WizardStore interface {
	Get(ctx context.Context, id string) (State, error)
	Save(ctx context.Context, s State) error
	Delete(ctx context.Context, id string) error
}

func NewWizardStore(opts configuration.WizardOptions) (WizardStore, error) {
	switch opts.Storage {
	case "redis":
		var ropts *redis.Options
		if strings.Contains(opts.RedisURL, "://") {
			parsed, err := redis.ParseURL(opts.RedisURL)
			if err != nil {
				return nil, errors.Wrap(err, "parse REDIS_URL")
			}
			ropts = parsed
		} else {
			ropts = &redis.Options{Addr: opts.RedisURL}
		}
		return NewRedisWizardStore(redis.NewClient(ropts), opts.TTL), nil
	case "", "memory":
		return NewMemoryWizardStore(opts.TTL), nil
	default:
		return nil, errors.Errorf("unknown wizard storage %q", opts.Storage)
	}
}

type memoryEntry struct {
	state   State
	expires time.Time
}

type MemoryWizardStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryWizardStore(ttl time.Duration) *MemoryWizardStore {
	return &MemoryWizardStore{ttl: ttl, now: time.Now, entries: map[string]memoryEntry{}}
}

func (s *MemoryWizardStore) Get(_ context.Context, id string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return State{}, ErrSessionNotFound
	}
	if s.ttl > 0 && s.now().After(e.expires) {
		delete(s.entries, id)
		return State{}, ErrSessionNotFound
	}
	return e.state, nil
}

func (s *MemoryWizardStore) Save(_ context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[st.ID] = memoryEntry{state: st, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryWizardStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

type RedisWizardStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisWizardStore(client *redis.Client, ttl time.Duration) *RedisWizardStore {
	return &RedisWizardStore{redis: client, prefix: "cveteval:wizard:v1", ttl: ttl}
}

func (r *RedisWizardStore) key(id string) string {
	return r.prefix + ":" + id
}

func (r *RedisWizardStore) Get(ctx context.Context, id string) (State, error) {
	raw, err := r.redis.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, ErrSessionNotFound
		}
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, errors.Wrap(err, "decode wizard state")
	}
	return st, nil
}

// Save overwrites the session; concurrent sessions of one user race and the last write wins.
func (r *RedisWizardStore) Save(ctx context.Context, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return r.redis.Set(ctx, r.key(st.ID), raw, r.ttl).Err()
}

func (r *RedisWizardStore) Delete(ctx context.Context, id string) error {
	return r.redis.Del(ctx, r.key(id)).Err()
}
