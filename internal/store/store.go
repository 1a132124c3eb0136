// Package store persists cache snapshots in SQLite or Redis.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/placefinder/internal/cache"
)

// Driver names a KV backend.
type Driver string

const (
	DriverNone   Driver = "none"
	DriverSQLite Driver = "sqlite"
	DriverRedis  Driver = "redis"
)

// KV is a small blob store keyed by name. Get returns (nil, nil) for a
// missing key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver        Driver
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open returns the KV selected by opts. DriverNone (or empty) returns nil.
func Open(ctx context.Context, opts Options) (KV, error) {
	switch opts.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverSQLite:
		st, err := NewSQLite(opts.Path)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	case DriverRedis:
		st := NewRedis(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", opts.Driver)
	}
}

// Snapshot binds one key of kv to the cache.Snapshotter contract.
type Snapshot struct {
	kv  KV
	key string
}

// NewSnapshot returns a Snapshotter reading and writing key.
func NewSnapshot(kv KV, key string) *Snapshot {
	return &Snapshot{kv: kv, key: key}
}

var _ cache.Snapshotter = (*Snapshot)(nil)

func (s *Snapshot) Load(ctx context.Context) ([]byte, error) {
	return s.kv.Get(ctx, s.key)
}

func (s *Snapshot) Save(ctx context.Context, data []byte) error {
	return s.kv.Put(ctx, s.key, data)
}

// Delete removes the snapshot key.
func (s *Snapshot) Delete(ctx context.Context) error {
	return s.kv.Delete(ctx, s.key)
}

// savedAtter is implemented by stores that record write times.
type savedAtter interface {
	SavedAt(ctx context.Context, key string) (time.Time, error)
}

// SavedAt returns when the snapshot was last written. ok is false when the
// store does not track write times or the snapshot does not exist.
func (s *Snapshot) SavedAt(ctx context.Context) (t time.Time, ok bool, err error) {
	st, supported := s.kv.(savedAtter)
	if !supported {
		return time.Time{}, false, nil
	}
	t, err = st.SavedAt(ctx, s.key)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, !t.IsZero(), nil
}
