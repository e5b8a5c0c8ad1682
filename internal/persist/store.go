// Package persist stores run snapshots.
//
// Three backends implement [Store]:
//
//   - [FileStore]: one file per run under <dir>/<project>/
//   - [SQLiteStore]: a single SQLite database
//   - [RedisStore]: Redis keys with a per-project index
//
// Every backend stores the same payload: the snapshot encoded with msgpack
// and compressed with the configured algorithm.
package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/UynajGI/yuusim/internal/compress"
)

var (
	// ErrNotFound indicates no snapshot exists for a project.
	ErrNotFound = errors.New("persist: snapshot not found")

	// ErrChecksum indicates a stored payload does not match its checksum.
	ErrChecksum = errors.New("persist: checksum mismatch")
)

// Store persists snapshots keyed by project.
type Store interface {
	Save(ctx context.Context, project string, snap *Snapshot) error
	// Load returns the most recent snapshot of project.
	Load(ctx context.Context, project string) (*Snapshot, error)
	// List returns snapshot summaries of project, newest first.
	List(ctx context.Context, project string) ([]Meta, error)
	Close() error
}

// Options selects and configures a backend for Open.
type Options struct {
	Kind        string // file, sqlite or redis
	Dir         string // file
	Subdir      string // file, per-project folder below Dir/<project>
	Path        string // sqlite
	RedisAddr   string
	RedisPrefix string
	TTL         time.Duration
	Compression compress.Algorithm
}

// Open builds the backend named by opts.Kind.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(opts.Kind) {
	case "", "file":
		s := NewWorkspaceFileStore(opts.Dir, opts.Subdir, opts.Compression)
		if err := s.Init(); err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		return NewSQLiteStore(opts.Path, opts.Compression)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		return NewRedisStore(client, RedisOptions{
			Prefix:      opts.RedisPrefix,
			TTL:         opts.TTL,
			Compression: opts.Compression,
		}), nil
	default:
		return nil, fmt.Errorf("persist: unknown store kind %q", opts.Kind)
	}
}
