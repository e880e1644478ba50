// Package redislock grants per-key leases in Redis so that only one process
// runs the worker loop of an API key hash at a time.
package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/task"
)

// DefaultTTL is used when no lease TTL is configured.
const DefaultTTL = 30 * time.Second

// Release deletes the key only if it still holds our token.
var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Refresh extends the key only if it still holds our token.
var luaRefresh = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

// Locker implements task.Locker with SETNX leases that are refreshed at a
// third of their TTL while held.
type Locker struct {
	cli    *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ task.Locker = (*Locker)(nil)

// Open parses a redis:// URL, connects and verifies the connection.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return cli, nil
}

// New creates a Locker. Keys are stored as <prefix>review-worker:<key>.
func New(cli *redis.Client, prefix string, ttl time.Duration, log *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Locker{
		cli:    cli,
		prefix: prefix,
		ttl:    ttl,
		logger: log.With(slog.String("component", "redis_locker")),
	}
}

// Key returns the Redis key guarding the lease name.
func (l *Locker) Key(name string) string {
	return l.prefix + "review-worker:" + name
}

// lease is a held lease. lost is closed by the refresher when the key no
// longer carries our token or cannot be refreshed for a full TTL.
type lease struct {
	l     *Locker
	key   string
	token string

	stop chan struct{}
	done chan struct{}
	lost chan struct{}
	once sync.Once
}

// TryLock implements task.Locker. It does not wait: if another process holds
// the lease, ok is false.
func (l *Locker) TryLock(ctx context.Context, name string) (task.Lease, bool, error) {
	key := l.Key(name)
	token := uuid.NewString()

	ok, err := l.cli.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	ls := &lease{
		l:     l,
		key:   key,
		token: token,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		lost:  make(chan struct{}),
	}
	go ls.refresh()
	return ls, true, nil
}

func (ls *lease) Lost() <-chan struct{} { return ls.lost }

// Release stops refreshing and deletes the key if it still holds our token.
func (ls *lease) Release() {
	ls.once.Do(func() {
		close(ls.stop)
		<-ls.done
		// The caller's context may already be cancelled at shutdown.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := luaUnlock.Run(ctx, ls.l.cli, []string{ls.key}, ls.token).Err(); err != nil {
			ls.l.logger.Warn("failed to release lease",
				slog.String("key", ls.key),
				slog.String("error", err.Error()))
		}
	})
}

func (ls *lease) refresh() {
	defer close(ls.done)
	l := ls.l
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	lastOK := time.Now()
	for {
		select {
		case <-ls.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := luaRefresh.Run(ctx, l.cli, []string{ls.key}, ls.token, l.ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil:
				l.logger.Warn("failed to refresh lease",
					slog.String("key", ls.key),
					slog.String("error", err.Error()))
				if time.Since(lastOK) < l.ttl {
					continue
				}
			case n == 1:
				lastOK = time.Now()
				continue
			}
			l.logger.Error("lease lost", slog.String("key", ls.key))
			close(ls.lost)
			return
		}
	}
}
