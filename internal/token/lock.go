package token

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	apperrors "blingsync/internal/errors"
)

// Unlock releases a lock obtained from a Locker.
type Unlock func(ctx context.Context) error

// Locker serializes token refreshes across processes sharing a credential set.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// LocalLocker only serializes callers inside this process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func(context.Context) error {
			<-ch
			return nil
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

var errLockLost = apperrors.New(apperrors.ErrStorage, "redis lock expired while held")

// RedisLocker holds the lock as a SET NX PX key owned by a random value. The
// key's TTL is extended every ttl/3 while the lock is held, so it only
// expires when the holder dies.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	poll   time.Duration
}

func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, poll: 200 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	owner := uuid.New().String()
	for {
		ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrNetwork, "acquire redis lock", err)
		}
		if ok {
			return l.hold(key, owner), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

func (l *RedisLocker) hold(key, owner string) Unlock {
	stop := make(chan struct{})
	done := make(chan struct{})
	var lost atomic.Bool

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
				n, err := renewScript.Run(ctx, l.client, []string{key}, owner, l.ttl.Milliseconds()).Int64()
				cancel()
				if err == nil && n == 0 {
					lost.Store(true)
					return
				}
			}
		}
	}()

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
		})
		n, err := releaseScript.Run(ctx, l.client, []string{key}, owner).Int64()
		if err != nil {
			return err
		}
		if n == 0 || lost.Load() {
			return errLockLost
		}
		return nil
	}
}

// SQLLocker uses the database's named advisory locks. The lock belongs to a
// session, so it is taken on a dedicated connection held until Unlock.
type SQLLocker struct {
	db      *sql.DB
	dialect string
	wait    time.Duration
}

func NewSQLLocker(db *gorm.DB, dialect string, wait time.Duration) (*SQLLocker, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if dialect != "mysql" && dialect != "postgres" {
		return nil, fmt.Errorf("advisory locks are not supported on %s", dialect)
	}
	if wait <= 0 {
		wait = time.Minute
	}
	return &SQLLocker{db: sqlDB, dialect: dialect, wait: wait}, nil
}

func (l *SQLLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "open lock connection", err)
	}

	switch l.dialect {
	case "mysql":
		var got sql.NullInt64
		err = conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", key, int(l.wait.Seconds())).Scan(&got)
		if err == nil && got.Int64 != 1 {
			err = fmt.Errorf("timed out waiting for lock %q", key)
		}
		if err != nil {
			conn.Close()
			return nil, apperrors.Wrap(apperrors.ErrStorage, "acquire mysql lock", err)
		}
		return func(ctx context.Context) error {
			defer conn.Close()
			_, err := conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", key)
			return err
		}, nil

	default:
		lockCtx, cancel := context.WithTimeout(ctx, l.wait)
		defer cancel()
		if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock(hashtext($1))", key); err != nil {
			conn.Close()
			return nil, apperrors.Wrap(apperrors.ErrStorage, "acquire postgres lock", err)
		}
		return func(ctx context.Context) error {
			defer conn.Close()
			_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", key)
			return err
		}, nil
	}
}
