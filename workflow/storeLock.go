package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/sirupsen/logrus"
)

const storeLockTTL = 2 * time.Minute

var (
	storeLocksMu sync.Mutex
	storeLocks   = map[string]chan struct{}{}
)

func storeSemaphore(path string) chan struct{} {
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	storeLocksMu.Lock()
	defer storeLocksMu.Unlock()
	sem, ok := storeLocks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		storeLocks[key] = sem
	}
	return sem
}

// AcquireStoreLock serializes backup+mutation sequences on one store file.
// The in-process lock is authoritative. A redis lock is also taken so that other
// instances sharing the file back off; if redis is not available we proceed with a warning.
func AcquireStoreLock(ctx context.Context, path string, logger *logrus.Logger) (func(), error) {
	if logger == nil {
		logger = config.GetLogger()
	}
	sem := storeSemaphore(path)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var lock *redislock.Lock
	if locker := config.GetRedisLock(); locker != nil {
		var err error
		lock, err = locker.Obtain(ctx, fmt.Sprintf("lock:store:%s", path), storeLockTTL, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(200*time.Millisecond), 50),
		})
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.WithFields(logrus.Fields{
				"field": "AcquireStoreLock",
				"path":  path,
			}).Warn("could not obtain redis lock; proceeding with process lock only")
			lock = nil
		} else if err != nil {
			logger.WithFields(logrus.Fields{
				"field": "AcquireStoreLock",
				"path":  path,
			}).Warn("error obtaining redis lock; proceeding with process lock only: " + err.Error())
			lock = nil
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if lock != nil {
				if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
					logger.WithFields(logrus.Fields{
						"field": "AcquireStoreLock",
						"path":  path,
					}).Warn("failed to release redis lock: " + err.Error())
				}
			}
			<-sem
		})
	}, nil
}
