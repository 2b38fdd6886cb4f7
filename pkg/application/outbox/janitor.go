package outbox

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
)

const janitorLockName = "outbox_janitor"

type Locker interface {
	ExecuteWithLock(ctx context.Context, lockName string, lockTimeout time.Duration, callback func() error) error
}

type JanitorConfig struct {
	Interval time.Duration
	// ClaimLease is how long a claim may stay in flight before it is
	// considered abandoned.
	ClaimLease time.Duration
	// Retention keeps published records for audit and replay.
	Retention   time.Duration
	LockTimeout time.Duration
}

// Janitor recovers abandoned claims and garbage-collects published records.
// Only one instance works at a time, guarded by a named lock.
type Janitor struct {
	repo   Repository
	locker Locker
	config JanitorConfig
	logger logging.Logger
	now    func() time.Time
}

func NewJanitor(repo Repository, locker Locker, config JanitorConfig, logger logging.Logger) *Janitor {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = time.Minute
	}
	if config.Retention <= 0 {
		config.Retention = 7 * 24 * time.Hour
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = time.Second
	}
	return &Janitor{
		repo:   repo,
		locker: locker,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		if err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error(err, "outbox janitor sweep failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (j *Janitor) Sweep(ctx context.Context) error {
	return j.locker.ExecuteWithLock(ctx, janitorLockName, j.config.LockTimeout, func() error {
		now := j.now()
		released, err := j.repo.ReleaseStale(ctx, now.Add(-j.config.ClaimLease))
		if err != nil {
			return errors.Wrap(err, "release stale claims")
		}
		purged, err := j.repo.Purge(ctx, now.Add(-j.config.Retention))
		if err != nil {
			return errors.Wrap(err, "purge published records")
		}
		if released > 0 || purged > 0 {
			j.logger.WithFields(logging.Fields{
				"released": released,
				"purged":   purged,
			}).Info("outbox janitor sweep")
		}
		return nil
	})
}
