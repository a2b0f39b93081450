package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const lockPrefix = "medtrack:scheduler:"

// acquireLeader takes the per-job lock so only one instance runs a job at a
// time. Without Redis every instance is its own leader.
func (s *Scheduler) acquireLeader(ctx context.Context, job string) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}

	key := lockPrefix + job
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.log.Warn("failed to release scheduler lock", zap.String("job", job), zap.Error(err))
		}
	}
	return release, true, nil
}
