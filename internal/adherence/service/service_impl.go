package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	adherencedomain "github.com/MMatviiuk/medtrack/internal/adherence/domain"
	"github.com/MMatviiuk/medtrack/internal/cache"
	"github.com/MMatviiuk/medtrack/internal/config"
	daystatusdomain "github.com/MMatviiuk/medtrack/internal/daystatus/domain"
	"github.com/MMatviiuk/medtrack/internal/recurrence"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Day boundaries for adherence are always UTC.
const anchorTimezone = "UTC"

type Params struct {
	fx.In

	Log       *zap.Logger
	DayStatus daystatusdomain.Service
	KV        cache.KVStore                `optional:"true"`
	Tracking  *config.TrackingConfigHolder `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	dayStatus daystatusdomain.Service
	kv        cache.KVStore
	tracking  *config.TrackingConfigHolder
}

func New(p Params) adherencedomain.Service {
	return &Service{
		log:       p.Log.Named("adherence.service"),
		dayStatus: p.DayStatus,
		kv:        p.KV,
		tracking:  p.Tracking,
	}
}

type cachedValue struct {
	Adherence *int `json:"adherence"`
}

func (s *Service) Adherence(ctx context.Context, ownerID snowflake.ID, windowDays int, now time.Time) (*int, error) {
	if ownerID == 0 {
		return nil, adherencedomain.ErrInvalidOwner
	}
	if !supportedWindow(windowDays) {
		return nil, adherencedomain.ErrInvalidWindow
	}

	today := now.UTC().Format(recurrence.DateLayout)
	key := fmt.Sprintf("adherence:%s:%d:%s", ownerID.String(), windowDays, today)
	if v, ok := s.readCache(ctx, key); ok {
		return v, nil
	}

	to := now.UTC()
	from := to.AddDate(0, 0, -(windowDays - 1))
	days, err := s.dayStatus.ReadRange(ctx, ownerID,
		from.Format(recurrence.DateLayout),
		to.Format(recurrence.DateLayout),
		anchorTimezone,
	)
	if err != nil {
		return nil, err
	}

	var total, taken int
	for _, day := range days {
		total += day.TotalCount
		taken += day.TakenCount
	}
	value := Percentage(taken, total)

	s.writeCache(ctx, key, value)
	return value, nil
}

func (s *Service) Summary(ctx context.Context, ownerID snowflake.ID, now time.Time) ([]adherencedomain.WindowSummary, error) {
	out := make([]adherencedomain.WindowSummary, 0, len(adherencedomain.Windows))
	for _, window := range adherencedomain.Windows {
		value, err := s.Adherence(ctx, ownerID, window, now)
		if err != nil {
			return nil, err
		}
		out = append(out, adherencedomain.WindowSummary{WindowDays: window, Adherence: value})
	}
	return out, nil
}

// Percentage is round(taken/total*100) clamped to [0,100], or nil when there
// is nothing to measure.
func Percentage(taken, total int) *int {
	if total <= 0 {
		return nil
	}
	pct := int(math.Round(float64(taken) / float64(total) * 100))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return &pct
}

func (s *Service) readCache(ctx context.Context, key string) (*int, bool) {
	if s.kv == nil || s.tracking.Get().AdherenceCacheTTL <= 0 {
		return nil, false
	}
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("adherence cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var v cachedValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	return v.Adherence, true
}

func (s *Service) writeCache(ctx context.Context, key string, value *int) {
	ttl := s.tracking.Get().AdherenceCacheTTL
	if s.kv == nil || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(cachedValue{Adherence: value})
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, key, string(raw), ttl); err != nil {
		s.log.Warn("adherence cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func supportedWindow(days int) bool {
	for _, w := range adherencedomain.Windows {
		if w == days {
			return true
		}
	}
	return false
}
