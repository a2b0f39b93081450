package config

import (
	"testing"
	"time"
)

func TestTrackingConfigWithDefaults(t *testing.T) {
	cfg := TrackingConfig{RecomputeConcurrency: 4}.withDefaults()

	if cfg.HorizonDays != 365 {
		t.Fatalf("expected default horizon 365, got %d", cfg.HorizonDays)
	}
	if cfg.RecomputeConcurrency != 4 {
		t.Fatalf("expected concurrency to be kept, got %d", cfg.RecomputeConcurrency)
	}
	if cfg.DefaultTimezone != "UTC" {
		t.Fatalf("expected UTC default timezone, got %q", cfg.DefaultTimezone)
	}
	if cfg.RecomputeTimeout != 30*time.Second {
		t.Fatalf("expected default recompute timeout, got %s", cfg.RecomputeTimeout)
	}
}

func TestValidateTrackingRejectsUnknownZone(t *testing.T) {
	if err := validateTracking(TrackingConfig{DefaultTimezone: "Mars/Olympus"}); err == nil {
		t.Fatal("expected invalid timezone to be rejected")
	}
	if err := validateTracking(TrackingConfig{DefaultTimezone: "Europe/Kyiv"}); err != nil {
		t.Fatalf("expected valid timezone, got %v", err)
	}
}

func TestStaticHolderAppliesDefaults(t *testing.T) {
	holder := NewStaticTrackingConfigHolder(TrackingConfig{HorizonDays: 30})
	got := holder.Get()
	if got.HorizonDays != 30 {
		t.Fatalf("expected horizon 30, got %d", got.HorizonDays)
	}
	if got.RecomputeConcurrency != 16 {
		t.Fatalf("expected default concurrency, got %d", got.RecomputeConcurrency)
	}

	var nilHolder *TrackingConfigHolder
	if nilHolder.Get().HorizonDays != 365 {
		t.Fatal("expected nil holder to fall back to defaults")
	}
}
