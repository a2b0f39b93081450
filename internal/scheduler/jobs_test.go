package scheduler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MMatviiuk/medtrack/internal/clock"
	"github.com/MMatviiuk/medtrack/internal/config"
	daystatusdomain "github.com/MMatviiuk/medtrack/internal/daystatus/domain"
	doseeventdomain "github.com/MMatviiuk/medtrack/internal/doseevent/domain"
	doseeventrepo "github.com/MMatviiuk/medtrack/internal/doseevent/repository"
	medicationdomain "github.com/MMatviiuk/medtrack/internal/medication/domain"
	medicationrepo "github.com/MMatviiuk/medtrack/internal/medication/repository"
	"github.com/MMatviiuk/medtrack/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type asyncCall struct {
	owner    snowflake.ID
	dates    []string
	timezone string
}

type recordingDayStatus struct {
	daystatusdomain.Service

	mu    sync.Mutex
	async []asyncCall
	many  []asyncCall
}

func (r *recordingDayStatus) RecomputeAsync(ownerID snowflake.ID, dates []string, timezone string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.async = append(r.async, asyncCall{owner: ownerID, dates: dates, timezone: timezone})
}

func (r *recordingDayStatus) RecomputeMany(_ context.Context, ownerID snowflake.ID, dates []string, timezone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.many = append(r.many, asyncCall{owner: ownerID, dates: dates, timezone: timezone})
	return nil
}

type jobEnv struct {
	db          *gorm.DB
	node        *snowflake.Node
	clock       *clock.FakeClock
	medications medicationdomain.Repository
	events      doseeventdomain.Repository
	dayStatus   *recordingDayStatus
	sched       *Scheduler
}

func newJobEnv(t *testing.T, now time.Time, cfg Config) *jobEnv {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("new test db: %v", err)
	}
	if err := conn.AutoMigrate(
		&medicationdomain.Medication{},
		&medicationdomain.DosingTemplate{},
		&doseeventdomain.DoseEvent{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	env := &jobEnv{
		db:          conn,
		node:        node,
		clock:       clock.NewFakeClock(now),
		medications: medicationrepo.Provide(),
		events:      doseeventrepo.Provide(),
		dayStatus:   &recordingDayStatus{},
	}
	sched, err := New(Params{
		DB:          conn,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       env.clock,
		Medications: env.medications,
		Events:      env.events,
		DayStatus:   env.dayStatus,
		Tracking:    config.NewStaticTrackingConfigHolder(config.TrackingConfig{HorizonDays: 10}),
		Config:      cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	env.sched = sched
	return env
}

func (e *jobEnv) seedTemplate(t *testing.T, owner snowflake.ID, dateEnd *string) *medicationdomain.DosingTemplate {
	t.Helper()
	created := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	med := &medicationdomain.Medication{ID: e.node.Generate(), OwnerID: owner, Name: "Levothyroxine", CreatedAt: created, UpdatedAt: created}
	if err := e.db.Create(med).Error; err != nil {
		t.Fatalf("insert medication: %v", err)
	}
	tmpl := &medicationdomain.DosingTemplate{
		ID:            e.node.Generate(),
		OwnerID:       owner,
		MedicationID:  med.ID,
		Quantity:      1,
		Units:         "pill",
		FrequencyDays: []int{1, 2, 3, 4, 5, 6, 7},
		TimeOfDay:     []string{"08:00"},
		DateStart:     "2025-03-01",
		DateEnd:       dateEnd,
		MealTiming:    medicationdomain.MealBefore,
		Timezone:      "UTC",
		CreatedAt:     created,
		UpdatedAt:     created,
	}
	if err := e.db.Create(tmpl).Error; err != nil {
		t.Fatalf("insert template: %v", err)
	}
	return tmpl
}

func (e *jobEnv) seedEvents(t *testing.T, tmpl *medicationdomain.DosingTemplate, times ...time.Time) {
	t.Helper()
	events := make([]doseeventdomain.DoseEvent, 0, len(times))
	for _, at := range times {
		events = append(events, doseeventdomain.DoseEvent{
			ID:           e.node.Generate(),
			OwnerID:      tmpl.OwnerID,
			TemplateID:   tmpl.ID,
			MedicationID: tmpl.MedicationID,
			DateTime:     at,
			Timezone:     tmpl.Timezone,
			Status:       doseeventdomain.StatusPlanned,
			CreatedAt:    at,
			UpdatedAt:    at,
		})
	}
	if _, err := e.events.BulkInsert(context.Background(), e.db, events); err != nil {
		t.Fatalf("insert events: %v", err)
	}
}

func (e *jobEnv) countEvents(t *testing.T, templateID snowflake.ID) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(&doseeventdomain.DoseEvent{}).Where("template_id = ?", templateID).Count(&n).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func dailyAt8(from time.Time, days int) []time.Time {
	out := make([]time.Time, 0, days)
	for i := 0; i < days; i++ {
		out = append(out, time.Date(from.Year(), from.Month(), from.Day()+i, 8, 0, 0, 0, time.UTC))
	}
	return out
}

func TestExtendHorizonFillsOnlyTheMissingTail(t *testing.T) {
	useTestMetrics(t)
	ctx := context.Background()
	env := newJobEnv(t, time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC), Config{})

	owner := env.node.Generate()
	tmpl := env.seedTemplate(t, owner, nil)
	env.seedEvents(t, tmpl, dailyAt8(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 5)...)

	if err := env.sched.ExtendHorizonJob(ctx); err != nil {
		t.Fatalf("extend horizon: %v", err)
	}

	// Horizon of 10 days from 2025-03-03 ends on 2025-03-13; the last seeded
	// event is on 2025-03-05.
	if got := env.countEvents(t, tmpl.ID); got != 13 {
		t.Fatalf("expected 13 events after extension, got %d", got)
	}
	if len(env.dayStatus.async) != 1 {
		t.Fatalf("expected one recompute, got %d", len(env.dayStatus.async))
	}
	call := env.dayStatus.async[0]
	if call.owner != owner || call.timezone != "UTC" {
		t.Fatalf("unexpected recompute target %+v", call)
	}
	if len(call.dates) != 8 || call.dates[0] != "2025-03-06" || call.dates[7] != "2025-03-13" {
		t.Fatalf("expected dates 2025-03-06..2025-03-13, got %v", call.dates)
	}

	if err := env.sched.ExtendHorizonJob(ctx); err != nil {
		t.Fatalf("second extend: %v", err)
	}
	if got := env.countEvents(t, tmpl.ID); got != 13 {
		t.Fatalf("second run must be a no-op, got %d events", got)
	}
	if len(env.dayStatus.async) != 1 {
		t.Fatalf("second run must not recompute")
	}

	env.clock.Advance(24 * time.Hour)
	if err := env.sched.ExtendHorizonJob(ctx); err != nil {
		t.Fatalf("next-day extend: %v", err)
	}
	if got := env.countEvents(t, tmpl.ID); got != 14 {
		t.Fatalf("expected one more day of events, got %d", got)
	}
}

func TestExtendHorizonSkipsBoundedAndRetiredTemplates(t *testing.T) {
	useTestMetrics(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	env := newJobEnv(t, now, Config{})

	end := "2025-03-04"
	bounded := env.seedTemplate(t, env.node.Generate(), &end)

	retired := env.seedTemplate(t, env.node.Generate(), nil)
	if err := env.db.Model(&medicationdomain.Medication{}).
		Where("id = ?", retired.MedicationID).
		Update("deleted_at", now).Error; err != nil {
		t.Fatalf("tombstone medication: %v", err)
	}

	if err := env.sched.ExtendHorizonJob(ctx); err != nil {
		t.Fatalf("extend horizon: %v", err)
	}
	if got := env.countEvents(t, bounded.ID); got != 0 {
		t.Fatalf("bounded template must not be extended, got %d", got)
	}
	if got := env.countEvents(t, retired.ID); got != 0 {
		t.Fatalf("template of a retired medication must not be extended, got %d", got)
	}
	if len(env.dayStatus.async) != 0 {
		t.Fatalf("expected no recomputes, got %d", len(env.dayStatus.async))
	}
}

func TestExtendHorizonPagesThroughTemplates(t *testing.T) {
	useTestMetrics(t)
	env := newJobEnv(t, time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC), Config{BatchSize: 1})

	first := env.seedTemplate(t, env.node.Generate(), nil)
	second := env.seedTemplate(t, env.node.Generate(), nil)
	third := env.seedTemplate(t, env.node.Generate(), nil)

	if err := env.sched.ExtendHorizonJob(context.Background()); err != nil {
		t.Fatalf("extend horizon: %v", err)
	}
	// No events yet: expansion runs from now through 2025-03-13.
	for _, tmpl := range []*medicationdomain.DosingTemplate{first, second, third} {
		if got := env.countEvents(t, tmpl.ID); got != 10 {
			t.Fatalf("template %s: expected 10 events, got %d", tmpl.ID, got)
		}
	}
}

func TestDayStatusSweepRecomputesRecentOwners(t *testing.T) {
	useTestMetrics(t)
	env := newJobEnv(t, time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC), Config{})

	active := env.seedTemplate(t, env.node.Generate(), nil)
	env.seedEvents(t, active, time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC))
	today := env.seedTemplate(t, env.node.Generate(), nil)
	env.seedEvents(t, today, time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC))
	stale := env.seedTemplate(t, env.node.Generate(), nil)
	env.seedEvents(t, stale, time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC))

	if err := env.sched.DayStatusSweepJob(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(env.dayStatus.many) != 2 {
		t.Fatalf("expected 2 owners swept, got %d", len(env.dayStatus.many))
	}
	var owners []snowflake.ID
	for _, call := range env.dayStatus.many {
		owners = append(owners, call.owner)
		if call.timezone != "UTC" {
			t.Fatalf("expected UTC sweep, got %s", call.timezone)
		}
		if len(call.dates) != 2 || call.dates[0] != "2025-03-09" || call.dates[1] != "2025-03-10" {
			t.Fatalf("unexpected dates %v", call.dates)
		}
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	if owners[0] != active.OwnerID || owners[1] != today.OwnerID {
		t.Fatalf("unexpected owners %v", owners)
	}
}

func TestRunOnceHonoursEnabledJobs(t *testing.T) {
	registry := useTestMetrics(t)
	env := newJobEnv(t, time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC), Config{EnabledJobs: []string{JobDayStatusSweep}})
	tmpl := env.seedTemplate(t, env.node.Generate(), nil)

	if err := env.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := env.countEvents(t, tmpl.ID); got != 0 {
		t.Fatalf("extend_horizon is disabled, got %d events", got)
	}

	runs := map[string]string{"service": "medtrack", "env": "test", "job": JobDayStatusSweep}
	if got := getCounterValue(t, registry, "medtrack_scheduler_job_runs_total", runs); got != 1 {
		t.Fatalf("expected one sweep run, got %v", got)
	}
}
