package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/MMatviiuk/medtrack/internal/clock"
	"github.com/MMatviiuk/medtrack/internal/config"
	daystatusdomain "github.com/MMatviiuk/medtrack/internal/daystatus/domain"
	doseeventdomain "github.com/MMatviiuk/medtrack/internal/doseevent/domain"
	medicationdomain "github.com/MMatviiuk/medtrack/internal/medication/domain"
	"github.com/MMatviiuk/medtrack/internal/observability/metrics"
	"github.com/MMatviiuk/medtrack/internal/recurrence"
	"github.com/MMatviiuk/medtrack/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxChainLength = 1000

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      medicationdomain.Repository
	Events    doseeventdomain.Repository
	DayStatus daystatusdomain.Service
	Metrics   *metrics.Metrics             `optional:"true"`
	Tracking  *config.TrackingConfigHolder `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      medicationdomain.Repository
	events    doseeventdomain.Repository
	dayStatus daystatusdomain.Service
	metrics   *metrics.Metrics
	tracking  *config.TrackingConfigHolder
}

func New(p Params) medicationdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("medication.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		events:    p.Events,
		dayStatus: p.DayStatus,
		metrics:   p.Metrics,
		tracking:  p.Tracking,
	}
}

func (s *Service) CreateMedication(ctx context.Context, req medicationdomain.CreateMedicationRequest) (*medicationdomain.Medication, error) {
	if req.OwnerID == 0 {
		return nil, medicationdomain.ErrInvalidOwner
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, medicationdomain.ErrInvalidName
	}

	now := s.clock.Now().UTC()
	med := &medicationdomain.Medication{
		ID:        s.genID.Generate(),
		OwnerID:   req.OwnerID,
		Name:      name,
		Strength:  strings.TrimSpace(req.Strength),
		Form:      strings.TrimSpace(req.Form),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertMedication(ctx, s.db, med); err != nil {
		return nil, err
	}
	return med, nil
}

func (s *Service) CreateTemplate(ctx context.Context, req medicationdomain.CreateTemplateRequest) (*medicationdomain.CreateTemplateResult, error) {
	if req.OwnerID == 0 {
		return nil, medicationdomain.ErrInvalidOwner
	}
	medicationID, err := snowflake.ParseString(strings.TrimSpace(req.MedicationID))
	if err != nil || medicationID == 0 {
		return nil, medicationdomain.ErrInvalidID
	}
	if req.Quantity <= 0 {
		return nil, medicationdomain.ErrInvalidQuantity
	}
	units := strings.TrimSpace(req.Units)
	if units == "" {
		return nil, medicationdomain.ErrInvalidUnits
	}
	if req.DurationDays < 0 {
		return nil, medicationdomain.ErrInvalidDuration
	}
	mealTiming := strings.ToLower(strings.TrimSpace(req.MealTiming))
	if mealTiming == "" {
		mealTiming = medicationdomain.MealAnytime
	}
	if !validMealTiming(mealTiming) {
		return nil, medicationdomain.ErrInvalidMealTiming
	}
	timezone, loc, err := s.location(req.Timezone)
	if err != nil {
		return nil, err
	}

	start, err := recurrence.ParseDate(req.DateStart)
	if err != nil {
		return nil, err
	}
	rule := recurrence.Rule{
		DateStart:     start,
		DateEnd:       recurrence.EndDate(start, req.DurationDays),
		FrequencyDays: req.FrequencyDays,
		TimeOfDay:     req.TimeOfDay,
	}
	if err := recurrence.Validate(rule); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	tmpl := &medicationdomain.DosingTemplate{
		ID:            s.genID.Generate(),
		OwnerID:       req.OwnerID,
		MedicationID:  medicationID,
		Quantity:      req.Quantity,
		Units:         units,
		FrequencyDays: append([]int(nil), req.FrequencyDays...),
		TimeOfDay:     append([]string(nil), req.TimeOfDay...),
		DurationDays:  req.DurationDays,
		DateStart:     start.Format(recurrence.DateLayout),
		DateEnd:       formatDate(rule.DateEnd),
		MealTiming:    mealTiming,
		Timezone:      timezone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	instants := recurrence.Expand(rule, loc)
	var generated int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		med, err := s.repo.FindActiveMedication(ctx, tx, req.OwnerID, medicationID)
		if err != nil {
			return err
		}
		if med == nil {
			return medicationdomain.ErrNotFound
		}

		active, err := s.repo.ListActiveTemplates(ctx, tx, req.OwnerID, medicationID)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return medicationdomain.ErrActiveTemplateExists
		}

		if err := s.repo.InsertTemplate(ctx, tx, tmpl); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return medicationdomain.ErrActiveTemplateExists
			}
			return err
		}

		generated, err = s.events.BulkInsert(ctx, tx, s.buildEvents(tmpl, instants, now))
		return err
	})
	if err != nil {
		return nil, err
	}

	dates := recurrence.Dates(instants, loc)
	s.metrics.RecordEventsGenerated(ctx, "template", generated)
	s.dayStatus.RecomputeAsync(req.OwnerID, dates, timezone)

	s.log.Info("dosing template created",
		zap.String("template_id", tmpl.ID.String()),
		zap.String("medication_id", medicationID.String()),
		zap.Int64("generated", generated),
	)

	return &medicationdomain.CreateTemplateResult{
		Template:      tmpl,
		Generated:     generated,
		AffectedDates: dates,
	}, nil
}

func (s *Service) UpdateMedication(ctx context.Context, req medicationdomain.UpdateMedicationRequest) (*medicationdomain.UpdateMedicationResult, error) {
	if req.OwnerID == 0 {
		return nil, medicationdomain.ErrInvalidOwner
	}
	if req.MedicationID == 0 {
		return nil, medicationdomain.ErrInvalidID
	}

	// Plain read: the versioned path re-reads under lock inside its
	// transaction, and the in-place update is guarded by deleted_at.
	current, err := s.repo.FindMedication(ctx, s.db, req.OwnerID, req.MedicationID)
	if err != nil {
		return nil, err
	}
	if !current.Active() {
		return nil, medicationdomain.ErrNotFound
	}

	attrs := medicationdomain.Attributes{
		Name:     pick(req.Name, current.Name),
		Strength: pick(req.Strength, current.Strength),
		Form:     pick(req.Form, current.Form),
	}
	if attrs.Name == "" {
		return nil, medicationdomain.ErrInvalidName
	}

	active, err := s.repo.ListActiveTemplates(ctx, s.db, req.OwnerID, req.MedicationID)
	if err != nil {
		return nil, err
	}

	// An active template forces a new version so the chain stays consistent.
	if req.CreateVersion || len(active) > 0 {
		version, err := s.CreateVersion(ctx, medicationdomain.CreateVersionRequest{
			OwnerID:              req.OwnerID,
			PreviousMedicationID: req.MedicationID,
			Attributes:           attrs,
		})
		if err != nil {
			return nil, err
		}
		return &medicationdomain.UpdateMedicationResult{
			Medication: version.Medication,
			Versioned:  true,
			Version:    version,
		}, nil
	}

	current.Name = attrs.Name
	current.Strength = attrs.Strength
	current.Form = attrs.Form
	current.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.UpdateMedicationAttributes(ctx, s.db, current); err != nil {
		return nil, err
	}
	return &medicationdomain.UpdateMedicationResult{Medication: current}, nil
}

func (s *Service) CreateVersion(ctx context.Context, req medicationdomain.CreateVersionRequest) (*medicationdomain.VersionResult, error) {
	if req.OwnerID == 0 {
		return nil, medicationdomain.ErrInvalidOwner
	}
	if req.PreviousMedicationID == 0 {
		return nil, medicationdomain.ErrInvalidID
	}
	now := req.Now
	if now.IsZero() {
		now = s.clock.Now()
	}
	now = now.UTC()

	result := &medicationdomain.VersionResult{}
	affected := newDateSet()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		previous, template, err := s.loadActive(ctx, tx, req.OwnerID, req.PreviousMedicationID)
		if err != nil {
			return err
		}

		deleted, err := s.retire(ctx, tx, previous, now, affected)
		if err != nil {
			return err
		}
		result.Deleted = deleted

		name := strings.TrimSpace(req.Attributes.Name)
		if name == "" {
			name = previous.Name
		}
		prevID := previous.ID
		med := &medicationdomain.Medication{
			ID:                   s.genID.Generate(),
			OwnerID:              req.OwnerID,
			Name:                 name,
			Strength:             strings.TrimSpace(req.Attributes.Strength),
			Form:                 strings.TrimSpace(req.Attributes.Form),
			PreviousMedicationID: &prevID,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := s.repo.InsertMedication(ctx, tx, med); err != nil {
			return err
		}
		result.Medication = med

		if template == nil {
			return nil
		}

		clone := s.cloneTemplate(template, med.ID, now)
		if err := s.repo.InsertTemplate(ctx, tx, clone); err != nil {
			return err
		}
		result.Template = clone

		rule, err := clone.Rule()
		if err != nil {
			return err
		}
		loc := clone.Location()
		instants, err := s.skipTaken(ctx, tx, previous.ID, recurrence.ExpandAfter(rule, loc, now), now)
		if err != nil {
			return err
		}
		generated, err := s.events.BulkInsert(ctx, tx, s.buildEvents(clone, instants, now))
		if err != nil {
			return err
		}
		result.Generated = generated
		affected.add(clone.Timezone, recurrence.Dates(instants, loc)...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.AffectedDates = affected.flatten()
	s.metrics.RecordVersionCreated(ctx)
	s.metrics.RecordEventsDeleted(ctx, "version", result.Deleted)
	s.metrics.RecordEventsGenerated(ctx, "version", result.Generated)
	s.scheduleRecompute(req.OwnerID, affected)

	s.log.Info("medication versioned",
		zap.String("previous_medication_id", req.PreviousMedicationID.String()),
		zap.String("medication_id", result.Medication.ID.String()),
		zap.Int64("deleted", result.Deleted),
		zap.Int64("generated", result.Generated),
		zap.Int("affected_dates", len(result.AffectedDates)),
	)

	return result, nil
}

func (s *Service) DeleteWithCleanup(ctx context.Context, req medicationdomain.DeleteRequest) (*medicationdomain.CleanupResult, error) {
	if req.OwnerID == 0 {
		return nil, medicationdomain.ErrInvalidOwner
	}
	if req.MedicationID == 0 {
		return nil, medicationdomain.ErrInvalidID
	}
	now := req.Now
	if now.IsZero() {
		now = s.clock.Now()
	}
	now = now.UTC()

	result := &medicationdomain.CleanupResult{}
	affected := newDateSet()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		previous, _, err := s.loadActive(ctx, tx, req.OwnerID, req.MedicationID)
		if err != nil {
			return err
		}
		result.Deleted, err = s.retire(ctx, tx, previous, now, affected)
		return err
	})
	if err != nil {
		return nil, err
	}

	result.AffectedDates = affected.flatten()
	s.metrics.RecordEventsDeleted(ctx, "delete", result.Deleted)
	s.scheduleRecompute(req.OwnerID, affected)

	s.log.Info("medication deleted",
		zap.String("medication_id", req.MedicationID.String()),
		zap.Int64("deleted", result.Deleted),
	)
	return result, nil
}

func (s *Service) ListVersions(ctx context.Context, ownerID, medicationID snowflake.ID) ([]medicationdomain.Medication, error) {
	if ownerID == 0 {
		return nil, medicationdomain.ErrInvalidOwner
	}
	if medicationID == 0 {
		return nil, medicationdomain.ErrInvalidID
	}

	start, err := s.repo.FindMedication(ctx, s.db, ownerID, medicationID)
	if err != nil {
		return nil, err
	}
	if start == nil {
		return nil, medicationdomain.ErrNotFound
	}

	seen := map[snowflake.ID]struct{}{start.ID: {}}
	var older []medicationdomain.Medication
	cursor := start
	for cursor.PreviousMedicationID != nil && len(seen) < maxChainLength {
		prev, err := s.repo.FindMedication(ctx, s.db, ownerID, *cursor.PreviousMedicationID)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			break
		}
		if _, ok := seen[prev.ID]; ok {
			break
		}
		seen[prev.ID] = struct{}{}
		older = append(older, *prev)
		cursor = prev
	}

	chain := make([]medicationdomain.Medication, 0, len(older)+1)
	for i := len(older) - 1; i >= 0; i-- {
		chain = append(chain, older[i])
	}
	chain = append(chain, *start)

	cursor = start
	for len(seen) < maxChainLength {
		next, err := s.repo.FindSuccessor(ctx, s.db, ownerID, cursor.ID)
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		if _, ok := seen[next.ID]; ok {
			break
		}
		seen[next.ID] = struct{}{}
		chain = append(chain, *next)
		cursor = next
	}

	return chain, nil
}

// loadActive returns the owned, non-tombstoned medication and its newest
// active template, if any.
func (s *Service) loadActive(ctx context.Context, tx *gorm.DB, ownerID, medicationID snowflake.ID) (*medicationdomain.Medication, *medicationdomain.DosingTemplate, error) {
	med, err := s.repo.FindActiveMedication(ctx, tx, ownerID, medicationID)
	if err != nil {
		return nil, nil, err
	}
	if med == nil {
		return nil, nil, medicationdomain.ErrNotFound
	}

	templates, err := s.repo.ListActiveTemplates(ctx, tx, ownerID, medicationID)
	if err != nil {
		return nil, nil, err
	}
	if len(templates) == 0 {
		return med, nil, nil
	}
	return med, &templates[len(templates)-1], nil
}

// retire removes the medication's future PLANNED events and tombstones its
// templates and the medication itself.
func (s *Service) retire(ctx context.Context, tx *gorm.DB, med *medicationdomain.Medication, now time.Time, affected dateSet) (int64, error) {
	filter := doseeventdomain.ByMedication(med.ID)

	future, err := s.events.ListFuturePlanned(ctx, tx, filter, now)
	if err != nil {
		return 0, err
	}
	for _, ev := range future {
		affected.add(ev.Timezone, ev.DateTime.In(loadLocation(ev.Timezone)).Format(recurrence.DateLayout))
	}

	deleted, err := s.events.DeleteFuturePlanned(ctx, tx, filter, now)
	if err != nil {
		return 0, err
	}

	if _, err := s.repo.TombstoneTemplates(ctx, tx, med.OwnerID, med.ID, now); err != nil {
		return 0, err
	}

	n, err := s.repo.TombstoneMedication(ctx, tx, med.OwnerID, med.ID, now)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, medicationdomain.ErrNotFound
	}
	return deleted, nil
}

// skipTaken drops instants already covered by a dose of the previous version
// that was marked taken ahead of time. Those rows survive retire.
func (s *Service) skipTaken(ctx context.Context, tx *gorm.DB, previousID snowflake.ID, instants []time.Time, now time.Time) ([]time.Time, error) {
	if len(instants) == 0 {
		return instants, nil
	}
	taken, err := s.events.ListFutureDone(ctx, tx, doseeventdomain.ByMedication(previousID), now)
	if err != nil {
		return nil, err
	}
	if len(taken) == 0 {
		return instants, nil
	}

	covered := make(map[int64]struct{}, len(taken))
	for _, ev := range taken {
		covered[ev.DateTime.UTC().UnixNano()] = struct{}{}
	}
	out := make([]time.Time, 0, len(instants))
	for _, at := range instants {
		if _, ok := covered[at.UTC().UnixNano()]; !ok {
			out = append(out, at)
		}
	}
	return out, nil
}

// cloneTemplate copies the rule onto a new medication. The start moves to
// today in the template's zone and the original duration is re-applied from
// there.
func (s *Service) cloneTemplate(src *medicationdomain.DosingTemplate, medicationID snowflake.ID, now time.Time) *medicationdomain.DosingTemplate {
	loc := src.Location()
	y, m, d := now.In(loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	return &medicationdomain.DosingTemplate{
		ID:            s.genID.Generate(),
		OwnerID:       src.OwnerID,
		MedicationID:  medicationID,
		Quantity:      src.Quantity,
		Units:         src.Units,
		FrequencyDays: append([]int(nil), src.FrequencyDays...),
		TimeOfDay:     append([]string(nil), src.TimeOfDay...),
		DurationDays:  src.DurationDays,
		DateStart:     today.Format(recurrence.DateLayout),
		DateEnd:       formatDate(recurrence.EndDate(today, src.DurationDays)),
		MealTiming:    src.MealTiming,
		Timezone:      src.Timezone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Service) buildEvents(tmpl *medicationdomain.DosingTemplate, instants []time.Time, now time.Time) []doseeventdomain.DoseEvent {
	events := make([]doseeventdomain.DoseEvent, 0, len(instants))
	for _, at := range instants {
		events = append(events, doseeventdomain.DoseEvent{
			ID:           s.genID.Generate(),
			OwnerID:      tmpl.OwnerID,
			TemplateID:   tmpl.ID,
			MedicationID: tmpl.MedicationID,
			DateTime:     at.UTC(),
			Timezone:     tmpl.Timezone,
			Status:       doseeventdomain.StatusPlanned,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return events
}

func (s *Service) scheduleRecompute(ownerID snowflake.ID, affected dateSet) {
	for timezone, dates := range affected {
		s.dayStatus.RecomputeAsync(ownerID, keys(dates), timezone)
	}
}

func (s *Service) location(timezone string) (string, *time.Location, error) {
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		timezone = s.tracking.Get().DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return "", nil, medicationdomain.ErrInvalidTimezone
	}
	return timezone, loc, nil
}

func validMealTiming(v string) bool {
	switch v {
	case medicationdomain.MealBefore, medicationdomain.MealWith, medicationdomain.MealAfter, medicationdomain.MealAnytime:
		return true
	default:
		return false
	}
}

func pick(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return strings.TrimSpace(*v)
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(recurrence.DateLayout)
	return &s
}

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// dateSet groups calendar dates by the zone they were computed in.
type dateSet map[string]map[string]struct{}

func newDateSet() dateSet { return dateSet{} }

func (d dateSet) add(timezone string, dates ...string) {
	if len(dates) == 0 {
		return
	}
	bucket, ok := d[timezone]
	if !ok {
		bucket = map[string]struct{}{}
		d[timezone] = bucket
	}
	for _, date := range dates {
		bucket[date] = struct{}{}
	}
}

func (d dateSet) flatten() []string {
	all := map[string]struct{}{}
	for _, bucket := range d {
		for date := range bucket {
			all[date] = struct{}{}
		}
	}
	return keys(all)
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
