package schedules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaybird/relaybird/internal/dispatch"
	"github.com/relaybird/relaybird/internal/domain"
)

// Recommendation is analytics output in schedule terms.
type Recommendation struct {
	BatchTimes []string `json:"batch_times"`
	CronExpr   string   `json:"cron_expr"`
}

// Recommender supplies timing recommendations for a set of destinations.
type Recommender interface {
	RecommendTimes(ctx context.Context, destinationIDs []string) (*Recommendation, error)
}

// Service implements schedule business logic.
type Service struct {
	repo        Repository
	recommender Recommender // may be nil
}

// NewService creates a new schedules service.
func NewService(repo Repository, recommender Recommender) *Service {
	return &Service{repo: repo, recommender: recommender}
}

// Create validates and stores a new schedule.
func (s *Service) Create(ctx context.Context, sched *domain.Schedule) (*domain.Schedule, error) {
	if err := validateTrigger(sched); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	slog.Info("schedule created",
		"schedule_id", sched.ID,
		"name", sched.Name,
		"trigger_mode", sched.TriggerMode,
	)
	return sched, nil
}

// Get returns a schedule by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Schedule, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns schedules matching the filter with the total count.
func (s *Service) List(ctx context.Context, filter Filter) ([]domain.Schedule, int, error) {
	return s.repo.List(ctx, filter)
}

// ListActive returns all active schedules. Used by the dispatch trigger.
func (s *Service) ListActive(ctx context.Context) ([]domain.Schedule, error) {
	return s.repo.ListActive(ctx)
}

// UpdateInput carries optional schedule updates; nil fields stay unchanged.
type UpdateInput struct {
	Name           *string
	TriggerMode    *domain.TriggerMode
	CronExpr       *string
	BatchTimes     *[]string
	Timezone       *string
	SourceRef      *string
	DestinationIDs *[]string
	TemplateRef    *string
	Active         *bool
}

// Update applies a partial update, re-validating the trigger definition.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*domain.Schedule, error) {
	sched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		sched.Name = *in.Name
	}
	if in.TriggerMode != nil {
		sched.TriggerMode = *in.TriggerMode
	}
	if in.CronExpr != nil {
		sched.CronExpr = *in.CronExpr
	}
	if in.BatchTimes != nil {
		sched.BatchTimes = *in.BatchTimes
	}
	if in.Timezone != nil {
		sched.Timezone = *in.Timezone
	}
	if in.SourceRef != nil {
		sched.SourceRef = *in.SourceRef
	}
	if in.DestinationIDs != nil {
		sched.DestinationIDs = *in.DestinationIDs
	}
	if in.TemplateRef != nil {
		sched.TemplateRef = *in.TemplateRef
	}
	if in.Active != nil {
		sched.Active = *in.Active
	}

	if err := validateTrigger(sched); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}

	slog.Info("schedule updated", "schedule_id", sched.ID)
	return sched, nil
}

// Delete removes a schedule. Queue items already dispatched keep running;
// their schedule reference is detached.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	slog.Info("schedule deleted", "schedule_id", id)
	return nil
}

// ApplyRecommendation replaces the schedule's trigger times with the current
// analytics recommendation for its destinations. Recommendations never apply
// implicitly; this is the only path.
func (s *Service) ApplyRecommendation(ctx context.Context, id string) (*domain.Schedule, error) {
	if s.recommender == nil {
		return nil, ErrNoRecommendation
	}

	sched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rec, err := s.recommender.RecommendTimes(ctx, sched.DestinationIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to compute recommendation: %w", err)
	}
	if rec == nil || (len(rec.BatchTimes) == 0 && rec.CronExpr == "") {
		return nil, ErrNoRecommendation
	}

	switch sched.TriggerMode {
	case domain.TriggerModeCron:
		if rec.CronExpr == "" {
			return nil, ErrNoRecommendation
		}
		sched.CronExpr = rec.CronExpr
	case domain.TriggerModeBatchTimes:
		if len(rec.BatchTimes) == 0 {
			return nil, ErrNoRecommendation
		}
		sched.BatchTimes = rec.BatchTimes
	default:
		return nil, fmt.Errorf("%w: %s schedules carry no timing", ErrInvalidTrigger, sched.TriggerMode)
	}

	if err := validateTrigger(sched); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to store recommendation: %w", err)
	}

	slog.Info("timing recommendation applied",
		"schedule_id", sched.ID,
		"batch_times", sched.BatchTimes,
		"cron_expr", sched.CronExpr,
	)
	return sched, nil
}

// validateTrigger checks mode-specific trigger fields and the timezone.
func validateTrigger(sched *domain.Schedule) error {
	if !sched.TriggerMode.IsValid() {
		return fmt.Errorf("%w: unknown trigger mode %q", ErrInvalidTrigger, sched.TriggerMode)
	}
	if sched.Timezone != "" {
		if _, err := time.LoadLocation(sched.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidTrigger, sched.Timezone)
		}
	}

	switch sched.TriggerMode {
	case domain.TriggerModeCron:
		if _, err := dispatch.ParseCron(sched.CronExpr); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
		}
	case domain.TriggerModeBatchTimes:
		if len(sched.BatchTimes) == 0 {
			return fmt.Errorf("%w: batch_times schedule needs at least one entry", ErrInvalidTrigger)
		}
		for _, bt := range sched.BatchTimes {
			if !domain.ValidBatchTime(bt) {
				return fmt.Errorf("%w: malformed batch time %q", ErrInvalidTrigger, bt)
			}
		}
	}
	return nil
}
