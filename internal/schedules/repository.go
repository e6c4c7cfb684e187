// Package schedules provides CRUD and recommendation application for
// dispatch schedules.
package schedules

import (
	"context"

	"github.com/relaybird/relaybird/internal/domain"
)

// Filter narrows schedule listings.
type Filter struct {
	Active      *bool
	TriggerMode domain.TriggerMode
	Limit       int
	Offset      int
}

// Repository defines schedule data access.
type Repository interface {
	Create(ctx context.Context, sched *domain.Schedule) error
	GetByID(ctx context.Context, id string) (*domain.Schedule, error)
	List(ctx context.Context, filter Filter) ([]domain.Schedule, int, error)
	ListActive(ctx context.Context) ([]domain.Schedule, error)
	Update(ctx context.Context, sched *domain.Schedule) error
	Delete(ctx context.Context, id string) error
}
