// Package event defines the competition record.
package event

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/sportchef/internal/platform/errors"
	"github.com/louisbranch/sportchef/internal/services/records/domain/entity"
)

// Name prefixes event command types.
const Name = "event"

// DateLayout is the calendar date format of Event.Date.
const DateLayout = "2006-01-02"

// Event is a scheduled competition.
type Event struct {
	ID       uint64 `json:"eventId"`
	Title    string `json:"title"`
	Location string `json:"location"`
	Date     string `json:"date,omitempty"`
}

// Validate checks required fields and the date format.
func Validate(e Event) error {
	if strings.TrimSpace(e.Title) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "event title is required")
	}
	if strings.TrimSpace(e.Location) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "event location is required")
	}
	if e.Date != "" {
		if _, err := time.Parse(DateLayout, e.Date); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidArgument, "event date must be YYYY-MM-DD", err)
		}
	}
	return nil
}

// Schema describes events to the generic reducer. Events have no secondary key.
func Schema() entity.Schema[Event] {
	return entity.Schema[Event]{
		Name:     Name,
		ID:       func(e Event) uint64 { return e.ID },
		SetID:    func(e *Event, id uint64) { e.ID = id },
		Validate: Validate,
	}
}

// NewManager returns the event reducer.
func NewManager() *entity.Manager[Event] {
	manager, err := entity.NewManager(Schema())
	if err != nil {
		panic(err)
	}
	return manager
}

// Service is the event record API.
type Service struct {
	*entity.Service[Event]
}

// NewService wraps a running event controller.
func NewService(controller *entity.Controller[Event], manager *entity.Manager[Event]) *Service {
	return &Service{Service: entity.NewService(controller, manager)}
}
