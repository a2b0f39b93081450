package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Mark(ctx context.Context, req MarkRequest) (*Response, error)
	ListRange(ctx context.Context, req ListRangeRequest) ([]ScheduledResponse, error)
}

type MarkRequest struct {
	OwnerID snowflake.ID `json:"-"`
	EventID snowflake.ID `json:"-"`
	Status  string       `json:"status"`
}

// ListRangeRequest bounds are inclusive instants.
type ListRangeRequest struct {
	OwnerID snowflake.ID
	From    time.Time
	To      time.Time
}

type Response struct {
	ID           string     `json:"id"`
	TemplateID   string     `json:"template_id"`
	MedicationID string     `json:"medication_id"`
	DateTime     time.Time  `json:"date_time"`
	Status       string     `json:"status"`
	TakenAt      *time.Time `json:"taken_at,omitempty"`
}

type ScheduledResponse struct {
	Response
	MedicationName string  `json:"medication_name"`
	Strength       string  `json:"strength,omitempty"`
	Form           string  `json:"form,omitempty"`
	Quantity       float64 `json:"quantity"`
	Units          string  `json:"units"`
	MealTiming     string  `json:"meal_timing"`
}

var (
	ErrInvalidOwner      = errors.New("invalid_owner")
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidRange      = errors.New("invalid_range")
	ErrInvalidFilter     = errors.New("invalid_filter")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrNotFound          = errors.New("not_found")
)
