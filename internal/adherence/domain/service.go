package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Windows are the supported trailing windows in days.
var Windows = []int{7, 30}

type Service interface {
	// Adherence returns nil when the window holds no doses.
	Adherence(ctx context.Context, ownerID snowflake.ID, windowDays int, now time.Time) (*int, error)
	Summary(ctx context.Context, ownerID snowflake.ID, now time.Time) ([]WindowSummary, error)
}

type WindowSummary struct {
	WindowDays int  `json:"windowDays"`
	Adherence  *int `json:"adherence"`
}

var (
	ErrInvalidOwner  = errors.New("invalid_owner")
	ErrInvalidWindow = errors.New("invalid_window")
)
