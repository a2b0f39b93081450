package server

import (
	"net/http"
	"strings"

	adherencedomain "github.com/MMatviiuk/medtrack/internal/adherence/domain"
	"github.com/gin-gonic/gin"
)

// GetDayStatus returns one entry per calendar date in [from, to].
func (s *Server) GetDayStatus(c *gin.Context) {
	var query struct {
		From     string `form:"from"`
		To       string `form:"to"`
		Timezone string `form:"tz"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, ok := parseDate(query.From)
	if !ok {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, ok := parseDate(query.To)
	if !ok {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}
	timezone := strings.TrimSpace(query.Timezone)
	if timezone == "" {
		timezone = s.defaultTimezone()
	}

	resp, err := s.dayStatusSvc.ReadRange(c.Request.Context(), ownerIDFrom(c), from, to, timezone)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetAdherence returns both trailing windows, or a single one when window is
// set.
func (s *Server) GetAdherence(c *gin.Context) {
	window, err := parseOptionalInt(c.Query("window"))
	if err != nil {
		AbortWithError(c, newValidationError("window", "invalid_window", "invalid window"))
		return
	}

	ctx := c.Request.Context()
	ownerID := ownerIDFrom(c)
	now := s.now()

	if window != nil {
		value, err := s.adherenceSvc.Adherence(ctx, ownerID, *window, now)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": adherencedomain.WindowSummary{WindowDays: *window, Adherence: value}})
		return
	}

	resp, err := s.adherenceSvc.Summary(ctx, ownerID, now)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
