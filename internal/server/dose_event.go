package server

import (
	"net/http"
	"strings"

	doseeventdomain "github.com/MMatviiuk/medtrack/internal/doseevent/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListEvents(c *gin.Context) {
	var query struct {
		From string `form:"from"`
		To   string `form:"to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, err := parseOptionalTime(query.From, false)
	if err != nil || from == nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(query.To, true)
	if err != nil || to == nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	resp, err := s.doseEventSvc.ListRange(c.Request.Context(), doseeventdomain.ListRangeRequest{
		OwnerID: ownerIDFrom(c),
		From:    *from,
		To:      *to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type markEventRequest struct {
	Status string `json:"status"`
}

func (s *Server) MarkEvent(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req markEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.doseEventSvc.Mark(c.Request.Context(), doseeventdomain.MarkRequest{
		OwnerID: ownerIDFrom(c),
		EventID: id,
		Status:  strings.ToUpper(strings.TrimSpace(req.Status)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
