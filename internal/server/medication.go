package server

import (
	"net/http"
	"strings"

	medicationdomain "github.com/MMatviiuk/medtrack/internal/medication/domain"
	"github.com/gin-gonic/gin"
)

type createMedicationRequest struct {
	Name     string `json:"name"`
	Strength string `json:"strength"`
	Form     string `json:"form"`
}

func (s *Server) CreateMedication(c *gin.Context) {
	var req createMedicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.medicationSvc.CreateMedication(c.Request.Context(), medicationdomain.CreateMedicationRequest{
		OwnerID: ownerIDFrom(c),
		Attributes: medicationdomain.Attributes{
			Name:     strings.TrimSpace(req.Name),
			Strength: strings.TrimSpace(req.Strength),
			Form:     strings.TrimSpace(req.Form),
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

type updateMedicationRequest struct {
	Name          *string `json:"name"`
	Strength      *string `json:"dose"`
	Form          *string `json:"form"`
	CreateVersion bool    `json:"createVersion"`
}

// UpdateMedication edits in place, or creates a new version when the
// medication already drives a schedule.
func (s *Server) UpdateMedication(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateMedicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.medicationSvc.UpdateMedication(c.Request.Context(), medicationdomain.UpdateMedicationRequest{
		OwnerID:       ownerIDFrom(c),
		MedicationID:  id,
		Name:          trimOptional(req.Name),
		Strength:      trimOptional(req.Strength),
		Form:          trimOptional(req.Form),
		CreateVersion: req.CreateVersion,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteMedication(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.medicationSvc.DeleteWithCleanup(c.Request.Context(), medicationdomain.DeleteRequest{
		OwnerID:      ownerIDFrom(c),
		MedicationID: id,
		Now:          s.now(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListMedicationVersions(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.medicationSvc.ListVersions(c.Request.Context(), ownerIDFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type createTemplateRequest struct {
	MedicationID  string   `json:"medication_id"`
	Quantity      float64  `json:"quantity"`
	Units         string   `json:"units"`
	FrequencyDays []int    `json:"frequency_days"`
	DurationDays  int      `json:"duration_days"`
	DateStart     string   `json:"date_start"`
	TimeOfDay     []string `json:"time_of_day"`
	MealTiming    string   `json:"meal_timing"`
	Timezone      string   `json:"timezone"`
}

func (s *Server) CreateTemplate(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	timezone := strings.TrimSpace(req.Timezone)
	if timezone == "" {
		timezone = s.defaultTimezone()
	}

	resp, err := s.medicationSvc.CreateTemplate(c.Request.Context(), medicationdomain.CreateTemplateRequest{
		OwnerID:       ownerIDFrom(c),
		MedicationID:  strings.TrimSpace(req.MedicationID),
		Quantity:      req.Quantity,
		Units:         strings.TrimSpace(req.Units),
		FrequencyDays: req.FrequencyDays,
		DurationDays:  req.DurationDays,
		DateStart:     strings.TrimSpace(req.DateStart),
		TimeOfDay:     req.TimeOfDay,
		MealTiming:    strings.TrimSpace(req.MealTiming),
		Timezone:      timezone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
