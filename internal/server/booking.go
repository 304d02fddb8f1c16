package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	bookingdomain "github.com/smallbiznis/studiobook/internal/booking/domain"
)

type bookRequest struct {
	OccurrenceID string            `json:"occurrenceId"`
	CustomerID   string            `json:"customerId"`
	Rail         string            `json:"rail"`
	RailData     map[string]string `json:"railData"`
}

type cancelRequest struct {
	RegistrationID string `json:"registrationId"`
	Reason         string `json:"reason"`
	ActorID        string `json:"actorId"`
}

func parseID(raw string) (snowflake.ID, bool) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return snowflake.ID(value), true
}

func (s *Server) Book(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	occurrenceID, ok := parseID(req.OccurrenceID)
	if !ok {
		AbortWithError(c, newValidationError("occurrenceId", "must be a positive integer id"))
		return
	}
	customerID, ok := parseID(req.CustomerID)
	if !ok {
		AbortWithError(c, newValidationError("customerId", "must be a positive integer id"))
		return
	}

	// A client that cannot hold onto a key still gets exactly-once within
	// this request; retries without a key are new bookings on purpose.
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		key = uuid.NewString()
	}

	result, err := s.bookingSvc.Book(c.Request.Context(), bookingdomain.BookRequest{
		IdempotencyKey: key,
		OccurrenceID:   occurrenceID,
		CustomerID:     customerID,
		Rail:           strings.TrimSpace(req.Rail),
		RailData:       req.RailData,
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"success": true, "data": result})
}

func (s *Server) Cancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	registrationID, ok := parseID(req.RegistrationID)
	if !ok {
		AbortWithError(c, newValidationError("registrationId", "must be a positive integer id"))
		return
	}

	var actorID *snowflake.ID
	if strings.TrimSpace(req.ActorID) != "" {
		parsed, ok := parseID(req.ActorID)
		if !ok {
			AbortWithError(c, newValidationError("actorId", "must be a positive integer id"))
			return
		}
		actorID = &parsed
	}

	result, err := s.bookingSvc.Cancel(c.Request.Context(), bookingdomain.CancelRequest{
		RegistrationID: registrationID,
		Reason:         strings.TrimSpace(req.Reason),
		ActorID:        actorID,
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}
