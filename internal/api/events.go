package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/pipeline-doctor/internal/controller"
	"github.com/NikhilSetiya/pipeline-doctor/internal/events"
	"github.com/NikhilSetiya/pipeline-doctor/internal/incident"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/metrics"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

const maxEventBytes = 1 << 20

// EventProcessor handles one normalized failure event. *controller.Controller implements it.
type EventProcessor interface {
	HandleEvent(ctx context.Context, event types.FailureEvent) (*controller.Outcome, error)
}

// IgnoredResponse is returned for envelopes that are not actionable failures
type IgnoredResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

// EventHandler serves the event ingestion and incident endpoints
type EventHandler struct {
	processor EventProcessor
	store     incident.Store
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewEventHandler creates a new event handler
func NewEventHandler(processor EventProcessor, store incident.Store, logger *logging.Logger, m *metrics.Metrics) *EventHandler {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &EventHandler{
		processor: processor,
		store:     store,
		logger:    logger,
		metrics:   m,
	}
}

// IngestEvent handles POST /api/v1/events
func (h *EventHandler) IngestEvent(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBytes))
	if err != nil {
		BadRequestResponse(c, "Failed to read payload")
		return
	}

	result, err := events.Parse(payload)
	if err != nil {
		h.metrics.RecordEvent(events.UnknownSourceKind, metrics.OutcomeMalformed)
		ErrorResponseFromError(c, err)
		return
	}

	if result.Ignored() {
		h.metrics.RecordEvent(events.UnknownSourceKind, metrics.OutcomeIgnored)
		h.logger.WithContext(c.Request.Context()).WithFields(logrus.Fields{
			"event_id":    result.Envelope.ID,
			"detail_type": result.Envelope.DetailType,
			"reason":      result.Reason,
		}).Debug("Ignoring event")

		StatusResponse(c, http.StatusAccepted, IgnoredResponse{
			Status:  "ignored",
			EventID: result.Envelope.ID,
			Reason:  result.Reason,
		})
		return
	}

	outcome, err := h.processor.HandleEvent(c.Request.Context(), *result.Event)
	if err != nil {
		c.Error(err)
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, outcome)
}

// GetIncident handles GET /api/v1/incidents/*identity. Build identities
// contain slashes, so the identity is a catch-all parameter.
func (h *EventHandler) GetIncident(c *gin.Context) {
	identity := strings.TrimPrefix(c.Param("identity"), "/")
	if identity == "" {
		BadRequestResponse(c, "identity is required")
		return
	}

	inc, err := h.store.Get(c.Request.Context(), identity)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, inc)
}
