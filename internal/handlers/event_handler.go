package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/koios/inkboard/pkg/models"
)

// StateChangeHandler redraws the tiles bound to a changed entity
type StateChangeHandler interface {
	HandleStateChange(ctx context.Context, event *models.StateChangedEvent) ([]*models.UploadResult, error)
}

// EventHandler validates incoming state change events and hands them to the dashboard
type EventHandler struct {
	dashboard StateChangeHandler
	logger    *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(dashboard StateChangeHandler, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		dashboard: dashboard,
		logger:    logger,
	}
}

// Handle processes a state change event
func (h *EventHandler) Handle(ctx context.Context, event *models.StateChangedEvent) ([]*models.UploadResult, error) {
	if event == nil {
		return nil, fmt.Errorf("event is required")
	}

	// Validate event
	if event.Type != models.EventTypeStateChanged {
		h.logger.Error("Invalid event type", zap.String("type", event.Type))
		return nil, fmt.Errorf("invalid event type: %s", event.Type)
	}

	if event.NewState == nil {
		h.logger.Error("Missing new_state", zap.String("entity_id", event.EntityID))
		return nil, fmt.Errorf("new_state is required")
	}

	if event.EntityID == "" {
		event.EntityID = event.NewState.EntityID
	}
	if event.EntityID == "" {
		h.logger.Error("Missing entity_id")
		return nil, fmt.Errorf("entity_id is required")
	}

	h.logger.Info("Processing state change",
		zap.String("entity_id", event.EntityID),
		zap.String("state", event.NewState.State))

	results, err := h.dashboard.HandleStateChange(ctx, event)
	if err != nil {
		h.logger.Error("State change redraw failed",
			zap.Error(err),
			zap.String("entity_id", event.EntityID))
		return results, err
	}

	if len(results) > 0 {
		h.logger.Info("State change redraw completed",
			zap.String("entity_id", event.EntityID),
			zap.Int("tiles", len(results)))
	}
	return results, nil
}
