package homeassistant

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/koios/inkboard/pkg/models"
)

// StateCache holds the last known state of each watched entity.
type StateCache struct {
	mu     sync.RWMutex
	states map[string]*models.EntityState
	logger *zap.Logger
}

// NewStateCache creates an empty cache.
func NewStateCache(logger *zap.Logger) *StateCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateCache{states: make(map[string]*models.EntityState), logger: logger}
}

// Set stores state for its entity.
func (c *StateCache) Set(state *models.EntityState) {
	if state == nil || state.EntityID == "" {
		return
	}
	c.mu.Lock()
	c.states[state.EntityID] = state
	c.mu.Unlock()
}

// Get returns the cached state of entityID.
func (c *StateCache) Get(entityID string) (*models.EntityState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.states[entityID]
	return s, ok
}

// Apply stores the event's new state and reports whether the state string changed.
// Attribute-only updates are stored but return false.
func (c *StateCache) Apply(event *models.StateChangedEvent) bool {
	if event == nil || event.NewState == nil {
		return false
	}
	entityID := event.EntityID
	if entityID == "" {
		entityID = event.NewState.EntityID
	}
	next := *event.NewState
	next.EntityID = entityID

	c.mu.Lock()
	prev, had := c.states[entityID]
	c.states[entityID] = &next
	c.mu.Unlock()

	changed := !had || prev.State != next.State
	if changed {
		prevState := ""
		if had {
			prevState = prev.State
		}
		c.logger.Info("Entity state changed",
			zap.String("entity_id", entityID),
			zap.String("from", prevState),
			zap.String("to", next.State))
	} else if diff := attrDiff(prev.Attributes, next.Attributes); len(diff) > 0 {
		c.logger.Debug("Entity attributes changed",
			zap.String("entity_id", entityID),
			zap.Strings("attributes", diff))
	}
	return changed
}

// StateFetcher looks up the current state of one entity.
type StateFetcher interface {
	GetState(ctx context.Context, entityID string) (*models.EntityState, error)
}

// Seed fetches the current state of every entity id; failures are logged and skipped.
func (c *StateCache) Seed(ctx context.Context, client StateFetcher, entityIDs []string) int {
	seeded := 0
	for _, id := range entityIDs {
		state, err := client.GetState(ctx, id)
		if err != nil {
			c.logger.Warn("Failed to fetch entity state",
				zap.String("entity_id", id),
				zap.Error(err))
			continue
		}
		c.Set(state)
		seeded++
	}
	return seeded
}

func attrDiff(old, next map[string]interface{}) []string {
	var keys []string
	for k, v := range next {
		if ov, ok := old[k]; !ok || !reflect.DeepEqual(ov, v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
