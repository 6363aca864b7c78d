package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"sync"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/metrics"
	"go-kyc-orchestrator/verification"
)

// ResultCache mirrors one session's keys in memory and writes them through to
// a Store. Store failures are logged and counted but never returned: the flow
// keeps going on the in-memory copy.
type ResultCache struct {
	store     Store
	sessionID string
	metrics   *metrics.Metrics

	mu     sync.Mutex
	values map[string]string
}

// NewResultCache creates an empty cache for sessionID. Use Load to fill it
// from the store.
func NewResultCache(store Store, sessionID string, m *metrics.Metrics) *ResultCache {
	return &ResultCache{store: store, sessionID: sessionID, metrics: m, values: make(map[string]string)}
}

func (c *ResultCache) swallow(err error) {
	if err == nil {
		return
	}
	c.metrics.IncrementStorageError()
	slog.Warn("Session storage failed, continuing in memory", "session_id", c.sessionID, "error", err)
}

// Load replaces the mirror with what the store holds for the session.
func (c *ResultCache) Load(ctx context.Context) {
	values, err := c.store.GetAll(ctx, c.sessionID)
	if err != nil {
		c.swallow(&apperr.StorageError{Key: "*", Err: err})
		return
	}
	c.mu.Lock()
	c.values = values
	c.mu.Unlock()
	slog.Debug("Session cache loaded", "session_id", c.sessionID, "keys", len(values))
}

func (c *ResultCache) Set(ctx context.Context, key, value string) {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()

	if err := c.store.Set(ctx, c.sessionID, key, value); err != nil {
		c.swallow(&apperr.StorageError{Key: key, Err: err})
	}
}

func (c *ResultCache) SetJSON(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode session value", "key", key, "error", err)
		return
	}
	c.Set(ctx, key, string(b))
}

func (c *ResultCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// GetJSON decodes key into v. It reports false when the key is absent or does
// not decode.
func (c *ResultCache) GetJSON(key string, v any) bool {
	raw, ok := c.Get(key)
	if !ok || raw == "" {
		return false
	}
	return json.Unmarshal([]byte(raw), v) == nil
}

func (c *ResultCache) Snapshot() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.values)
}

func (c *ResultCache) Delete(ctx context.Context, keys ...string) {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.values, k)
	}
	c.mu.Unlock()

	if err := c.store.Delete(ctx, c.sessionID, keys...); err != nil {
		c.swallow(&apperr.StorageError{Key: keys[0], Err: err})
	}
}

// Clear drops every key of the session.
func (c *ResultCache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.values = make(map[string]string)
	c.mu.Unlock()

	if err := c.store.Clear(ctx, c.sessionID); err != nil {
		c.swallow(&apperr.StorageError{Key: "*", Err: err})
	}
}

// Store writes result under the keys of stage and nowhere else.
func (c *ResultCache) Store(ctx context.Context, stage Stage, result verification.Result) error {
	switch stage {
	case StageDocument:
		c.Set(ctx, KeyDocumentStatus, result.RawStatus)
		c.Set(ctx, KeyDocumentProfileID, result.ProfileID)
		c.SetJSON(ctx, KeyOutputImages, nonNilMap(result.OutputImages))
		c.SetJSON(ctx, KeyDocumentWarnings, nonNilSlice(result.Warnings))
		c.SetJSON(ctx, KeyDocumentRawData, nonNilAnyMap(result.RawData))
	case StageLiveness:
		c.Set(ctx, KeyLivenessStatus, result.RawStatus)
		c.Set(ctx, KeyLivenessUserID, result.UserID)
		c.Set(ctx, KeyLivenessProfileID, result.ProfileID)
		c.SetJSON(ctx, KeyLivenessWarnings, nonNilSlice(result.Warnings))
		if face := result.OutputImages["face"]; face != "" {
			c.Set(ctx, KeyFaceImageURL, face)
		}
	default:
		return errors.New("no results are cached for stage " + stage.String())
	}
	slog.Debug("Stage result cached", "session_id", c.sessionID, "stage", stage, "status", result.Status)
	return nil
}

// ClearStage deletes the keys owned by stage.
func (c *ResultCache) ClearStage(ctx context.Context, stage Stage) {
	keys := StageKeys(stage)
	if len(keys) == 0 {
		return
	}
	c.Delete(ctx, keys...)
	slog.Debug("Stage cache cleared", "session_id", c.sessionID, "stage", stage)
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
