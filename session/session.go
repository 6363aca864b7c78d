// Package session holds the state of one verification session and its
// stage scoped result cache.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/metrics"
	"go-kyc-orchestrator/models"
	"go-kyc-orchestrator/verification"

	"github.com/google/uuid"
)

// State is a point in time copy of a session.
type State struct {
	ID             string
	Stage          Stage
	DocumentType   string
	FrontImage     string
	BackImage      string
	FaceImageRef   string
	Status         verification.Status
	RawStatus      string
	ProfileID      string
	ExternalUserID string
	Warnings       []models.Warning
	OutputImages   map[string]string
}

// Session is one run through the verification pipeline. The stage only moves
// forward; results are cached per stage.
type Session struct {
	id    string
	cache *ResultCache

	mu             sync.Mutex
	stage          Stage
	documentType   string
	externalUserID string
	latest         verification.Result
}

// NewExternalUserID returns an id of the form user_<unix ms>_<9 chars>.
func NewExternalUserID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("user_%d_%s", now.UnixMilli(), suffix)
}

// New starts a session in the document stage.
func New(ctx context.Context, store Store, m *metrics.Metrics, now time.Time) *Session {
	s := &Session{
		id:             uuid.NewString(),
		stage:          StageDocument,
		externalUserID: NewExternalUserID(now),
	}
	s.cache = NewResultCache(store, s.id, m)
	s.cache.Set(ctx, KeyVerificationStage, s.stage.String())
	s.cache.Set(ctx, KeyExternalUserID, s.externalUserID)

	slog.Info("Session started", "session_id", s.id, "external_user_id", s.externalUserID)
	return s
}

// Resume rebuilds a session from the store.
func Resume(ctx context.Context, store Store, id string, m *metrics.Metrics) (*Session, error) {
	s := &Session{id: id, cache: NewResultCache(store, id, m)}
	s.cache.Load(ctx)

	values := s.cache.Snapshot()
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s", apperr.ErrNoSession, id)
	}
	stage, err := ParseStage(values[KeyVerificationStage])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	s.stage = stage
	s.documentType = values[KeyDocumentType]
	s.externalUserID = values[KeyExternalUserID]
	if s.externalUserID == "" {
		s.externalUserID = NewExternalUserID(time.Now())
		s.cache.Set(ctx, KeyExternalUserID, s.externalUserID)
	}
	s.latest = s.restoreLatest()

	slog.Info("Session resumed", "session_id", id, "stage", s.stage)
	return s, nil
}

func (s *Session) restoreLatest() verification.Result {
	var r verification.Result
	if raw, ok := s.cache.Get(KeyLivenessStatus); ok {
		r.RawStatus = raw
		r.ProfileID, _ = s.cache.Get(KeyLivenessProfileID)
		r.UserID, _ = s.cache.Get(KeyLivenessUserID)
		s.cache.GetJSON(KeyLivenessWarnings, &r.Warnings)
	} else if raw, ok := s.cache.Get(KeyDocumentStatus); ok {
		r.RawStatus = raw
		r.ProfileID, _ = s.cache.Get(KeyDocumentProfileID)
		s.cache.GetJSON(KeyDocumentWarnings, &r.Warnings)
		s.cache.GetJSON(KeyDocumentRawData, &r.RawData)
	}
	s.cache.GetJSON(KeyOutputImages, &r.OutputImages)
	r.Status = verification.ParseStatus(r.RawStatus)
	return r
}

func (s *Session) ID() string          { return s.id }
func (s *Session) Cache() *ResultCache { return s.cache }

func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

func (s *Session) ExternalUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.externalUserID
}

func (s *Session) DocumentType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentType
}

func (s *Session) SetDocumentType(ctx context.Context, t string) {
	s.mu.Lock()
	s.documentType = t
	s.mu.Unlock()
	s.cache.Set(ctx, KeyDocumentType, t)
}

// Advance moves the session to stage. Moving backwards is refused.
func (s *Session) Advance(ctx context.Context, stage Stage) error {
	s.mu.Lock()
	if stage < s.stage {
		cur := s.stage
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot move from %s back to %s", apperr.ErrWrongStage, cur, stage)
	}
	from := s.stage
	s.stage = stage
	s.mu.Unlock()

	s.cache.Set(ctx, KeyVerificationStage, stage.String())
	if from != stage {
		slog.Info("Session stage advanced", "session_id", s.id, "from", from, "to", stage)
	}
	return nil
}

// Record caches result under stage's keys and makes it the displayed outcome.
func (s *Session) Record(ctx context.Context, stage Stage, result verification.Result) error {
	if err := s.cache.Store(ctx, stage, result); err != nil {
		return err
	}
	s.mu.Lock()
	s.latest = result
	s.mu.Unlock()
	return nil
}

// ClearStage drops the cached data of stage. Other stages are untouched and
// the displayed outcome is kept.
func (s *Session) ClearStage(ctx context.Context, stage Stage) {
	s.cache.ClearStage(ctx, stage)
}

// Destroy removes everything stored for the session.
func (s *Session) Destroy(ctx context.Context) {
	s.cache.Clear(ctx)
	slog.Info("Session destroyed", "session_id", s.id)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		ID:             s.id,
		Stage:          s.stage,
		DocumentType:   s.documentType,
		Status:         s.latest.Status,
		RawStatus:      s.latest.RawStatus,
		ProfileID:      s.latest.ProfileID,
		ExternalUserID: s.externalUserID,
		Warnings:       append([]models.Warning(nil), s.latest.Warnings...),
		OutputImages:   maps.Clone(s.latest.OutputImages),
	}
	st.FrontImage, _ = s.cache.Get(KeyDocumentFront)
	st.BackImage, _ = s.cache.Get(KeyDocumentBack)
	if url, ok := s.cache.Get(KeyFaceImageURL); ok {
		st.FaceImageRef = url
	} else {
		st.FaceImageRef, _ = s.cache.Get(KeyFaceSelfie)
	}
	return st
}
