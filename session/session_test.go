package session

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/metrics"
	"go-kyc-orchestrator/models"
	"go-kyc-orchestrator/verification"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type failingStore struct{ *MemoryStore }

var errStoreDown = errors.New("store down")

func (failingStore) Set(context.Context, string, string, string) error { return errStoreDown }
func (failingStore) Delete(context.Context, string, ...string) error   { return errStoreDown }
func (failingStore) Clear(context.Context, string) error               { return errStoreDown }
func (failingStore) GetAll(context.Context, string) (map[string]string, error) {
	return nil, errStoreDown
}

func docResult(status string) verification.Result {
	return verification.Result{
		Status:       verification.ParseStatus(status),
		RawStatus:    status,
		ProfileID:    "doc-profile",
		OutputImages: map[string]string{"front": "https://img/front"},
		Warnings:     []models.Warning{{Code: "GLARE", Description: "glare detected"}},
		RawData:      map[string]any{"profile_id": "doc-profile"},
	}
}

func livenessResult(status string) verification.Result {
	return verification.Result{
		Status:       verification.ParseStatus(status),
		RawStatus:    status,
		ProfileID:    "live-profile",
		UserID:       "user_x",
		OutputImages: map[string]string{"face": "https://img/face"},
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, "s1", "a", "1"))
	require.NoError(t, store.Set(ctx, "s1", "a", "2"))
	require.NoError(t, store.Set(ctx, "s2", "a", "other"))

	v, err := store.Get(ctx, "s1", "a")
	require.NoError(t, err)
	require.Equal(t, "2", v)

	_, err = store.Get(ctx, "s1", "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "s1", "a", "missing"))
	all, err := store.GetAll(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, all)

	require.NoError(t, store.Clear(ctx, "s2"))
	_, err = store.Get(ctx, "s2", "a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewSessionPersistsIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := New(ctx, store, nil, epoch)

	require.Equal(t, StageDocument, s.Stage())
	require.Regexp(t, regexp.MustCompile(`^user_\d{13}_[0-9a-f]{9}$`), s.ExternalUserID())

	v, err := store.Get(ctx, s.ID(), KeyExternalUserID)
	require.NoError(t, err)
	require.Equal(t, s.ExternalUserID(), v)

	v, err = store.Get(ctx, s.ID(), KeyVerificationStage)
	require.NoError(t, err)
	require.Equal(t, "document", v)
}

func TestDocumentFailureKeepsLivenessKeys(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, NewMemoryStore(), nil, epoch)
	c := s.Cache()

	require.NoError(t, s.Record(ctx, StageLiveness, livenessResult("PASS")))
	c.Set(ctx, KeyFaceSelfie, "data:image/jpeg;base64,AAAA")
	before := map[string]string{}
	for _, k := range StageKeys(StageLiveness) {
		if v, ok := c.Get(k); ok {
			before[k] = v
		}
	}

	require.NoError(t, s.Record(ctx, StageDocument, docResult("FAIL")))
	s.ClearStage(ctx, StageDocument)

	for _, k := range StageKeys(StageDocument) {
		_, ok := c.Get(k)
		require.False(t, ok, k)
	}
	for k, v := range before {
		got, ok := c.Get(k)
		require.True(t, ok, k)
		require.Equal(t, v, got, k)
	}
}

func TestLivenessFailureKeepsDocumentKeys(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, NewMemoryStore(), nil, epoch)
	c := s.Cache()

	c.Set(ctx, KeyDocumentFront, "data:image/jpeg;base64,AAAA")
	require.NoError(t, s.Record(ctx, StageDocument, docResult("PASS")))
	before := c.Snapshot()

	require.NoError(t, s.Record(ctx, StageLiveness, livenessResult("FAIL")))
	s.ClearStage(ctx, StageLiveness)

	for _, k := range StageKeys(StageDocument) {
		require.Equal(t, before[k], c.Snapshot()[k], k)
	}
	for _, k := range StageKeys(StageLiveness) {
		_, ok := c.Get(k)
		require.False(t, ok, k)
	}

	// The displayed outcome is the latest one even after the clear.
	st := s.State()
	require.Equal(t, verification.StatusFail, st.Status)
	require.Equal(t, "FAIL", st.RawStatus)
}

func TestStoreRejectsCompleteStage(t *testing.T) {
	s := New(context.Background(), NewMemoryStore(), nil, epoch)
	require.Error(t, s.Record(context.Background(), StageComplete, docResult("PASS")))
}

func TestAdvanceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, NewMemoryStore(), nil, epoch)

	require.NoError(t, s.Advance(ctx, StageLiveness))
	require.ErrorIs(t, s.Advance(ctx, StageDocument), apperr.ErrWrongStage)
	require.NoError(t, s.Advance(ctx, StageComplete))
	require.Equal(t, StageComplete, StageComplete.Next())
}

func TestStorageErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	s := New(ctx, failingStore{NewMemoryStore()}, m, epoch)
	s.SetDocumentType(ctx, "passport")
	require.NoError(t, s.Record(ctx, StageDocument, docResult("PASS")))

	// In memory state is intact.
	require.Equal(t, "passport", s.DocumentType())
	v, ok := s.Cache().Get(KeyDocumentStatus)
	require.True(t, ok)
	require.Equal(t, "PASS", v)
	require.Positive(t, testutil.ToFloat64(m.StorageErrors))

	s.Destroy(ctx)
	_, ok = s.Cache().Get(KeyDocumentStatus)
	require.False(t, ok)
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := New(ctx, store, nil, epoch)
	s.SetDocumentType(ctx, "national-id")
	require.NoError(t, s.Record(ctx, StageDocument, docResult("PASS")))
	require.NoError(t, s.Advance(ctx, StageLiveness))

	resumed, err := Resume(ctx, store, s.ID(), nil)
	require.NoError(t, err)
	require.Equal(t, StageLiveness, resumed.Stage())
	require.Equal(t, "national-id", resumed.DocumentType())
	require.Equal(t, s.ExternalUserID(), resumed.ExternalUserID())

	st := resumed.State()
	require.Equal(t, verification.StatusPass, st.Status)
	require.Equal(t, "doc-profile", st.ProfileID)
	require.Equal(t, "https://img/front", st.OutputImages["front"])
	require.Len(t, st.Warnings, 1)

	_, err = Resume(ctx, store, "unknown", nil)
	require.ErrorIs(t, err, apperr.ErrNoSession)
}
