package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/media"
)

// DocumentType is the kind of identity document being captured.
type DocumentType string

const (
	DocumentPassport   DocumentType = "passport"
	DocumentLicense    DocumentType = "license"
	DocumentNationalID DocumentType = "national-id"
)

// ParseDocumentType accepts the selection ids and the verification API values.
// An empty string selects a driving licence.
func ParseDocumentType(s string) (DocumentType, error) {
	switch s {
	case "", string(DocumentLicense), "driving_license":
		return DocumentLicense, nil
	case string(DocumentPassport):
		return DocumentPassport, nil
	case string(DocumentNationalID), "national_id":
		return DocumentNationalID, nil
	default:
		return "", fmt.Errorf("%w: unknown document type %q", apperr.ErrInvalidInput, s)
	}
}

// RequiresBackSide is false only for passports, which carry everything on the data page.
func (t DocumentType) RequiresBackSide() bool {
	return t != DocumentPassport
}

// APIValue is the document_type field sent to the verification service.
func (t DocumentType) APIValue() string {
	switch t {
	case DocumentPassport:
		return "passport"
	case DocumentNationalID:
		return "national_id"
	default:
		return "driving_license"
	}
}

func (t DocumentType) Label() string {
	switch t {
	case DocumentPassport:
		return "Passport"
	case DocumentNationalID:
		return "National ID"
	default:
		return "Driver License"
	}
}

// Side is one face of a document.
type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

// ParseSide accepts "front" and "back".
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideFront, SideBack:
		return Side(s), nil
	default:
		return "", fmt.Errorf("%w: unknown document side %q", apperr.ErrInvalidInput, s)
	}
}

// Filename is the multipart filename used for the side.
func (s Side) Filename() string {
	return "id_" + string(s) + ".jpg"
}

// DocumentFlow records the captured sides of one document.
type DocumentFlow struct {
	docType DocumentType
	enc     *Encoder

	mu        sync.Mutex
	artifacts map[Side]Artifact
}

// NewDocumentFlow starts capture of a document of type t with nothing captured.
func NewDocumentFlow(t DocumentType, enc *Encoder) *DocumentFlow {
	return &DocumentFlow{docType: t, enc: enc, artifacts: make(map[Side]Artifact)}
}

func (f *DocumentFlow) DocumentType() DocumentType { return f.docType }

func (f *DocumentFlow) RequiredSides() []Side {
	if f.docType.RequiresBackSide() {
		return []Side{SideFront, SideBack}
	}
	return []Side{SideFront}
}

func (f *DocumentFlow) requires(side Side) bool {
	return side == SideFront || (side == SideBack && f.docType.RequiresBackSide())
}

// Capture freezes the current frame of src, encodes it and replaces any earlier
// artifact for side.
func (f *DocumentFlow) Capture(src media.FrameSource, side Side) (Artifact, error) {
	if !f.requires(side) {
		return Artifact{}, fmt.Errorf("%w: %s has no %s side", apperr.ErrInvalidInput, f.docType, side)
	}
	frame, err := src.Frame()
	if err != nil {
		return Artifact{}, fmt.Errorf("capture %s side: %w", side, err)
	}
	a, err := f.enc.EncodeStill(frame, side.Filename())
	if err != nil {
		return Artifact{}, err
	}

	f.mu.Lock()
	f.artifacts[side] = a
	f.mu.Unlock()

	slog.Info("Document side captured", "side", side, "document_type", f.docType, "artifact_id", a.ID())
	return a, nil
}

// Restore puts back an artifact loaded from the session store.
func (f *DocumentFlow) Restore(side Side, a Artifact) error {
	if !f.requires(side) {
		return fmt.Errorf("%w: %s has no %s side", apperr.ErrInvalidInput, f.docType, side)
	}
	if a.IsZero() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[side] = a
	return nil
}

func (f *DocumentFlow) Artifact(side Side) (Artifact, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.artifacts[side]
	return a, ok
}

func (f *DocumentFlow) Captured(side Side) bool {
	_, ok := f.Artifact(side)
	return ok
}

// ReadyToUpload holds when the front is captured and, for two-sided documents,
// the back as well.
func (f *DocumentFlow) ReadyToUpload() bool {
	return f.Captured(SideFront) && (!f.docType.RequiresBackSide() || f.Captured(SideBack))
}

// Reset drops every captured side.
func (f *DocumentFlow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts = make(map[Side]Artifact)
}
