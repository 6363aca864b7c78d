package session

import "fmt"

// Persisted keys. Each stage writes only its own keys.
const (
	KeyVerificationStage = "verificationStage"
	KeyDocumentType      = "documentType"
	KeyExternalUserID    = "externalUserId"

	KeyDocumentStatus    = "documentStatus"
	KeyDocumentProfileID = "documentProfileId"
	KeyDocumentFront     = "documentFront"
	KeyDocumentBack      = "documentBack"
	KeyOutputImages      = "kycOutputImages"
	KeyDocumentWarnings  = "kycWarnings"
	KeyDocumentRawData   = "kycRawData"
	KeyDocumentSelfie    = "documentSelfie"

	KeyLivenessStatus    = "livenessStatus"
	KeyLivenessUserID    = "livenessUserId"
	KeyLivenessProfileID = "livenessProfileId"
	KeyLivenessWarnings  = "livenessWarnings"
	KeyFaceImageURL      = "faceImageUrl"
	KeyFaceSelfie        = "faceSelfie"
)

var (
	sessionKeys  = []string{KeyVerificationStage, KeyDocumentType, KeyExternalUserID}
	documentKeys = []string{KeyDocumentStatus, KeyDocumentProfileID, KeyDocumentFront, KeyDocumentBack, KeyOutputImages, KeyDocumentWarnings, KeyDocumentRawData, KeyDocumentSelfie}
	livenessKeys = []string{KeyLivenessStatus, KeyLivenessUserID, KeyLivenessProfileID, KeyLivenessWarnings, KeyFaceImageURL, KeyFaceSelfie}
)

// StageKeys lists the keys owned by stage.
func StageKeys(stage Stage) []string {
	switch stage {
	case StageDocument:
		return append([]string(nil), documentKeys...)
	case StageLiveness:
		return append([]string(nil), livenessKeys...)
	default:
		return nil
	}
}

// Stage is the verification step the session is in.
type Stage int

const (
	StageDocument Stage = iota
	StageLiveness
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageDocument:
		return "document"
	case StageLiveness:
		return "liveness"
	case StageComplete:
		return "complete"
	default:
		return "unknown"
	}
}

func ParseStage(s string) (Stage, error) {
	switch s {
	case "", "document":
		return StageDocument, nil
	case "liveness":
		return StageLiveness, nil
	case "complete":
		return StageComplete, nil
	default:
		return 0, fmt.Errorf("unknown stage %q", s)
	}
}

// Next is the stage reached by passing s. Complete is terminal.
func (s Stage) Next() Stage {
	if s >= StageComplete {
		return StageComplete
	}
	return s + 1
}
