package models

// Request and response bodies of the local control API.

type DocumentTypeRequest struct {
	DocumentType string `json:"document_type"`
}

type CaptureResponse struct {
	Side          string `json:"side"`
	ArtifactID    string `json:"artifact_id"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Size          int    `json:"size"`
	ReadyToUpload bool   `json:"ready_to_upload"`
}

type CameraResponse struct {
	StreamID string `json:"stream_id"`
	Role     string `json:"role"`
	Ready    bool   `json:"ready"`
}

type SessionSnapshot struct {
	ID             string            `json:"id"`
	Stage          string            `json:"stage"`
	DocumentType   string            `json:"document_type"`
	DocumentLabel  string            `json:"document_label"`
	RequiredSides  []string          `json:"required_sides"`
	CapturedSides  []string          `json:"captured_sides"`
	ReadyToUpload  bool              `json:"ready_to_upload"`
	SelfieRequired bool              `json:"selfie_required"`
	SelfieCaptured bool              `json:"selfie_captured"`
	CameraOpen     bool              `json:"camera_open"`
	Status         string            `json:"status"`
	RawStatus      string            `json:"raw_status,omitempty"`
	ProfileID      string            `json:"profile_id,omitempty"`
	ExternalUserID string            `json:"external_user_id"`
	Warnings       []Warning         `json:"warnings"`
	OutputImages   map[string]string `json:"output_images,omitempty"`
	Liveness       *LivenessSnapshot `json:"liveness,omitempty"`
	LastError      *ErrorResponse    `json:"last_error,omitempty"`
}

type LivenessSnapshot struct {
	Phase     string  `json:"phase"`
	Step      int     `json:"step"`
	Direction string  `json:"direction,omitempty"`
	Prompt    string  `json:"prompt,omitempty"`
	Icon      string  `json:"icon,omitempty"`
	Countdown int     `json:"countdown,omitempty"`
	Hold      float64 `json:"hold"`
	Overall   float64 `json:"overall"`
	Recording bool    `json:"recording"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

type HealthResponse struct {
	Status       string `json:"status"`
	Verification string `json:"verification"`
}
