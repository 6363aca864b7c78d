package models

import "encoding/json"

// VerificationResponse is the body returned by both verification endpoints.
// Status is kept raw because the service does not always send a string.
type VerificationResponse struct {
	Status       json.RawMessage   `json:"status"`
	UserID       string            `json:"user_id,omitempty"`
	RawData      map[string]any    `json:"raw_data,omitempty"`
	OutputImages map[string]string `json:"output_images,omitempty"`
	Warnings     []Warning         `json:"warnings,omitempty"`
}

type Warning struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}
