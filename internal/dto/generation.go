package dto

// GenerationRequest captures POST /assignments/:id/generate payload.
type GenerationRequest struct {
	Instruction string `json:"instruction" validate:"required"`
	Tone        string `json:"tone,omitempty"`
}

// GenerationResponse carries generated assignment description text.
type GenerationResponse struct {
	AssignmentID string `json:"assignmentId"`
	Content      string `json:"content"`
	Model        string `json:"model"`
}
