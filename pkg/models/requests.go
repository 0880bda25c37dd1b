package models

// LoginRequest is the credential payload for POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the signed session token issued on login.
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// RegisterRequest is the payload for POST /register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse carries the server's registration acknowledgement.
type RegisterResponse struct {
	Message string `json:"message"`
}

// UpdateUserRequest is the payload for PUT /user/{id}. Email is immutable
// and deliberately absent.
type UpdateUserRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// CreatePipelineRequest is the payload for POST /createpipelines.
type CreatePipelineRequest struct {
	Stages     int    `json:"stages"`
	IsParallel bool   `json:"is_parallel"`
	UserID     string `json:"user_id"`
}

// CreatePipelineResponse acknowledges pipeline creation. The new pipeline
// only appears in the list on the next pull refresh.
type CreatePipelineResponse struct {
	Message    string `json:"message"`
	PipelineID string `json:"pipeline_id"`
}

// StartPipelineRequest is the payload for POST /pipelines/{id}/start.
type StartPipelineRequest struct {
	UserID     string `json:"user_id"`
	Input      any    `json:"input"`
	IsParallel bool   `json:"is_parallel"`
}

// CancelPipelineRequest is the payload for POST /pipelines/{id}/cancel.
type CancelPipelineRequest struct {
	UserID     string `json:"user_id"`
	IsParallel bool   `json:"is_parallel"`
}
