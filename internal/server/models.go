package server

// HTTPError is the unified JSON error body.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest is the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest is the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries the issued JWT.
type TokenResponse struct {
	Token string `json:"token"`
}

// GenerateRequest starts a deck generation job.
type GenerateRequest struct {
	Topic  string `json:"topic"`
	Length string `json:"length"`
}

// GenerateResponse acknowledges an accepted job.
type GenerateResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}
