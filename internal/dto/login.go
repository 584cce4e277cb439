package dto

// LoginRequest carries no validation tags: malformed credentials are a failed
// login, not a bad request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Authenticated bool `json:"authenticated"`
}
