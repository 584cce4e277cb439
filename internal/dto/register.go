package dto

// Length limits are enforced by the service so the HTTP and CLI paths agree;
// the tags only reject obviously malformed bodies.
type RegisterRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RegisterResponse struct {
	Username string `json:"username"`
}

type ChangePasswordRequest struct {
	Username        string `json:"username" validate:"required"`
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
