package schemas

// LoginRequest carries operator credentials for token issuance.
type LoginRequest struct {
	Username string `json:"username" doc:"Account name"`
	Password string `json:"password" doc:"Account password"`
}

// TokenResponse is a freshly issued session token.
type TokenResponse struct {
	AccessToken          string `json:"access_token" doc:"Signed session token"`
	TokenType            string `json:"token_type" doc:"Token type descriptor" example:"bearer"`
	ShouldChangePassword bool   `json:"should_change_password" doc:"Set while the account still uses the bootstrap password"`
}

// CheckTokenResponse echoes the verified token claims back to the caller.
type CheckTokenResponse struct {
	UUID                 string `json:"uuid" doc:"Account identifier"`
	Username             string `json:"username" doc:"Account name"`
	ShouldChangePassword bool   `json:"should_change_password" doc:"Set while the account still uses the bootstrap password"`
}

// ChangePasswordRequest rotates the caller's password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" doc:"Current password"`
	NewPassword string `json:"new_password" doc:"Replacement password"`
}
