package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/flockml/flock/pkg/fapi/schemas"
	"github.com/flockml/flock/pkg/fapi/services/auth"
	"github.com/flockml/flock/pkg/fauth"
)

// LoginInput defines the input for token issuance
type LoginInput struct {
	Body schemas.LoginRequest
}

// LoginOutput is the response for token issuance
type LoginOutput struct {
	Body schemas.TokenResponse
}

// CheckTokenOutput echoes the caller's verified claims
type CheckTokenOutput struct {
	Body schemas.CheckTokenResponse
}

// ChangePasswordInput defines the input for password rotation
type ChangePasswordInput struct {
	Body schemas.ChangePasswordRequest
}

// ChangePasswordOutput acknowledges a successful rotation
type ChangePasswordOutput struct {
	Body schemas.StatusResponse
}

// RegisterAuth registers authentication routes
func RegisterAuth(api huma.API, svc *auth.AuthService) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/api/auth/token",
		Summary:     "Issue a session token",
		Description: "Verifies credentials and issues a signed session token",
		Tags:        []string{TagAuth.String()},
	}, func(ctx context.Context, input *LoginInput) (*LoginOutput, error) {
		if input.Body.Username == "" || input.Body.Password == "" {
			return nil, huma.Error400BadRequest("username and password are required")
		}

		token, claims, err := svc.Login(ctx, input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, httpError(err)
		}

		resp := &LoginOutput{}
		resp.Body.AccessToken = token
		resp.Body.TokenType = fauth.TokenTypeBearer
		resp.Body.ShouldChangePassword = claims.ShouldChangePassword
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-token",
		Method:      http.MethodGet,
		Path:        "/api/auth/check_token",
		Summary:     "Validate the current token",
		Description: "Returns the verified claims of the presented token",
		Tags:        []string{TagAuth.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *struct{}) (*CheckTokenOutput, error) {
		claims := auth.Principal(ctx)
		if claims == nil {
			return nil, huma.Error401Unauthorized("could not validate credentials")
		}

		resp := &CheckTokenOutput{}
		resp.Body.UUID = claims.UUID
		resp.Body.Username = claims.Username
		resp.Body.ShouldChangePassword = claims.ShouldChangePassword
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-password",
		Method:      http.MethodPost,
		Path:        "/api/auth/password",
		Summary:     "Rotate the account password",
		Description: "Re-verifies the old password and replaces it",
		Tags:        []string{TagAuth.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *ChangePasswordInput) (*ChangePasswordOutput, error) {
		claims := auth.Principal(ctx)
		if claims == nil {
			return nil, huma.Error401Unauthorized("could not validate credentials")
		}

		err := svc.ChangePassword(ctx, claims.Username, input.Body.OldPassword, input.Body.NewPassword)
		if err != nil {
			return nil, httpError(err)
		}

		resp := &ChangePasswordOutput{}
		resp.Body.Status = "success"
		return resp, nil
	})
}
