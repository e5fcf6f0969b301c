package usecase

import "context"

// NoAuthnUseCase treats every request as the configured user (for development/testing)
type NoAuthnUseCase struct {
	userID string
}

// NewNoAuthnUseCase creates a new NoAuthnUseCase for userID
func NewNoAuthnUseCase(userID string) *NoAuthnUseCase {
	return &NoAuthnUseCase{userID: userID}
}

// Authenticate ignores the token and returns the configured user
func (uc *NoAuthnUseCase) Authenticate(ctx context.Context, bearer string) (string, error) {
	return uc.userID, nil
}

// IsNoAuthn returns true for NoAuthnUseCase
func (uc *NoAuthnUseCase) IsNoAuthn() bool {
	return true
}
