package auth

import (
	"context"
	"errors"
	"time"

	"github.com/agrolend/agrolend/internal/identity"
)

// ErrTokenRevoked is returned for tokens issued before the last logout.
var ErrTokenRevoked = errors.New("token version invalidated")

// Settings holds the signing secrets and lifetimes.
type Settings struct {
	AccessSecret    string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Service issues and verifies lender tokens.
type Service struct {
	settings Settings
	idRepo   identity.Repository
	now      func() time.Time
}

func NewService(settings Settings, idRepo identity.Repository) *Service {
	return &Service{settings: settings, idRepo: idRepo, now: time.Now}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues a token pair for an authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	now := s.now()
	access, accessExp, err := sign([]byte(s.settings.AccessSecret), user.ID, kindAccess, user.TokenVersion, s.settings.AccessTokenTTL, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := sign([]byte(s.settings.RefreshSecret), user.ID, kindRefresh, user.TokenVersion, s.settings.RefreshTokenTTL, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(accessExp.Sub(now).Seconds())}, nil
}

// Verify checks an access token against the user's current token version
// and returns the user id.
func (s *Service) Verify(ctx context.Context, accessToken string) (string, int, error) {
	claims, err := Parse(accessToken, []byte(s.settings.AccessSecret), kindAccess)
	if err != nil {
		return "", 0, err
	}
	if err := s.checkVersion(ctx, claims); err != nil {
		return "", 0, err
	}
	return claims.Subject, claims.Version, nil
}

func (s *Service) checkVersion(ctx context.Context, claims *Claims) error {
	user, err := s.idRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return ErrTokenRevoked
	}
	if user.TokenVersion != claims.Version {
		return ErrTokenRevoked
	}
	return nil
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := Parse(refreshToken, []byte(s.settings.RefreshSecret), kindRefresh)
	if err != nil {
		return "", 0, err
	}
	if err := s.checkVersion(ctx, claims); err != nil {
		return "", 0, err
	}
	signed, _, err := sign([]byte(s.settings.AccessSecret), claims.Subject, kindAccess, claims.Version, s.settings.AccessTokenTTL, s.now())
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.settings.AccessTokenTTL.Seconds()), nil
}

// Logout increments token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.idRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.idRepo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}
