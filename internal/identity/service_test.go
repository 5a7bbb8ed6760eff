package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/agrolend/agrolend/internal/logging"
)

func newService() *Service {
	return NewService(NewMemoryRepository(), logging.Discard())
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	user, err := svc.Register(ctx, Credentials{Email: " Ada@Example.com ", Password: "harvest-2024", Name: "Ada"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %s", user.Email)
	}
	if user.LastLoginAt != nil {
		t.Fatalf("expected no login yet")
	}

	authed, err := svc.Authenticate(ctx, Credentials{Email: "ADA@example.com", Password: "harvest-2024"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.ID != user.ID || authed.LastLoginAt == nil {
		t.Fatalf("unexpected user after login: %+v", authed)
	}

	email, err := svc.LenderEmail(ctx, user.ID)
	if err != nil || email != "ada@example.com" {
		t.Fatalf("lender email = %q, %v", email, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, Credentials{Email: "not-an-email", Password: "harvest-2024"}); err == nil {
		t.Fatalf("expected invalid email error")
	}
	if _, err := svc.Register(ctx, Credentials{Email: "a@example.com", Password: "short"}); err == nil {
		t.Fatalf("expected short password error")
	}
	if _, err := svc.Register(ctx, Credentials{Email: "a@example.com", Password: "harvest-2024"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, Credentials{Email: "A@example.com", Password: "harvest-2024"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, Credentials{Email: "a@example.com", Password: "harvest-2024"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Authenticate(ctx, Credentials{Email: "a@example.com", Password: "wrong-password"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, Credentials{Email: "b@example.com", Password: "harvest-2024"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email should look like a bad password, got %v", err)
	}
	if _, err := svc.LenderEmail(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

type stubProvisioner struct{ calls int }

func (p *stubProvisioner) Provision(_ context.Context, lenderID string) (string, error) {
	p.calls++
	return "wallet-" + lenderID[:4], nil
}

func TestHandlerRegister(t *testing.T) {
	wallets := &stubProvisioner{}
	h := NewHandler(newService(), wallets)
	app := fiber.New()
	app.Post("/register", h.Register)

	body := `{"email":"farmer.fund@example.com","password":"harvest-2024","name":"Farm Fund"}`
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if wallets.calls != 1 {
		t.Fatalf("expected wallet provisioned once, got %d", wallets.calls)
	}

	req = httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", resp.StatusCode)
	}
}
