package auth

import (
	"context"
	"errors"
	"testing"
)

func newTestService() *Service {
	store := NewMemoryStore()
	store.Seed([]Credential{
		{Key: "key-alpha", Actor: "0xalpha", Label: "alpha"},
		{Key: "key-revoked", Actor: "0xrevoked", Disabled: true},
	})
	return NewService(ServiceConfig{Mode: ModeAPIKey, Store: store})
}

func TestResolveFromHeaders(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	actor, err := service.Resolve(ctx, "Bearer key-alpha", "")
	if err != nil {
		t.Fatalf("resolve bearer: %v", err)
	}
	if actor != "0xalpha" {
		t.Fatalf("expected 0xalpha, got %s", actor)
	}

	actor, err = service.Resolve(ctx, "", "key-alpha")
	if err != nil {
		t.Fatalf("resolve api key header: %v", err)
	}
	if actor != "0xalpha" {
		t.Fatalf("expected 0xalpha, got %s", actor)
	}
}

func TestResolveRejectsBadKeys(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	if _, err := service.Resolve(ctx, "", ""); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected missing key, got %v", err)
	}
	if _, err := service.Resolve(ctx, "Bearer nope", ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
	if _, err := service.Resolve(ctx, "Bearer key-revoked", ""); !errors.Is(err, ErrKeyRevoked) {
		t.Fatalf("expected revoked key, got %v", err)
	}
}

func TestActorContextRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), "0xalpha")
	if got := ActorFromContext(ctx); got != "0xalpha" {
		t.Fatalf("expected 0xalpha, got %s", got)
	}
	if got := ActorFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty actor, got %s", got)
	}
}
