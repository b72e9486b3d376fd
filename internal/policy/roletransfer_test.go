package policy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestControllerTransferTimelock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 0)
	newController := "0xnewcontroller"

	if err := env.engine.ProposeControllerTransfer(ctx, testOwner, subject.ID, newController); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("owner must not propose, got %v", err)
	}
	if err := env.engine.ProposeControllerTransfer(ctx, testController, subject.ID, newController); err != nil {
		t.Fatalf("propose: %v", err)
	}

	if err := env.engine.ExecuteControllerTransfer(ctx, testController, subject.ID); !errors.Is(err, ErrTimelockActive) {
		t.Fatalf("execute before the timelock must fail, got %v", err)
	}

	env.clock.Advance(47 * time.Hour)
	if err := env.engine.ExecuteControllerTransfer(ctx, testController, subject.ID); !errors.Is(err, ErrTimelockActive) {
		t.Fatalf("execute one hour early must fail, got %v", err)
	}

	env.clock.Advance(time.Hour)
	if err := env.engine.ExecuteControllerTransfer(ctx, testController, subject.ID); err != nil {
		t.Fatalf("execute after the timelock: %v", err)
	}

	stored, _ := env.engine.GetSubject(ctx, subject.ID)
	if stored.Controller != newController {
		t.Fatalf("expected controller %s, got %s", newController, stored.Controller)
	}
	if stored.Pending != nil {
		t.Fatal("pending proposal must be cleared")
	}

	// The prior controller loses privileged operations immediately.
	if err := env.engine.Pause(ctx, testController, subject.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old controller must lose privileges, got %v", err)
	}
	if err := env.engine.Pause(ctx, newController, subject.ID); err != nil {
		t.Fatalf("new controller pause: %v", err)
	}
}

func TestProposalCannotBeImplicitlySuperseded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 0)

	if err := env.engine.ProposeControllerTransfer(ctx, testController, subject.ID, "0xfirst"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := env.engine.ProposeControllerTransfer(ctx, testController, subject.ID, "0xsecond"); !errors.Is(err, ErrTransferPending) {
		t.Fatalf("second proposal must conflict, got %v", err)
	}

	if err := env.engine.CancelControllerTransfer(ctx, testController, subject.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := env.engine.ProposeControllerTransfer(ctx, testController, subject.ID, "0xsecond"); err != nil {
		t.Fatalf("propose after cancel: %v", err)
	}
}

func TestExecuteWithoutProposal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 0)

	if err := env.engine.ExecuteControllerTransfer(ctx, testController, subject.ID); !errors.Is(err, ErrNoPendingTransfer) {
		t.Fatalf("expected NO_PENDING_TRANSFER, got %v", err)
	}
	if err := env.engine.CancelControllerTransfer(ctx, testController, subject.ID); !errors.Is(err, ErrNoPendingTransfer) {
		t.Fatalf("expected NO_PENDING_TRANSFER on cancel, got %v", err)
	}
}
