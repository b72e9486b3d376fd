package policy

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestCapturePartialHoldReleasesFullReservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 2000)

	hold, err := env.engine.CreateHold(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(500), time.Hour)
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}

	stored, _ := env.engine.GetSubject(ctx, subject.ID)
	if stored.HeldTotal(testToken).Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected held total 500, got %s", stored.HeldTotal(testToken))
	}

	if err := env.engine.CaptureHold(ctx, testOwner, subject.ID, hold.ID, big.NewInt(400)); err != nil {
		t.Fatalf("capture 400 of 500: %v", err)
	}

	merchantBalance, _ := env.ledger.Balance(ctx, testMerchant, testToken)
	if merchantBalance.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected merchant to receive 400, got %s", merchantBalance)
	}
	stored, _ = env.engine.GetSubject(ctx, subject.ID)
	if stored.HeldTotal(testToken).Sign() != 0 {
		t.Fatalf("partial capture must release the full reservation, held %s", stored.HeldTotal(testToken))
	}
	if stored.Holds[hold.ID].Status != HoldStatusCaptured {
		t.Fatalf("expected captured status, got %s", stored.Holds[hold.ID].Status)
	}
}

func TestCaptureIsFinal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 2000)

	hold, err := env.engine.CreateHold(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(500), time.Hour)
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}
	if err := env.engine.CaptureHold(ctx, testOwner, subject.ID, hold.ID, big.NewInt(500)); err != nil {
		t.Fatalf("capture: %v", err)
	}

	if err := env.engine.CaptureHold(ctx, testOwner, subject.ID, hold.ID, big.NewInt(100)); !errors.Is(err, ErrHoldClosed) {
		t.Fatalf("second capture must conflict, got %v", err)
	}
	if err := env.engine.VoidHold(ctx, testOwner, subject.ID, hold.ID); !errors.Is(err, ErrHoldClosed) {
		t.Fatalf("void after capture must conflict, got %v", err)
	}
}

func TestHoldsReserveAvailableBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 1000)

	if _, err := env.engine.CreateHold(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(700), time.Hour); err != nil {
		t.Fatalf("first hold: %v", err)
	}
	// 700 of 1000 reserved: a second 700 hold must not fit.
	if _, err := env.engine.CreateHold(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(700), time.Hour); !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("expected INSUFFICIENT_AVAILABLE, got %v", err)
	}
	if _, err := env.engine.CreateHold(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(300), time.Hour); err != nil {
		t.Fatalf("hold within the unreserved remainder: %v", err)
	}
}

func TestAuthorizeCannotSpendReservedBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 1000)

	hold, err := env.engine.CreateHold(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(800), time.Hour)
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}

	// 800 of 1000 reserved: a 500 spend would eat into the hold.
	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(500)); !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("expected INSUFFICIENT_AVAILABLE, got %v", err)
	}
	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(200)); err != nil {
		t.Fatalf("spend within the unreserved remainder: %v", err)
	}

	// The reservation stays capturable in full after the spend.
	if err := env.engine.CaptureHold(ctx, testOwner, subject.ID, hold.ID, big.NewInt(800)); err != nil {
		t.Fatalf("capture reserved amount: %v", err)
	}
	merchantBalance, _ := env.ledger.Balance(ctx, testMerchant, testToken)
	if merchantBalance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected merchant balance 1000, got %s", merchantBalance)
	}
	subjectBalance, _ := env.ledger.Balance(ctx, subject.ID, testToken)
	if subjectBalance.Sign() != 0 {
		t.Fatalf("expected subject drained to zero, got %s", subjectBalance)
	}
}

func TestExpiredHoldCannotCaptureButCanVoid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 1000)

	hold, err := env.engine.CreateHold(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(500), time.Hour)
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}

	env.clock.Advance(2 * time.Hour)

	if err := env.engine.CaptureHold(ctx, testOwner, subject.ID, hold.ID, big.NewInt(500)); !errors.Is(err, ErrHoldExpired) {
		t.Fatalf("expected HOLD_EXPIRED, got %v", err)
	}

	// Expiry alone does not release the reservation; the void must be explicit.
	stored, _ := env.engine.GetSubject(ctx, subject.ID)
	if stored.HeldTotal(testToken).Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expired hold must stay reserved until voided, held %s", stored.HeldTotal(testToken))
	}

	if err := env.engine.VoidHold(ctx, testOwner, subject.ID, hold.ID); err != nil {
		t.Fatalf("void expired hold: %v", err)
	}
	stored, _ = env.engine.GetSubject(ctx, subject.ID)
	if stored.HeldTotal(testToken).Sign() != 0 {
		t.Fatalf("void must release the reservation, held %s", stored.HeldTotal(testToken))
	}
}

func TestCaptureCannotExceedHoldAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 1000)

	hold, err := env.engine.CreateHold(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(500), time.Hour)
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}
	if err := env.engine.CaptureHold(ctx, testOwner, subject.ID, hold.ID, big.NewInt(501)); !errors.Is(err, ErrCaptureExceedsHold) {
		t.Fatalf("expected CAPTURE_EXCEEDS_HOLD, got %v", err)
	}
}

func TestHoldDurationBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 1000)

	if _, err := env.engine.CreateHold(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(100), 0); !errors.Is(err, ErrInvalidHoldDuration) {
		t.Fatalf("zero duration must be rejected, got %v", err)
	}
	if _, err := env.engine.CreateHold(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(100), 8*24*time.Hour); !errors.Is(err, ErrInvalidHoldDuration) {
		t.Fatalf("duration beyond the maximum must be rejected, got %v", err)
	}
}
