package policy

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"AgentVault-Core/internal/audit"
	"AgentVault-Core/internal/clock"
	xerrors "AgentVault-Core/internal/errors"
	"AgentVault-Core/internal/ledger"
)

const (
	testOwner      = "0xowner"
	testController = "0xcontroller"
	testRecovery   = "0xrecovery"
	testMerchant   = "0xmerchant"
	testToken      = "USDC"
)

type testEnv struct {
	engine *Engine
	store  *MemoryStore
	ledger *ledger.MemoryLedger
	clock  *clock.Manual
	sink   *audit.MemorySink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  NewMemoryStore(),
		ledger: ledger.NewMemoryLedger(),
		clock:  clock.NewManual(time.Unix(1_700_000_000, 0)),
		sink:   audit.NewMemorySink(),
	}
	env.engine = NewEngine(env.store, env.ledger, Config{},
		WithClock(env.clock),
		WithAuditSink(env.sink))
	return env
}

func (env *testEnv) createSubject(t *testing.T, limitPerTx, dailyLimit, balance int64) *Subject {
	t.Helper()
	ctx := context.Background()
	subject, err := env.engine.CreateSubject(ctx, CreateSubjectInput{
		Owner:      testOwner,
		Controller: testController,
		Recovery:   testRecovery,
		LimitPerTx: big.NewInt(limitPerTx),
		DailyLimit: big.NewInt(dailyLimit),
	})
	if err != nil {
		t.Fatalf("create subject: %v", err)
	}
	if balance > 0 {
		if err := env.ledger.Deposit(ctx, subject.ID, testToken, big.NewInt(balance)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	return subject
}

func TestAuthorizeDailyLimitSequence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 1000, 10_000)

	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(600)); err != nil {
		t.Fatalf("first spend of 600: %v", err)
	}
	decision, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(400))
	if err != nil {
		t.Fatalf("second spend of 400: %v", err)
	}
	if decision.DailyRemaining.Sign() != 0 {
		t.Fatalf("expected zero daily remaining, got %s", decision.DailyRemaining)
	}

	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(1)); !errors.Is(err, ErrDailyExceeded) {
		t.Fatalf("expected DAILY_EXCEEDED for third spend, got %v", err)
	}

	// A new day resets the accumulator.
	env.clock.Advance(24 * time.Hour)
	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(1)); err != nil {
		t.Fatalf("spend after day rollover: %v", err)
	}

	balance, err := env.ledger.Balance(ctx, testMerchant, testToken)
	if err != nil {
		t.Fatalf("merchant balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1001)) != 0 {
		t.Fatalf("expected merchant balance 1001, got %s", balance)
	}
}

func TestAuthorizePerTxLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 500, 10_000, 10_000)

	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(501)); !errors.Is(err, ErrPerTxExceeded) {
		t.Fatalf("expected PER_TX_EXCEEDED, got %v", err)
	}
	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(500)); err != nil {
		t.Fatalf("spend at the exact per-tx limit: %v", err)
	}
}

func TestAuthorizeDeniedLeavesNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 500, 1000, 10_000)

	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(900)); !errors.Is(err, ErrPerTxExceeded) {
		t.Fatalf("expected PER_TX_EXCEEDED, got %v", err)
	}

	stored, err := env.engine.GetSubject(ctx, subject.ID)
	if err != nil {
		t.Fatalf("get subject: %v", err)
	}
	if stored.Spend.Spent.Sign() != 0 {
		t.Fatalf("denied spend must not accrue, got %s", stored.Spend.Spent)
	}
	balance, _ := env.ledger.Balance(ctx, subject.ID, testToken)
	if balance.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("denied spend must not move funds, balance %s", balance)
	}

	event, ok := env.sink.LastOfType(audit.EventAuthorizeDenied)
	if !ok {
		t.Fatal("expected a denial audit event")
	}
	if event.Reason != string(CodePerTxExceeded) {
		t.Fatalf("expected reason %s, got %s", CodePerTxExceeded, event.Reason)
	}
}

func TestAdminEventCarriesOperationName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 0)

	if err := env.engine.SetLimits(ctx, testController, subject.ID, SetLimitsInput{
		LimitPerTx: big.NewInt(2000),
		DailyLimit: big.NewInt(20_000),
	}); err != nil {
		t.Fatalf("set limits: %v", err)
	}

	event, ok := env.sink.LastOfType(audit.EventAdminChanged)
	if !ok {
		t.Fatal("expected an admin audit event")
	}
	if event.Operation != "set_limits" {
		t.Fatalf("expected operation set_limits, got %q", event.Operation)
	}
	if event.Reason != "" {
		t.Fatalf("reason must stay reserved for reason codes, got %q", event.Reason)
	}
}

func TestMerchantDenyPrecedence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 10_000)

	if err := env.engine.DenyMerchant(ctx, testController, subject.ID, testMerchant); err != nil {
		t.Fatalf("deny merchant: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(100)); !errors.Is(err, ErrMerchantDenied) {
		t.Fatalf("expected MERCHANT_DENIED, got %v", err)
	}

	// The deny set survives a switch to allowlist mode and still wins.
	if err := env.engine.SetAllowlistMode(ctx, testController, subject.ID, true); err != nil {
		t.Fatalf("enable allowlist mode: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(100)); !errors.Is(err, ErrMerchantDenied) {
		t.Fatalf("expected MERCHANT_DENIED in allowlist mode, got %v", err)
	}

	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, "0xother", testToken, big.NewInt(100)); !errors.Is(err, ErrMerchantNotAllowed) {
		t.Fatalf("expected MERCHANT_NOT_ALLOWED for unlisted merchant, got %v", err)
	}
	if err := env.engine.AllowMerchant(ctx, testController, subject.ID, "0xother"); err != nil {
		t.Fatalf("allow merchant: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, "0xother", testToken, big.NewInt(100)); err != nil {
		t.Fatalf("allow-listed merchant should pass: %v", err)
	}
}

func TestTokenGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 10_000)

	// Gate disabled: any token passes.
	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(10)); err != nil {
		t.Fatalf("spend with gate disabled: %v", err)
	}

	if err := env.engine.SetTokenEnforcement(ctx, testController, subject.ID, true); err != nil {
		t.Fatalf("enable token gate: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(10)); !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("expected TOKEN_NOT_ALLOWED, got %v", err)
	}
	if err := env.engine.AllowToken(ctx, testController, subject.ID, testToken); err != nil {
		t.Fatalf("allow token: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(10)); err != nil {
		t.Fatalf("allow-listed token should pass: %v", err)
	}
}

func TestPauseBlocksSpendingAndUnpauseIsControllerOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 10_000)

	if err := env.engine.Pause(ctx, testOwner, subject.ID); err != nil {
		t.Fatalf("owner pause: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(10)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected PAUSED, got %v", err)
	}

	if err := env.engine.Unpause(ctx, testOwner, subject.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("owner unpause must be denied, got %v", err)
	}
	if err := env.engine.Unpause(ctx, testController, subject.ID); err != nil {
		t.Fatalf("controller unpause: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(10)); err != nil {
		t.Fatalf("spend after unpause: %v", err)
	}
}

func TestAuthorizeElevatedUsesCoSignTier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject, err := env.engine.CreateSubject(ctx, CreateSubjectInput{
		Owner:      testOwner,
		Controller: testController,
		Recovery:   testRecovery,
		LimitPerTx: big.NewInt(500),
		DailyLimit: big.NewInt(1000),
		CoSign: &CoSignTier{
			LimitPerTx: big.NewInt(2000),
			DailyLimit: big.NewInt(5000),
		},
	})
	if err != nil {
		t.Fatalf("create subject: %v", err)
	}
	if err := env.ledger.Deposit(ctx, subject.ID, testToken, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if _, err := env.engine.Authorize(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(1500)); !errors.Is(err, ErrPerTxExceeded) {
		t.Fatalf("normal tier must reject 1500, got %v", err)
	}
	if _, err := env.engine.AuthorizeElevated(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(1500)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("elevated tier is controller-only, got %v", err)
	}
	if _, err := env.engine.AuthorizeElevated(ctx, testController, subject.ID, testMerchant, testToken, big.NewInt(1500)); err != nil {
		t.Fatalf("elevated spend of 1500: %v", err)
	}
}

func TestSetLimitsRejectsCoSignBelowNormal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 500, 1000, 0)

	err := env.engine.SetLimits(ctx, testController, subject.ID, SetLimitsInput{
		CoSignLimitPerTx: big.NewInt(100),
		CoSignDailyLimit: big.NewInt(100),
	})
	if !errors.Is(err, ErrInvalidLimits) {
		t.Fatalf("expected INVALID_LIMIT_CONFIG, got %v", err)
	}
}

func TestEmergencyWithdrawDrainsBalanceAndVoidsHolds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.createSubject(t, 1000, 10_000, 5000)

	if _, err := env.engine.CreateHold(ctx, testOwner, subject.ID, testMerchant, testToken, big.NewInt(700), time.Hour); err != nil {
		t.Fatalf("create hold: %v", err)
	}
	if err := env.engine.Pause(ctx, testOwner, subject.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if _, err := env.engine.EmergencyWithdraw(ctx, testOwner, subject.ID, testToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("emergency withdraw is recovery-only, got %v", err)
	}
	withdrawn, err := env.engine.EmergencyWithdraw(ctx, testRecovery, subject.ID, testToken)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if withdrawn.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("expected full 5000 withdrawn, got %s", withdrawn)
	}

	balance, _ := env.ledger.Balance(ctx, testRecovery, testToken)
	if balance.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("expected recovery balance 5000, got %s", balance)
	}
	stored, _ := env.engine.GetSubject(ctx, subject.ID)
	if stored.HeldTotal(testToken).Sign() != 0 {
		t.Fatalf("holds must be voided, held %s", stored.HeldTotal(testToken))
	}
}

func TestCreateSubjectValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.CreateSubject(ctx, CreateSubjectInput{
		Owner:      testOwner,
		Controller: testController,
		Recovery:   testRecovery,
		LimitPerTx: big.NewInt(0),
		DailyLimit: big.NewInt(100),
	})
	if xerrors.KindOf(err) != xerrors.KindValidation {
		t.Fatalf("expected a validation error, got %v", err)
	}
}
