package escrow

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"AgentVault-Core/internal/audit"
	"AgentVault-Core/internal/clock"
	"AgentVault-Core/internal/ledger"
)

const (
	testBuyer   = "0xbuyer"
	testSeller  = "0xseller"
	testArbiter = "0xarbiter"
	testFeeAcct = "0xfees"
	testToken   = "USDC"
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
	env.engine = NewEngine(env.store, env.ledger, Config{
		FeeBps:       100,
		FeeRecipient: testFeeAcct,
		Arbiter:      testArbiter,
	}, WithClock(env.clock), WithAuditSink(env.sink))

	if err := env.ledger.Deposit(context.Background(), testBuyer, testToken, big.NewInt(100_000)); err != nil {
		t.Fatalf("deposit buyer funds: %v", err)
	}
	return env
}

func (env *testEnv) deadline(d time.Duration) int64 {
	return env.clock.Now().Add(d).Unix()
}

func (env *testEnv) createFunded(t *testing.T, amount int64) *Escrow {
	t.Helper()
	ctx := context.Background()
	escrow, err := env.engine.CreateEscrow(ctx, testBuyer, CreateEscrowInput{
		Seller:   testSeller,
		Token:    testToken,
		Amount:   big.NewInt(amount),
		Deadline: env.deadline(72 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if err := env.engine.FundEscrow(ctx, testBuyer, escrow.ID); err != nil {
		t.Fatalf("fund escrow: %v", err)
	}
	return escrow
}

func (env *testEnv) balance(t *testing.T, account string) *big.Int {
	t.Helper()
	balance, err := env.ledger.Balance(context.Background(), account, testToken)
	if err != nil {
		t.Fatalf("balance of %s: %v", account, err)
	}
	return balance
}

type stubReservations struct {
	reserved map[string]*big.Int
}

func (s *stubReservations) Reserved(_ context.Context, account, _ string) (*big.Int, error) {
	if amount, ok := s.reserved[account]; ok {
		return amount, nil
	}
	return big.NewInt(0), nil
}

func TestFundEscrowRespectsExternalReservations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reservations := &stubReservations{reserved: map[string]*big.Int{testBuyer: big.NewInt(99_500)}}
	WithReservations(reservations)(env.engine)

	escrow, err := env.engine.CreateEscrow(ctx, testBuyer, CreateEscrowInput{
		Seller:   testSeller,
		Token:    testToken,
		Amount:   big.NewInt(1000),
		Deadline: env.deadline(72 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}

	// Balance 100_000 with 99_500 reserved: the 1010 outlay must not fit.
	if err := env.engine.FundEscrow(ctx, testBuyer, escrow.ID); !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("expected INSUFFICIENT_AVAILABLE, got %v", err)
	}
	if got := env.balance(t, escrow.CustodyAccount()); got.Sign() != 0 {
		t.Fatalf("denied funding must not move funds, custody holds %s", got)
	}

	// Once the reservation shrinks, funding the same escrow succeeds.
	reservations.reserved[testBuyer] = big.NewInt(1000)
	if err := env.engine.FundEscrow(ctx, testBuyer, escrow.ID); err != nil {
		t.Fatalf("fund after reservation released: %v", err)
	}
	if got := env.balance(t, escrow.CustodyAccount()); got.Cmp(big.NewInt(1010)) != 0 {
		t.Fatalf("custody must hold amount+fee, got %s", got)
	}
}

func TestFeeIsLockedAtCreationAndPaidOnRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	escrow := env.createFunded(t, 1000)
	if escrow.Fee.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected fee 10 at 100 bps, got %s", escrow.Fee)
	}
	if got := env.balance(t, escrow.CustodyAccount()); got.Cmp(big.NewInt(1010)) != 0 {
		t.Fatalf("custody must hold amount+fee, got %s", got)
	}
	if got := env.balance(t, testBuyer); got.Cmp(big.NewInt(98_990)) != 0 {
		t.Fatalf("buyer outlay must be 1010, balance %s", got)
	}

	if err := env.engine.ConfirmDelivery(ctx, testSeller, escrow.ID); err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}
	if err := env.engine.ApproveRelease(ctx, testBuyer, escrow.ID); err != nil {
		t.Fatalf("approve release: %v", err)
	}

	if got := env.balance(t, testSeller); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("seller must receive the full nominal amount, got %s", got)
	}
	if got := env.balance(t, testFeeAcct); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("fee recipient must receive exactly 10, got %s", got)
	}
	if got := env.balance(t, escrow.CustodyAccount()); got.Sign() != 0 {
		t.Fatalf("custody must be drained, got %s", got)
	}

	stored, _ := env.engine.GetEscrow(ctx, escrow.ID)
	if stored.State != StateReleased {
		t.Fatalf("expected Released, got %s", stored.State)
	}
	// Terminal: no further transitions.
	if err := env.engine.RaiseDispute(ctx, testBuyer, escrow.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("dispute after release must conflict, got %v", err)
	}
}

func TestEscrowRoleChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	escrow := env.createFunded(t, 1000)

	if err := env.engine.ConfirmDelivery(ctx, testBuyer, escrow.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("buyer cannot confirm delivery, got %v", err)
	}
	if err := env.engine.ApproveRelease(ctx, testSeller, escrow.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("seller cannot approve release, got %v", err)
	}
	if err := env.engine.RaiseDispute(ctx, testArbiter, escrow.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("arbiter cannot raise a dispute, got %v", err)
	}
}

func TestFundEscrowPreconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	escrow, err := env.engine.CreateEscrow(ctx, testBuyer, CreateEscrowInput{
		Seller:   testSeller,
		Token:    testToken,
		Amount:   big.NewInt(1000),
		Deadline: env.deadline(time.Hour),
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}

	if err := env.engine.FundEscrow(ctx, testSeller, escrow.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("only the buyer funds, got %v", err)
	}

	env.clock.Advance(2 * time.Hour)
	if err := env.engine.FundEscrow(ctx, testBuyer, escrow.ID); !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("funding after the deadline must fail, got %v", err)
	}
	if got := env.balance(t, testBuyer); got.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("failed funding must not move funds, balance %s", got)
	}
}

func TestMilestoneReleaseOrderAndFinalFee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	escrow, err := env.engine.CreateEscrowWithMilestones(ctx, testBuyer, CreateEscrowInput{
		Seller:   testSeller,
		Token:    testToken,
		Deadline: env.deadline(30 * 24 * time.Hour),
	}, []MilestoneInput{
		{Description: "design", Amount: big.NewInt(300)},
		{Description: "build", Amount: big.NewInt(500)},
		{Description: "handover", Amount: big.NewInt(200)},
	})
	if err != nil {
		t.Fatalf("create milestone escrow: %v", err)
	}
	if escrow.Amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("amount must be the milestone sum, got %s", escrow.Amount)
	}
	if err := env.engine.FundEscrow(ctx, testBuyer, escrow.ID); err != nil {
		t.Fatalf("fund: %v", err)
	}

	// A milestone cannot be released before the seller completes it.
	if err := env.engine.ReleaseMilestone(ctx, testBuyer, escrow.ID, 0); !errors.Is(err, ErrMilestoneNotCompleted) {
		t.Fatalf("expected MILESTONE_NOT_COMPLETED, got %v", err)
	}

	expectedSeller := []int64{300, 800, 1000}
	for i := 0; i < 3; i++ {
		if err := env.engine.CompleteMilestone(ctx, testSeller, escrow.ID, i); err != nil {
			t.Fatalf("complete milestone %d: %v", i, err)
		}
		if err := env.engine.ReleaseMilestone(ctx, testBuyer, escrow.ID, i); err != nil {
			t.Fatalf("release milestone %d: %v", i, err)
		}
		if got := env.balance(t, testSeller); got.Cmp(big.NewInt(expectedSeller[i])) != 0 {
			t.Fatalf("after milestone %d expected seller balance %d, got %s", i, expectedSeller[i], got)
		}
		if i < 2 {
			if got := env.balance(t, testFeeAcct); got.Sign() != 0 {
				t.Fatalf("fee must only move on the final release, got %s", got)
			}
			stored, _ := env.engine.GetEscrow(ctx, escrow.ID)
			if stored.State != StateFunded {
				t.Fatalf("escrow must stay Funded until the final release, got %s", stored.State)
			}
		}
	}

	if got := env.balance(t, testFeeAcct); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected fee 10 after final release, got %s", got)
	}
	stored, _ := env.engine.GetEscrow(ctx, escrow.ID)
	if stored.State != StateReleased {
		t.Fatalf("expected Released after final milestone, got %s", stored.State)
	}

	if err := env.engine.ReleaseMilestone(ctx, testBuyer, escrow.ID, 1); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("released escrow must reject further releases, got %v", err)
	}
}

func TestDisputeConservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	escrow := env.createFunded(t, 1000)

	if err := env.engine.RaiseDispute(ctx, testSeller, escrow.ID); err != nil {
		t.Fatalf("raise dispute: %v", err)
	}
	if err := env.engine.ResolveDispute(ctx, testBuyer, escrow.ID, 50); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("only the arbiter resolves, got %v", err)
	}
	if err := env.engine.ResolveDispute(ctx, testArbiter, escrow.ID, 101); !errors.Is(err, ErrInvalidPercent) {
		t.Fatalf("percent beyond 100 must be rejected, got %v", err)
	}

	if err := env.engine.ResolveDispute(ctx, testArbiter, escrow.ID, 33); err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}

	// floor(1000*33/100)=330 to the buyer, 670 to the seller, 10 in fees.
	if got := env.balance(t, testBuyer); got.Cmp(big.NewInt(99_320)) != 0 {
		t.Fatalf("expected buyer balance 99320, got %s", got)
	}
	if got := env.balance(t, testSeller); got.Cmp(big.NewInt(670)) != 0 {
		t.Fatalf("expected seller 670, got %s", got)
	}
	if got := env.balance(t, testFeeAcct); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected fee 10, got %s", got)
	}
	if got := env.balance(t, escrow.CustodyAccount()); got.Sign() != 0 {
		t.Fatalf("custody must be fully disbursed, got %s", got)
	}

	stored, _ := env.engine.GetEscrow(ctx, escrow.ID)
	if stored.State != StateReleased {
		t.Fatalf("a resolved dispute lands in Released, got %s", stored.State)
	}
}

func TestFullBuyerDisputeSplit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	escrow := env.createFunded(t, 1000)

	if err := env.engine.RaiseDispute(ctx, testBuyer, escrow.ID); err != nil {
		t.Fatalf("raise dispute: %v", err)
	}
	if err := env.engine.ResolveDispute(ctx, testArbiter, escrow.ID, 100); err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}

	if got := env.balance(t, testBuyer); got.Cmp(big.NewInt(99_990)) != 0 {
		t.Fatalf("buyer must get the full amount back (fee stays spent), got %s", got)
	}
	if got := env.balance(t, testSeller); got.Sign() != 0 {
		t.Fatalf("seller gets nothing on a 100%% split, got %s", got)
	}
	stored, _ := env.engine.GetEscrow(ctx, escrow.ID)
	if stored.State != StateReleased {
		t.Fatalf("100%% split is still the Released transition, got %s", stored.State)
	}
}

func TestCancelBeforeFunding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	escrow, err := env.engine.CreateEscrow(ctx, testBuyer, CreateEscrowInput{
		Seller:   testSeller,
		Token:    testToken,
		Amount:   big.NewInt(1000),
		Deadline: env.deadline(time.Hour),
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if err := env.engine.CancelEscrow(ctx, testBuyer, escrow.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stored, _ := env.engine.GetEscrow(ctx, escrow.ID)
	if stored.State != StateExpired {
		t.Fatalf("expected Expired, got %s", stored.State)
	}
	if err := env.engine.FundEscrow(ctx, testBuyer, escrow.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("funding a cancelled escrow must conflict, got %v", err)
	}

	// Cancel after funding is no longer possible.
	funded := env.createFunded(t, 1000)
	if err := env.engine.CancelEscrow(ctx, testBuyer, funded.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cancel after funding must conflict, got %v", err)
	}
}

func TestRefundAfterDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	escrow, err := env.engine.CreateEscrow(ctx, testBuyer, CreateEscrowInput{
		Seller:   testSeller,
		Token:    testToken,
		Amount:   big.NewInt(1000),
		Deadline: env.deadline(time.Hour),
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if err := env.engine.FundEscrow(ctx, testBuyer, escrow.ID); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if err := env.engine.Refund(ctx, testBuyer, escrow.ID); !errors.Is(err, ErrDeadlineNotReached) {
		t.Fatalf("refund before the deadline must fail, got %v", err)
	}

	env.clock.Advance(2 * time.Hour)
	if err := env.engine.Refund(ctx, testSeller, escrow.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("only the buyer refunds, got %v", err)
	}
	if err := env.engine.Refund(ctx, testBuyer, escrow.ID); err != nil {
		t.Fatalf("refund: %v", err)
	}

	if got := env.balance(t, testBuyer); got.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("refund must return amount+fee in full, balance %s", got)
	}
	stored, _ := env.engine.GetEscrow(ctx, escrow.ID)
	if stored.State != StateRefunded {
		t.Fatalf("expected Refunded, got %s", stored.State)
	}
}

func TestRefundBlockedByConfirmedDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	escrow, err := env.engine.CreateEscrow(ctx, testBuyer, CreateEscrowInput{
		Seller:   testSeller,
		Token:    testToken,
		Amount:   big.NewInt(1000),
		Deadline: env.deadline(time.Hour),
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if err := env.engine.FundEscrow(ctx, testBuyer, escrow.ID); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := env.engine.ConfirmDelivery(ctx, testSeller, escrow.ID); err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}

	env.clock.Advance(2 * time.Hour)
	if err := env.engine.Refund(ctx, testBuyer, escrow.ID); !errors.Is(err, ErrDeliveryConfirmed) {
		t.Fatalf("refund with confirmed delivery must fail, got %v", err)
	}
}

func TestCreateEscrowValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.CreateEscrow(ctx, testBuyer, CreateEscrowInput{
		Seller:   testBuyer,
		Token:    testToken,
		Amount:   big.NewInt(1000),
		Deadline: env.deadline(time.Hour),
	}); err == nil {
		t.Fatal("self-dealing escrow must be rejected")
	}
	if _, err := env.engine.CreateEscrow(ctx, testBuyer, CreateEscrowInput{
		Seller:   testSeller,
		Token:    testToken,
		Amount:   big.NewInt(1000),
		Deadline: env.clock.Now().Add(-time.Hour).Unix(),
	}); !errors.Is(err, ErrInvalidDeadline) {
		t.Fatalf("past deadline must be rejected, got %v", err)
	}
	if _, err := env.engine.CreateEscrowWithMilestones(ctx, testBuyer, CreateEscrowInput{
		Seller:   testSeller,
		Token:    testToken,
		Deadline: env.deadline(time.Hour),
	}, nil); !errors.Is(err, ErrNoMilestones) {
		t.Fatalf("expected NO_MILESTONES, got %v", err)
	}
}
