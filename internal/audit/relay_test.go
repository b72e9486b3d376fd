package audit

import (
	"context"
	"math/big"
	"testing"
	"time"

	xerrors "AgentVault-Core/internal/errors"
)

func bigInt(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	return v
}

func TestRelayDeliversBufferedEvents(t *testing.T) {
	sink := NewMemorySink()
	relay := NewRelay(sink)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 10; i++ {
		if err := relay.Emit(ctx, NewEvent(EventAuthorizeAccepted, "subject-1", now)); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}
	if err := relay.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	events := sink.Events()
	if len(events) != 10 {
		t.Fatalf("expected 10 forwarded events, got %d", len(events))
	}
}

func TestRelayRejectsAfterClose(t *testing.T) {
	sink := NewMemorySink()
	relay := NewRelay(sink)
	if err := relay.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	err := relay.Emit(context.Background(), NewEvent(EventHoldCreated, "subject-1", time.Now()))
	if err == nil {
		t.Fatal("emit after close must fail")
	}
	if xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected QUEUE_FAILURE, got %v", err)
	}
}

func TestRelayEmitDuringCloseDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 100; i++ {
		relay := NewRelay(NewMemorySink())
		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 20; j++ {
				// Either accepted or rejected with QUEUE_FAILURE; never a panic.
				if err := relay.Emit(ctx, NewEvent(EventAuthorizeAccepted, "subject-1", now)); err != nil {
					if xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
						t.Errorf("unexpected emit error: %v", err)
					}
					return
				}
			}
		}()
		if err := relay.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		<-done
	}
}

func TestEventAmountsAreDecimalStrings(t *testing.T) {
	event := NewEvent(EventEscrowFunded, "escrow-1", time.Unix(1_700_000_000, 0)).
		WithAmount("funded", bigInt("123456789012345678901234567890"))
	if event.Amounts["funded"] != "123456789012345678901234567890" {
		t.Fatalf("amounts must survive as decimal strings, got %s", event.Amounts["funded"])
	}
}
