package web3

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubClient struct {
	blockTime time.Time
	err       error
}

func (c *stubClient) FetchChainSnapshot(context.Context) (ChainSnapshot, error) {
	return ChainSnapshot{}, nil
}

func (c *stubClient) BlockTime(context.Context) (time.Time, error) {
	if c.err != nil {
		return time.Time{}, c.err
	}
	return c.blockTime, nil
}

func (c *stubClient) Close() {}

func TestBlockClockUsesBlockTime(t *testing.T) {
	blockTime := time.Unix(1_700_000_000, 0)
	clk := NewBlockClock(&stubClient{blockTime: blockTime}, nil)

	if got := clk.Now(); !got.Equal(blockTime) {
		t.Fatalf("unexpected time: got %v want %v", got, blockTime)
	}
}

func TestBlockClockNeverMovesBackwards(t *testing.T) {
	client := &stubClient{blockTime: time.Unix(1_700_000_100, 0)}
	clk := NewBlockClock(client, nil)

	first := clk.Now()
	client.blockTime = time.Unix(1_700_000_050, 0)
	second := clk.Now()

	if second.Before(first) {
		t.Fatalf("clock moved backwards: %v then %v", first, second)
	}
}

func TestBlockClockFallsBackToLocalTime(t *testing.T) {
	clk := NewBlockClock(&stubClient{err: errors.New("rpc down")}, nil)

	before := time.Now()
	got := clk.Now()
	if got.Before(before.Add(-time.Second)) {
		t.Fatalf("fallback time too old: %v", got)
	}
}
