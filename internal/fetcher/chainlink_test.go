package fetcher

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
)

type fakeFeed struct {
	answer    *big.Int
	updatedAt time.Time
	calls     map[string]int
}

func (f *fakeFeed) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	if bytes.Equal(call.Data[:4], aggregatorABI.Methods["decimals"].ID) {
		f.calls["decimals"]++
		return aggregatorABI.Methods["decimals"].Outputs.Pack(uint8(8))
	}
	f.calls["latestRoundData"]++
	return aggregatorABI.Methods["latestRoundData"].Outputs.Pack(
		big.NewInt(1), f.answer, big.NewInt(f.updatedAt.Unix()), big.NewInt(f.updatedAt.Unix()), big.NewInt(1),
	)
}

const feedAddress = "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"

func TestChainlinkLatestAnswer(t *testing.T) {
	now := time.Now()
	feed := &fakeFeed{answer: big.NewInt(6512345000000), updatedAt: now.Add(-time.Minute)}
	c := NewChainlinkWithCaller(feed, ChainlinkOptions{MaxAge: time.Hour, Now: func() time.Time { return now }}, noopLogger())

	for i := 0; i < 2; i++ {
		price, err := c.LatestAnswer(context.Background(), feedAddress)
		if err != nil {
			t.Fatalf("latest answer: %v", err)
		}
		if !price.Equal(decimal.RequireFromString("65123.45")) {
			t.Fatalf("unexpected price %s", price)
		}
	}
	if feed.calls["decimals"] != 1 {
		t.Fatalf("decimals should be cached, called %d times", feed.calls["decimals"])
	}
}

func TestChainlinkRejectsStaleAnswer(t *testing.T) {
	now := time.Now()
	feed := &fakeFeed{answer: big.NewInt(100000000), updatedAt: now.Add(-3 * time.Hour)}
	c := NewChainlinkWithCaller(feed, ChainlinkOptions{MaxAge: time.Hour, Now: func() time.Time { return now }}, noopLogger())
	if _, err := c.LatestAnswer(context.Background(), feedAddress); err == nil {
		t.Fatal("stale answer must fail")
	}
}

func TestChainlinkMissingConfig(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{}, noopLogger())
	if _, err := c.LatestAnswer(context.Background(), feedAddress); err == nil {
		t.Fatal("missing rpc url must fail")
	}
	if _, err := c.LatestAnswer(context.Background(), "not-an-address"); err == nil {
		t.Fatal("invalid address must fail")
	}
}
