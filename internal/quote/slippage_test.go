package quote

import (
	"math/big"
	"testing"

	"github.com/ggonzalez94/swap-engine/internal/model"
)

func quoteWith(in, out int64, fees ...uint32) model.Quote {
	return model.Quote{
		TradeType:    model.TradeExactInput,
		InputAmount:  big.NewInt(in),
		OutputAmount: big.NewInt(out),
		PerHopFees:   fees,
	}
}

func TestMinimumAmountOutBound(t *testing.T) {
	q := quoteWith(1_000_000, 2_000_000, 3000)
	minOut := MinimumAmountOut(q, 50) // 0.5%

	if minOut.Cmp(q.OutputAmount) > 0 {
		t.Fatal("minimum out must never exceed the quoted output")
	}
	// Exact: 2_000_000 * 9950 / 10000 = 1_990_000.
	if minOut.Cmp(big.NewInt(1_990_000)) != 0 {
		t.Fatalf("expected 1990000, got %s", minOut)
	}
}

func TestMinimumAmountOutRoundsDown(t *testing.T) {
	q := quoteWith(1, 999, 0)
	minOut := MinimumAmountOut(q, 50)
	// 999 * 0.995 = 994.005 -> 994 after flooring.
	if minOut.Cmp(big.NewInt(994)) != 0 {
		t.Fatalf("expected floor rounding to 994, got %s", minOut)
	}
}

func TestMaximumAmountInRoundsUp(t *testing.T) {
	q := quoteWith(999, 1, 0)
	maxIn := MaximumAmountIn(q, 50)
	// 999 * 1.005 = 1003.995 -> 1004 after ceiling.
	if maxIn.Cmp(big.NewInt(1004)) != 0 {
		t.Fatalf("expected ceil rounding to 1004, got %s", maxIn)
	}
	if maxIn.Cmp(q.InputAmount) < 0 {
		t.Fatal("maximum in must never undercut the quoted input")
	}
}

func TestZeroSlippageIsIdentity(t *testing.T) {
	q := quoteWith(500, 700, 0)
	if MinimumAmountOut(q, 0).Cmp(q.OutputAmount) != 0 {
		t.Fatal("zero slippage must keep the quoted output")
	}
	if MaximumAmountIn(q, 0).Cmp(q.InputAmount) != 0 {
		t.Fatal("zero slippage must keep the quoted input")
	}
}

func TestAdjustForFeesUsesOverride(t *testing.T) {
	// Quoter priced the hop at the static 0.30%; the hook simulation says
	// the pool will charge 0.05% for this direction and size.
	q := quoteWith(1_000_000_000, 997_000_000, 3000)
	adjusted := AdjustForFees(q, []uint32{500})

	if adjusted.OutputAmount.Cmp(q.OutputAmount) <= 0 {
		t.Fatal("cheaper effective fee must increase the expected output")
	}
	// output * (1-0.0005)/(1-0.003) = 997000000 * 0.9995/0.997 = 999500000.
	if adjusted.OutputAmount.Cmp(big.NewInt(999_500_000)) != 0 {
		t.Fatalf("expected 999500000, got %s", adjusted.OutputAmount)
	}
	if adjusted.PerHopFees[0] != 500 {
		t.Fatalf("expected per-hop fee 500, got %d", adjusted.PerHopFees[0])
	}
	// The superseded quote is untouched.
	if q.OutputAmount.Cmp(big.NewInt(997_000_000)) != 0 || q.PerHopFees[0] != 3000 {
		t.Fatal("original quote must not be mutated")
	}

	// Downstream slippage math therefore runs on the 0.05% figure.
	minWithOverride := MinimumAmountOut(adjusted, 50)
	minWithStatic := MinimumAmountOut(q, 50)
	if minWithOverride.Cmp(minWithStatic) <= 0 {
		t.Fatal("minimum out must be computed from the override fee, not the static fee")
	}
}

func TestAdjustForFeesNoChangeReturnsSameAmounts(t *testing.T) {
	q := quoteWith(100, 200, 3000, 500)
	adjusted := AdjustForFees(q, []uint32{3000, 500})
	if adjusted.OutputAmount.Cmp(q.OutputAmount) != 0 {
		t.Fatal("identical fees must not change the quote")
	}
	if adjusted := AdjustForFees(q, []uint32{3000}); adjusted.OutputAmount.Cmp(q.OutputAmount) != 0 {
		t.Fatal("mismatched fee list length must leave the quote unchanged")
	}
}

func TestAdjustForFeesExactOutputScalesInput(t *testing.T) {
	q := model.Quote{
		TradeType:    model.TradeExactOutput,
		InputAmount:  big.NewInt(1_000_000_000),
		OutputAmount: big.NewInt(500),
		PerHopFees:   []uint32{500},
	}
	adjusted := AdjustForFees(q, []uint32{3000})
	if adjusted.InputAmount.Cmp(q.InputAmount) <= 0 {
		t.Fatal("a higher effective fee must require more input")
	}
	if adjusted.OutputAmount.Cmp(q.OutputAmount) != 0 {
		t.Fatal("exact-output target must stay fixed")
	}
}
