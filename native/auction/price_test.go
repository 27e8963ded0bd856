package auction

import (
	"math/big"
	"testing"
)

func TestCurrentPriceWorkedExample(t *testing.T) {
	start := int64(1_000_000)
	price, err := CurrentPrice(big.NewInt(1000), start, start+90_000, start+10_000)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.Cmp(big.NewInt(888)) != 0 {
		t.Fatalf("expected 888, got %s", price)
	}
}

func TestCurrentPriceBounds(t *testing.T) {
	cases := []struct {
		name string
		now  int64
		want int64
	}{
		{"before start", 50, 1000},
		{"at start", 100, 1000},
		{"midpoint", 150, 500},
		{"one before end", 199, 10},
		{"at end", 200, 0},
		{"after end", 10_000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CurrentPrice(big.NewInt(1000), 100, 200, tc.now)
			if err != nil {
				t.Fatalf("price: %v", err)
			}
			if got.Cmp(big.NewInt(tc.want)) != 0 {
				t.Fatalf("expected %d, got %s", tc.want, got)
			}
		})
	}
}

func TestCurrentPriceMonotonic(t *testing.T) {
	startPrice := big.NewInt(987_654_321)
	prev := new(big.Int).Set(startPrice)
	for now := int64(0); now <= 7_919; now += 7 {
		got, err := CurrentPrice(startPrice, 0, 7_919, now)
		if err != nil {
			t.Fatalf("price at %d: %v", now, err)
		}
		if got.Sign() < 0 || got.Cmp(startPrice) > 0 {
			t.Fatalf("price %s outside [0, %s] at %d", got, startPrice, now)
		}
		if got.Cmp(prev) > 0 {
			t.Fatalf("price increased from %s to %s at %d", prev, got, now)
		}
		prev = got
	}
}

func TestCurrentPriceLargeValues(t *testing.T) {
	huge, _ := new(big.Int).SetString("100000000000000000000000000000000000000000", 10)
	got, err := CurrentPrice(huge, 0, 4, 1)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	want := new(big.Int).Div(new(big.Int).Mul(huge, big.NewInt(3)), big.NewInt(4))
	if got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}
	tooBig := new(big.Int).Lsh(big.NewInt(1), 300)
	if _, err := CurrentPrice(tooBig, 0, 4, 1); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestCurrentPriceInvalidWindow(t *testing.T) {
	if _, err := CurrentPrice(big.NewInt(1), 10, 10, 5); err == nil {
		t.Fatalf("expected window error")
	}
	if _, err := CurrentPrice(big.NewInt(-1), 0, 10, 5); err == nil {
		t.Fatalf("expected negative price error")
	}
}
