package auction

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// CurrentPrice evaluates the linear descent from startPrice at startTime down
// to zero at endTime:
//
//	startPrice * (endTime - now) / (endTime - startTime)
//
// The division truncates and the result is clamped to [0, startPrice], so a
// call before startTime returns startPrice and a call at or after endTime
// returns zero.
func CurrentPrice(startPrice *big.Int, startTime, endTime, now int64) (*big.Int, error) {
	if startPrice == nil || startPrice.Sign() < 0 {
		return nil, fmt.Errorf("auction: start price must be non-negative")
	}
	if endTime <= startTime {
		return nil, fmt.Errorf("auction: end time must follow start time")
	}
	if now <= startTime {
		return new(big.Int).Set(startPrice), nil
	}
	if now >= endTime {
		return big.NewInt(0), nil
	}
	price, overflow := uint256.FromBig(startPrice)
	if overflow {
		return nil, fmt.Errorf("auction: start price exceeds 256 bits")
	}
	remaining := uint256.NewInt(uint64(endTime - now))
	window := uint256.NewInt(uint64(endTime - startTime))
	result, overflow := new(uint256.Int).MulDivOverflow(price, remaining, window)
	if overflow {
		return nil, fmt.Errorf("auction: price computation overflow")
	}
	out := result.ToBig()
	if out.Cmp(startPrice) > 0 {
		return new(big.Int).Set(startPrice), nil
	}
	return out, nil
}
