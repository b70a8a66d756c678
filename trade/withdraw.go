package trade

import (
	"fmt"
	"math/big"
	"sort"

	"margin-repeater/snapshot"
)

// SelectForWithdraw picks idle positions, largest first, until their idle
// margin covers required. The selection may overshoot. Ties keep input order.
func SelectForWithdraw(idle []snapshot.IdlePosition, required *big.Int) ([]snapshot.IdlePosition, error) {
	if required == nil || required.Sign() <= 0 {
		return nil, nil
	}

	total := new(big.Int)
	for _, p := range idle {
		total.Add(total, p.IdleMargin)
	}
	if total.Cmp(required) < 0 {
		return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientIdleMargin, required, total)
	}

	sorted := make([]snapshot.IdlePosition, len(idle))
	copy(sorted, idle)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].IdleMargin.Cmp(sorted[j].IdleMargin) > 0
	})

	covered := new(big.Int)
	for i, p := range sorted {
		covered.Add(covered, p.IdleMargin)
		if covered.Cmp(required) >= 0 {
			return sorted[:i+1], nil
		}
	}
	return sorted, nil
}
