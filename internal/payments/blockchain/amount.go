package blockchain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ADS 金额是 11 位小数的字符串，本地统一用 clicks（整数）
const clickDecimals = 11

func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("blockchain: bad amount %q: %w", s, err)
	}
	clicks := d.Shift(clickDecimals)
	if !clicks.Equal(clicks.Truncate(0)) {
		return 0, fmt.Errorf("blockchain: amount %q has more than %d decimals", s, clickDecimals)
	}
	return clicks.IntPart(), nil
}

func FormatAmount(clicks int64) string {
	return decimal.New(clicks, -clickDecimals).StringFixed(clickDecimals)
}
