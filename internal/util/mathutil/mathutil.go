package mathutil

import (
	"errors"
	"fmt"
	"math"
)

var ErrOverflow = errors.New("value exceeds target type capacity")

// Uint64ToInt converts configured counts to int for slice sizes and loop bounds
func Uint64ToInt(v uint64) (int, error) {
	if v > math.MaxInt {
		return 0, fmt.Errorf("value %d overflows int: %w", v, ErrOverflow)
	}
	return int(v), nil
}
