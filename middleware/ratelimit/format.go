// Formatação de valores numéricos dos headers, sem passar por fmt.

package ratelimit

import (
	"strconv"
	"time"
)

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

// formatSeconds arredonda para cima: 1.2s vira "2".
func formatSeconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	secs := (d + time.Second - 1) / time.Second
	return strconv.FormatInt(int64(secs), 10)
}
