// utilitário pequeno para formatação rápida/consistente de valores numéricos em headers.

package admission

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatUnix(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }

// retryAfterSeconds arredonda para cima; Retry-After nunca é 0.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
