package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewCorrelationToken generates the opaque per-invocation token embedded
// into the triggered run's name for later discovery. The UUID component
// makes collisions negligible at any realistic scale; the command prefix
// and timestamp keep run lists human-scannable. Tokens are never reused,
// even when a dispatch is retried.
func NewCorrelationToken(command string) string {
	command = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, command)
	return fmt.Sprintf("%s-%d-%s", command, time.Now().UnixMilli(), uuid.NewString())
}
