package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timestampLayout renders message timestamps as ISO-8601 with millisecond
// precision in UTC, the format browsers produce with Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// newSessionID returns a timestamp-prefixed id with a random suffix.
func newSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), suffix)
}

// newMessageID returns an id unique within one session: the timestamp plus
// the position the message will take.
func newMessageID(now time.Time, position int) string {
	return fmt.Sprintf("%d-%d", now.UnixMilli(), position)
}

// FormatTimestamp renders t the way message timestamps are stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
