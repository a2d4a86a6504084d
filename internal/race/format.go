package race

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatFinishTime renders a duration the way published records store it:
// MM:SS, or H:MM:SS once past one hour. Sub-second precision is truncated.
func FormatFinishTime(d time.Duration) string {
	h, m, s := split(d)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatClock renders the live timer: M:SS, or H:MM:SS once past one hour.
func FormatClock(d time.Duration) string {
	h, m, s := split(d)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ParseFinishTime reads MM:SS or H:MM:SS back into a duration.
func ParseFinishTime(value string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("race: invalid time %q", value)
	}
	var total int
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("race: invalid time %q", value)
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, nil
}

func split(d time.Duration) (hours, minutes, seconds int) {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return total / 3600, (total % 3600) / 60, total % 60
}
