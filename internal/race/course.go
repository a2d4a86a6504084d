package race

import (
	"fmt"
	"strings"
)

// LoopKind names one of the three loop categories of the course.
type LoopKind string

const (
	LoopSmall  LoopKind = "small"
	LoopMedium LoopKind = "medium"
	LoopLong   LoopKind = "long"
)

// LoopKinds lists the categories in display order.
var LoopKinds = []LoopKind{LoopSmall, LoopMedium, LoopLong}

// ParseLoopKind accepts the category name in any case.
func ParseLoopKind(value string) (LoopKind, error) {
	switch LoopKind(strings.ToLower(strings.TrimSpace(value))) {
	case LoopSmall:
		return LoopSmall, nil
	case LoopMedium:
		return LoopMedium, nil
	case LoopLong:
		return LoopLong, nil
	}
	return "", fmt.Errorf("race: unknown loop kind %q", value)
}

// Course holds the fixed unit distances, in metres.
type Course struct {
	SmallMetres    int
	MediumMetres   int
	LongMetres     int
	ApproachMetres int
}

// DefaultCourse is the club's standard course.
var DefaultCourse = Course{
	SmallMetres:    800,
	MediumMetres:   1000,
	LongMetres:     1200,
	ApproachMetres: 500,
}

// Distance returns the metres covered for the given loop counts. The approach
// leg is only counted once at least one loop has been run.
func (c Course) Distance(small, medium, long int) int {
	small, medium, long = max(0, small), max(0, medium), max(0, long)
	if small+medium+long == 0 {
		return 0
	}
	return c.ApproachMetres + small*c.SmallMetres + medium*c.MediumMetres + long*c.LongMetres
}

// ParticipantDistance derives the distance of a tracked participant.
func (c Course) ParticipantDistance(p LiveParticipant) int {
	return c.Distance(p.SmallLoops, p.MediumLoops, p.LongLoops)
}

// Validate rejects non-positive loop units and a negative approach.
func (c Course) Validate() error {
	if c.SmallMetres <= 0 || c.MediumMetres <= 0 || c.LongMetres <= 0 {
		return fmt.Errorf("race: loop distances must be positive")
	}
	if c.ApproachMetres < 0 {
		return fmt.Errorf("race: approach distance must not be negative")
	}
	return nil
}

// Kilometres converts metres for display.
func Kilometres(metres int) float64 {
	return float64(metres) / 1000
}
