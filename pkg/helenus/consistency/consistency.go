package consistency

import "fmt"

// Level is the consistency level of a read or write operation.
// The recommended value is QUORUM in most cases.
// Both ONE and ALL have a higher likelihood of returning stale data/hanging if a node is down.
type Level int

// Values match the numbering used on the wire.
const (
	ONE Level = iota + 1
	QUORUM
	LOCAL_QUORUM
	EACH_QUORUM
	ALL
	ANY
	TWO
	THREE
)

// Default is used for any operation that does not name a level.
const Default = QUORUM

var names = map[Level]string{
	ONE:          "ONE",
	QUORUM:       "QUORUM",
	LOCAL_QUORUM: "LOCAL_QUORUM",
	EACH_QUORUM:  "EACH_QUORUM",
	ALL:          "ALL",
	ANY:          "ANY",
	TWO:          "TWO",
	THREE:        "THREE",
}

func (l Level) String() string {
	if s, ok := names[l]; ok {
		return s
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Parse maps a level name such as "LOCAL_QUORUM" to its Level.
func Parse(s string) (Level, error) {
	for l, name := range names {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown consistency level %q", s)
}

// Or returns l, or fallback when l is unset.
func (l Level) Or(fallback Level) Level {
	if l == 0 {
		return fallback
	}
	return l
}

// Required returns how many of replicas must answer for l to be satisfied.
func (l Level) Required(replicas int) int {
	switch l {
	case ONE, ANY:
		return min(1, replicas)
	case TWO:
		return min(2, replicas)
	case THREE:
		return min(3, replicas)
	case QUORUM, LOCAL_QUORUM, EACH_QUORUM:
		return replicas/2 + 1
	default:
		return replicas
	}
}
