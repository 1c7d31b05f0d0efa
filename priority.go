package structsched

import "fmt"

// Priority represents the priority of a task. The zero value is
// [Priorities].Unknown, which means "not specified" wherever a priority is
// optional.
type Priority struct {
	priority
}

// ParsePriority creates a new [Priority] from the given value.
func ParsePriority(p any) Priority {
	switch v := p.(type) {
	case Priority:
		return v
	case string:
		return Priority{stringToPriority(v)}
	case fmt.Stringer:
		return Priority{stringToPriority(v.String())}
	case int:
		return Priority{intToPriority(v)}
	case int64:
		return Priority{intToPriority(int(v))}
	case int32:
		return Priority{intToPriority(int(v))}
	default:
		return Priority{priorityUnknown}
	}
}

// Compare returns -1 if a is lower than b, +1 if a is higher than b and 0 if
// they are equal.
func Compare(a, b Priority) int {
	switch {
	case a.priority < b.priority:
		return -1
	case a.priority > b.priority:
		return 1
	default:
		return 0
	}
}

// Escalate combines the current priority with a candidate and returns the
// higher of the two. It never lowers a priority.
func Escalate(current, candidate Priority) Priority {
	if candidate.priority > current.priority {
		return candidate
	}
	return current
}

// Less reports whether p orders strictly below q.
func (p Priority) Less(q Priority) bool {
	return p.priority < q.priority
}

// IsUnknown reports whether p is the unspecified priority.
func (p Priority) IsUnknown() bool {
	return p.priority == priorityUnknown
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	*p = ParsePriority(s)
	return nil
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText is strict, unlike [ParsePriority]: config files naming a level
// that does not exist are rejected.
func (p *Priority) UnmarshalText(b []byte) error {
	v, ok := typePriorityMap[string(b)]
	if !ok {
		return fmt.Errorf("unknown priority %q", string(b))
	}
	*p = Priority{v}
	return nil
}

// Priorities is a more typical enum like structure from other languages, ported
// to Go. It may be used to reference a [Priority] value by name.
var Priorities = priorityContainer{
	Unknown:         Priority{priorityUnknown},
	Background:      Priority{priorityBackground},
	Utility:         Priority{priorityUtility},
	Default:         Priority{priorityDefault},
	UserInitiated:   Priority{priorityUserInitiated},
	UserInteractive: Priority{priorityUserInteractive},
}

// All returns all schedulable priorities, lowest first. Unknown is not
// included because no task ever runs at it.
func (c priorityContainer) All() []Priority {
	return []Priority{c.Background, c.Utility, c.Default, c.UserInitiated, c.UserInteractive}
}

type priority int

const (
	priorityUnknown         priority = 0
	priorityBackground      priority = 9
	priorityUtility         priority = 17
	priorityDefault         priority = 21
	priorityUserInitiated   priority = 25
	priorityUserInteractive priority = 33
)

// numLevels is the number of ready buckets kept by the executor.
const numLevels = 5

var (
	strPriorityMap = map[priority]string{
		priorityUnknown:         "unknown",
		priorityBackground:      "background",
		priorityUtility:         "utility",
		priorityDefault:         "default",
		priorityUserInitiated:   "user-initiated",
		priorityUserInteractive: "user-interactive",
	}

	typePriorityMap = map[string]priority{
		"unknown":          priorityUnknown,
		"background":       priorityBackground,
		"utility":          priorityUtility,
		"default":          priorityDefault,
		"user-initiated":   priorityUserInitiated,
		"user-interactive": priorityUserInteractive,
	}
)

func (p priority) String() string {
	return strPriorityMap[p]
}

func (p priority) IsValid() bool {
	_, ok := strPriorityMap[p]
	return ok
}

// level maps a priority onto a ready bucket index. Unknown shares the lowest
// bucket with background.
func (p priority) level() int {
	switch {
	case p >= priorityUserInteractive:
		return 4
	case p >= priorityUserInitiated:
		return 3
	case p >= priorityDefault:
		return 2
	case p >= priorityUtility:
		return 1
	default:
		return 0
	}
}

func intToPriority(v int) priority {
	if p := priority(v); p.IsValid() {
		return p
	}
	return priorityUnknown
}

func stringToPriority(s string) priority {
	if v, ok := typePriorityMap[s]; ok {
		return v
	}
	return priorityUnknown
}

type priorityContainer struct {
	Unknown         Priority
	Background      Priority
	Utility         Priority
	Default         Priority
	UserInitiated   Priority
	UserInteractive Priority
}
