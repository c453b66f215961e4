package webhook

// Verb is the change operation delivered by the upstream. A typed enum so
// every dispatch site is forced through an exhaustive switch; adding a verb
// breaks compilation at each one instead of silently falling through a
// string comparison.
type Verb int

const (
	VerbCreate Verb = iota
	VerbUpdate
	VerbDelete
)

func (v Verb) String() string {
	switch v {
	case VerbCreate:
		return "create"
	case VerbUpdate:
		return "update"
	case VerbDelete:
		return "delete"
	}
	return "unknown"
}

// ParseVerb maps the wire string to a Verb. ok is false for anything
// outside the supported set.
func ParseVerb(s string) (Verb, bool) {
	switch s {
	case "create":
		return VerbCreate, true
	case "update":
		return VerbUpdate, true
	case "delete":
		return VerbDelete, true
	}
	return 0, false
}
