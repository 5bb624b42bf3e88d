package automaton

// Response is the outcome of running a path through a predicate.
type Response int

const (
	// Reject means no string with this prefix can match.
	Reject Response = iota
	// NotReject means the path is a strict prefix of some accepted string.
	NotReject
	// Accept means the path itself is accepted.
	Accept
)

func (r Response) String() string {
	switch r {
	case Reject:
		return "REJECT"
	case NotReject:
		return "NOT_REJECT"
	case Accept:
		return "ACCEPT"
	default:
		return "UNKNOWN"
	}
}

// Parse consumes path one character at a time.
func (d *DFA) Parse(path string) Response {
	s := 0
	for _, r := range path {
		t, ok := d.trans[s][r]
		if !ok {
			return Reject
		}
		s = t
	}
	if d.final[s] {
		return Accept
	}
	return NotReject
}

// ParseLocal reports whether every character of name is the only transition
// leaving its state, i.e. d does not branch anywhere along name.
func (d *DFA) ParseLocal(name string) bool {
	s := 0
	for _, r := range name {
		if len(d.trans[s]) != 1 {
			return false
		}
		t, ok := d.trans[s][r]
		if !ok {
			return false
		}
		s = t
	}
	return true
}

// Node returns the literal prefix before the first '/' when d cannot branch
// before reaching it.
func (d *DFA) Node() (string, bool) {
	var name []rune
	seen := map[int]bool{}
	s := 0
	for !seen[s] {
		seen[s] = true
		if len(d.trans[s]) != 1 {
			return "", false
		}
		r, t := only(d.trans[s])
		if r == '/' {
			if len(name) == 0 {
				return "", false
			}
			return string(name), true
		}
		name = append(name, r)
		s = t
	}
	return "", false
}

func only(edges map[rune]int) (rune, int) {
	for r, t := range edges {
		return r, t
	}
	return 0, 0
}
