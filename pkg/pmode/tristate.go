package pmode

// TriState is a flag that may be left undefined so a default applies
type TriState uint8

const (
	Undefined TriState = iota
	True
	False
)

// TriStateOf converts a bool into a defined TriState
func TriStateOf(b bool) TriState {
	if b {
		return True
	}
	return False
}

// IsDefined reports whether the flag was set explicitly
func (t TriState) IsDefined() bool { return t == True || t == False }

// IsTrue returns the flag value, or def when undefined
func (t TriState) IsTrue(def bool) bool {
	switch t {
	case True:
		return true
	case False:
		return false
	default:
		return def
	}
}

// Ptr returns nil for Undefined, used by persisted records
func (t TriState) Ptr() *bool {
	if !t.IsDefined() {
		return nil
	}
	b := t == True
	return &b
}

// TriStateFromPtr is the inverse of Ptr
func TriStateFromPtr(b *bool) TriState {
	if b == nil {
		return Undefined
	}
	return TriStateOf(*b)
}

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "undefined"
	}
}
