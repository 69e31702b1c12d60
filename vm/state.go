package vm

// State is one step of a class's state machine: a sprite frame shown for a
// duration, with an optional method run on entry.
//
// Next links states in declaration order. NextState is the logical
// successor used at run time and may point anywhere in the class, or at a
// label owned by a subclass once GotoLabel has been resolved.
type State struct {
	MemberBase

	SpriteName string
	Frame      int // 0 for 'A'
	Time       float32
	Function   *Method

	Next      *State
	NextState *State

	// Unresolved successor; cleared once fixed up.
	GotoLabel  string
	GotoOffset int

	// FuncName names the attached method before resolution.
	FuncName string

	InClassIndex int
}

func (s *State) MemberKind() MemberKind { return MemberState }

// FrameChar returns the frame as the letter used in source.
func (s *State) FrameChar() byte {
	return byte('A' + s.Frame)
}

// IsInRange reports whether s is reachable from start along Next within
// maxDepth steps, stopping early at end.
func (s *State) IsInRange(start, end *State, maxDepth int) bool {
	depth := 0
	check := start
	for {
		if check == s {
			return true
		}
		if check != nil {
			check = check.Next
		}
		depth++
		if depth >= maxDepth || check == end {
			return false
		}
	}
}

// IsInSequence reports whether s is part of the uninterrupted run that
// begins at start, following Next only while it agrees with NextState.
func (s *State) IsInSequence(start *State) bool {
	for check := start; check != nil; {
		if check == s {
			return true
		}
		if check.Next != check.NextState {
			return false
		}
		check = check.Next
	}
	return false
}

// Advance walks n steps along Next.
func (s *State) Advance(n int) *State {
	cur := s
	for i := 0; i < n && cur != nil; i++ {
		cur = cur.Next
	}
	return cur
}
