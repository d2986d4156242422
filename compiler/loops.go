package compiler

import "github.com/chazu/milan/vm"

// loopFrame records what an enclosing while loop needs to resolve its
// exits once the closing od is reached.
type loopFrame struct {
	head   vm.Address // condition re-test, target of continue
	exit   vm.Slot    // "exit if condition false" jump
	breaks []vm.Slot  // unconditional jumps reserved by break
}

// loopStack holds the frames of the loops enclosing the current statement,
// innermost last.
type loopStack struct {
	frames []*loopFrame
}

func (s *loopStack) push(f *loopFrame) {
	s.frames = append(s.frames, f)
}

// top returns the innermost loop, or nil outside any loop.
func (s *loopStack) top() *loopFrame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// close pops the innermost loop and patches its condition exit and every
// break to target.
func (s *loopStack) close(code *vm.Builder, target vm.Address) {
	f := s.top()
	if f == nil {
		panic("compiler: close with no open loop")
	}
	s.frames = s.frames[:len(s.frames)-1]

	code.PatchJump(f.exit, vm.OpJumpNo, target)
	for _, b := range f.breaks {
		code.PatchJump(b, vm.OpJump, target)
	}
}
