package registration

import (
	"context"

	"github.com/looplab/fsm"
)

const (
	StateIdle          = "idle"
	StateRegistering   = "registering"
	StateRegistered    = "registered"
	StateUnregistering = "unregistering"
	StateFailed        = "failed"
)

const (
	evRegister   = "register"
	evSucceed    = "succeed"
	evFail       = "fail"
	evUnregister = "unregister"
	evRelease    = "release"
	evDrop       = "drop"
	evReset      = "reset"
)

func newMachine(onChange func(from, to string)) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: evRegister, Src: []string{StateIdle, StateFailed}, Dst: StateRegistering},
			{Name: evSucceed, Src: []string{StateRegistering}, Dst: StateRegistered},
			{Name: evFail, Src: []string{StateRegistering}, Dst: StateFailed},
			{Name: evUnregister, Src: []string{StateRegistered}, Dst: StateUnregistering},
			{Name: evRelease, Src: []string{StateUnregistering}, Dst: StateIdle},
			{Name: evDrop, Src: []string{StateRegistered}, Dst: StateIdle},
			{Name: evReset, Src: []string{StateFailed}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				onChange(e.Src, e.Dst)
			},
		},
	)
}
