// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwupgrade

import (
	"context"

	"github.com/looplab/fsm"
)

// Session states.
const (
	StateIdle             = "idle"
	StateComputingCrc     = "computing_crc"
	StateAwaitingCrcEcho  = "awaiting_crc_echo"
	StateUploading        = "uploading"
	StateAwaitingFinalAck = "awaiting_final_ack"
	StateAwaitingReboot   = "awaiting_reboot"
	StateComplete         = "complete"
	StateFailed           = "failed"
)

const (
	eventCompute  = "compute"
	eventAnnounce = "announce"
	eventEchoed   = "crc_echoed"
	eventDrained  = "drained"
	eventAcked    = "acknowledged"
	eventStart    = "start"
	eventFinish   = "finish"
	eventRebooted = "rebooted"
	eventFail     = "fail"
)

// Only forward transitions are declared, so a session never revisits a state.
func newHandshakeFSM() *fsm.FSM {
	return fsm.NewFSM(StateIdle, fsm.Events{
		{Name: eventCompute, Src: []string{StateIdle}, Dst: StateComputingCrc},
		{Name: eventAnnounce, Src: []string{StateComputingCrc}, Dst: StateAwaitingCrcEcho},
		{Name: eventEchoed, Src: []string{StateAwaitingCrcEcho}, Dst: StateUploading},
		{Name: eventDrained, Src: []string{StateUploading}, Dst: StateAwaitingFinalAck},
		{Name: eventAcked, Src: []string{StateAwaitingFinalAck}, Dst: StateComplete},
		{Name: eventFail, Src: []string{
			StateIdle, StateComputingCrc, StateAwaitingCrcEcho, StateUploading, StateAwaitingFinalAck,
		}, Dst: StateFailed},
	}, fsm.Callbacks{})
}

func newStreamingFSM() *fsm.FSM {
	return fsm.NewFSM(StateIdle, fsm.Events{
		{Name: eventStart, Src: []string{StateIdle}, Dst: StateUploading},
		{Name: eventFinish, Src: []string{StateUploading}, Dst: StateAwaitingReboot},
		{Name: eventRebooted, Src: []string{StateAwaitingReboot}, Dst: StateComplete},
		{Name: eventFail, Src: []string{StateIdle, StateUploading, StateAwaitingReboot}, Dst: StateFailed},
	}, fsm.Callbacks{})
}

// advance fires event on f. Transitions are synchronous and callback free, so
// the only possible error is an undeclared transition.
func advance(f *fsm.FSM, event string) error {
	return f.Event(context.Background(), event)
}

func isTerminal(state string) bool {
	return state == StateComplete || state == StateFailed
}
