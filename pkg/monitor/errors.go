/*
   Copyright 2024 Docker Compose CLI authors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package monitor

import (
	"fmt"
	"os"
	"syscall"

	"github.com/containerd/errdefs"
)

var (
	// ErrPidUnavailable is returned by Start when the pid of the spawned
	// process cannot be read.
	ErrPidUnavailable = newError("pid of the spawned process is not available", errdefs.ErrInternal)
	// ErrNoStatusCode is matched by errors for processes that terminated
	// without an exit code.
	ErrNoStatusCode = newError("process terminated without an exit code", errdefs.ErrUnknown)
	// ErrDeliveryRefused is returned by Start when the process exited but
	// nobody is waiting for its exit anymore.
	ErrDeliveryRefused = newError("exit receiver is gone, exit not delivered", errdefs.ErrUnavailable, syscall.ECONNREFUSED)
	// ErrAbandoned is returned by Wait when Start went away without sending
	// an exit.
	ErrAbandoned = newError("exit sender is gone, no exit will be delivered", errdefs.ErrAborted, syscall.EPIPE)
)

// monitorError carries a message and the error classes it belongs to, so
// both errors.Is(err, syscall.EPIPE) and errdefs.IsAborted(err) hold.
type monitorError struct {
	msg     string
	classes []error
}

func newError(msg string, classes ...error) error {
	return &monitorError{msg: msg, classes: classes}
}

func (e *monitorError) Error() string {
	return e.msg
}

func (e *monitorError) Unwrap() []error {
	return e.classes
}

const exitSignalOffset = 128

// SignalError reports a process terminated by a signal
type SignalError struct {
	Pid    uint32
	Signal syscall.Signal
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("process %d terminated by signal %s", e.Pid, signalName(e.Signal))
}

func (e *SignalError) Unwrap() error {
	return ErrNoStatusCode
}

// ExitStatus returns the status conventionally reported for a process killed
// by a signal.
func (e *SignalError) ExitStatus() int32 {
	return exitSignalOffset + int32(e.Signal)
}

// exitStatus reads the exit code of a terminated process
func exitStatus(pid uint32, state *os.ProcessState) (int32, error) {
	if state == nil {
		return 0, fmt.Errorf("process %d: %w", pid, ErrNoStatusCode)
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 0, &SignalError{Pid: pid, Signal: ws.Signal()}
	}
	code := state.ExitCode()
	if code < 0 {
		return 0, fmt.Errorf("process %d: %w", pid, ErrNoStatusCode)
	}
	return int32(code), nil
}
