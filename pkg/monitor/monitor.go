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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/docker/runc-shim/pkg/oneshot"
)

//go:generate mockgen -destination=../mocks/mock_monitor.go -package=mocks . ProcessMonitor

// ProcessMonitor spawns a process and reports its exit.
//
// The channel linking Start and Wait is created by the caller, not by Start,
// so both calls can run concurrently and in any order.
type ProcessMonitor interface {
	// Start spawns cmd, waits for it to terminate and sends its Exit on exits.
	//
	// Streams left nil on cmd are captured into the returned Output. Start
	// always consumes exits: when no Exit can be sent, exits is closed so the
	// matching Wait does not block forever.
	Start(ctx context.Context, cmd *exec.Cmd, exits *oneshot.Sender[Exit]) (*Output, error)
	// Wait blocks until the Exit sent by the matching Start arrives.
	Wait(ctx context.Context, exits *oneshot.Receiver[Exit]) (Exit, error)
}

// NewExitChannel creates the channel linking one Start call to one Wait call
func NewExitChannel() (*oneshot.Sender[Exit], *oneshot.Receiver[Exit]) {
	return oneshot.New[Exit]()
}

// Option configures a DefaultMonitor
type Option func(*DefaultMonitor)

// WithClock sets the clock used to timestamp exits
func WithClock(clock clockwork.Clock) Option {
	return func(m *DefaultMonitor) {
		m.clock = clock
	}
}

// DefaultMonitor is the stock ProcessMonitor. It holds no state between
// invocations and its zero value is ready to use.
//
// Custom monitors embed DefaultMonitor and override Start or Wait.
type DefaultMonitor struct {
	clock clockwork.Clock
}

var _ ProcessMonitor = DefaultMonitor{}

// NewDefaultMonitor creates a DefaultMonitor configured by opts
func NewDefaultMonitor(opts ...Option) DefaultMonitor {
	m := DefaultMonitor{}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m DefaultMonitor) now() time.Time {
	if m.clock == nil {
		return time.Now().UTC()
	}
	return m.clock.Now().UTC()
}

// Start implements ProcessMonitor.
//
// The collected output is returned even when the exit cannot be delivered.
// A launch failure is returned unchanged.
func (m DefaultMonitor) Start(ctx context.Context, cmd *exec.Cmd, exits *oneshot.Sender[Exit]) (*Output, error) {
	defer exits.Close() //nolint:errcheck

	var stdout, stderr *bytes.Buffer
	if cmd.Stdout == nil {
		stdout = &bytes.Buffer{}
		cmd.Stdout = stdout
	}
	if cmd.Stderr == nil {
		stderr = &bytes.Buffer{}
		cmd.Stderr = stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	pid, err := processID(cmd)
	if err != nil {
		// still reap whatever was started
		_ = cmd.Wait()
		_ = exits.CloseWithError(err)
		return nil, err
	}
	logger := logrus.WithContext(ctx).WithFields(logrus.Fields{
		"pid": pid,
		"cmd": cmd.String(),
	})
	logger.Debug("process started")

	waitErr := cmd.Wait()
	ts := m.now()
	out := &Output{ProcessState: cmd.ProcessState}
	if stdout != nil {
		out.Stdout = stdout.Bytes()
	}
	if stderr != nil {
		out.Stderr = stderr.Bytes()
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		_ = exits.CloseWithError(waitErr)
		return out, waitErr
	}

	status, err := exitStatus(pid, cmd.ProcessState)
	if err != nil {
		logger.WithError(err).Debug("process exited without status")
		_ = exits.CloseWithError(err)
		return out, err
	}

	exit := Exit{
		Timestamp: ts,
		Pid:       pid,
		Status:    status,
	}
	logger.Debugf("process exited with status %d", status)
	if err := exits.Send(exit); err != nil {
		logger.WithError(err).Error("process exited but exit receiver was dropped")
		return out, fmt.Errorf("%w: %w", ErrDeliveryRefused, err)
	}
	return out, nil
}

// processID returns the pid of a started cmd. os/exec always sets Process
// after a successful Start, so ErrPidUnavailable only guards against a
// Start that reported success without a usable process.
func processID(cmd *exec.Cmd) (uint32, error) {
	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		return 0, ErrPidUnavailable
	}
	return uint32(cmd.Process.Pid), nil
}

// Wait implements ProcessMonitor
func (m DefaultMonitor) Wait(ctx context.Context, exits *oneshot.Receiver[Exit]) (Exit, error) {
	exit, err := exits.Recv(ctx)
	if err == nil {
		return exit, nil
	}
	if errors.Is(err, oneshot.ErrSenderClosed) {
		logrus.WithContext(ctx).WithError(err).Error("exit sender dropped")
		return Exit{}, fmt.Errorf("%w: %w", ErrAbandoned, err)
	}
	return Exit{}, err
}
