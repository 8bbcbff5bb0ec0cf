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
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/mitchellh/go-ps"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"gotest.tools/v3/assert"

	"github.com/docker/runc-shim/pkg/oneshot"
)

type waitResult struct {
	exit Exit
	err  error
}

// waitAsync runs Wait on its own goroutine, the way a shim consumes exits
func waitAsync(m ProcessMonitor, rx *oneshot.Receiver[Exit]) <-chan waitResult {
	ch := make(chan waitResult, 1)
	go func() {
		exit, err := m.Wait(context.Background(), rx)
		ch <- waitResult{exit: exit, err: err}
	}()
	return ch
}

func receive(t *testing.T, ch <-chan waitResult) waitResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for exit")
		return waitResult{}
	}
}

func captureLogs(t *testing.T) *logtest.Hook {
	t.Helper()
	hook := logtest.NewGlobal()
	t.Cleanup(func() {
		logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
	})
	return hook
}

func TestStartWaitExitCodes(t *testing.T) {
	for _, code := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("exit %d", code), func(t *testing.T) {
			m := NewDefaultMonitor()
			tx, rx := NewExitChannel()
			waitC := waitAsync(m, rx)

			out, err := m.Start(context.Background(), helperCommand(t, fmt.Sprintf("exit:%d", code)), tx)
			assert.NilError(t, err)
			assert.Equal(t, out.ExitCode(), code)

			r := receive(t, waitC)
			assert.NilError(t, r.err)
			assert.Equal(t, r.exit.Status, int32(code))
			assert.Equal(t, r.exit.Pid, uint32(out.ProcessState.Pid()))
		})
	}
}

func TestWaitBeforeStart(t *testing.T) {
	m := DefaultMonitor{}
	tx, rx := NewExitChannel()
	waitC := waitAsync(m, rx)

	select {
	case r := <-waitC:
		t.Fatalf("Wait returned before the process was started: %+v", r)
	case <-time.After(20 * time.Millisecond):
	}

	cmd := helperCommand(t, "exit:0")
	_, err := m.Start(context.Background(), cmd, tx)
	assert.NilError(t, err)

	r := receive(t, waitC)
	assert.NilError(t, r.err)
	assert.Equal(t, r.exit.Pid, uint32(cmd.Process.Pid))
	assert.Equal(t, r.exit.Status, int32(0))
}

func TestStartBeforeWait(t *testing.T) {
	m := DefaultMonitor{}
	tx, rx := NewExitChannel()

	// nobody is waiting yet, Start must not block on delivery
	cmd := helperCommand(t, "exit:4")
	_, err := m.Start(context.Background(), cmd, tx)
	assert.NilError(t, err)

	exit, err := m.Wait(context.Background(), rx)
	assert.NilError(t, err)
	assert.DeepEqual(t, exit, Exit{Pid: uint32(cmd.Process.Pid), Status: 4},
		cmpopts.IgnoreFields(Exit{}, "Timestamp"))
}

func TestWaitReturnsDeliveredExitAfterDeadline(t *testing.T) {
	m := DefaultMonitor{}
	tx, rx := NewExitChannel()

	cmd := helperCommand(t, "exit:6")
	_, err := m.Start(context.Background(), cmd, tx)
	assert.NilError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exit, err := m.Wait(ctx, rx)
	assert.NilError(t, err)
	assert.Equal(t, exit.Pid, uint32(cmd.Process.Pid))
	assert.Equal(t, exit.Status, int32(6))
}

func TestExitTimestampFromClock(t *testing.T) {
	at := time.Date(2024, time.March, 4, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	m := NewDefaultMonitor(WithClock(clockwork.NewFakeClockAt(at)))
	tx, rx := NewExitChannel()

	_, err := m.Start(context.Background(), helperCommand(t, "exit:0"), tx)
	assert.NilError(t, err)
	exit, err := m.Wait(context.Background(), rx)
	assert.NilError(t, err)

	assert.Assert(t, exit.Timestamp.Equal(at))
	assert.Equal(t, exit.Timestamp.Location(), time.UTC)
}

func TestExitTimestampNotBeforeStart(t *testing.T) {
	m := DefaultMonitor{}
	tx, rx := NewExitChannel()

	before := time.Now().Round(0)
	_, err := m.Start(context.Background(), helperCommand(t, "exit:0"), tx)
	assert.NilError(t, err)
	exit, err := m.Wait(context.Background(), rx)
	assert.NilError(t, err)

	assert.Assert(t, !exit.Timestamp.Before(before), "exit at %s, start invoked at %s", exit.Timestamp, before)
}

func TestStartCapturesOutput(t *testing.T) {
	m := DefaultMonitor{}
	tx, rx := NewExitChannel()
	defer rx.Close() //nolint:errcheck

	out, err := m.Start(context.Background(), helperCommand(t, "echo:hello"), tx)
	assert.NilError(t, err)
	assert.Equal(t, string(out.Stdout), "hello\n")
	assert.Equal(t, string(out.Stderr), "err:hello\n")
}

func TestStartLeavesCallerStreams(t *testing.T) {
	m := DefaultMonitor{}
	tx, rx := NewExitChannel()
	defer rx.Close() //nolint:errcheck

	var stdout bytes.Buffer
	cmd := helperCommand(t, "echo:hello")
	cmd.Stdout = &stdout

	out, err := m.Start(context.Background(), cmd, tx)
	assert.NilError(t, err)
	assert.Equal(t, stdout.String(), "hello\n")
	assert.Assert(t, out.Stdout == nil)
	assert.Equal(t, string(out.Stderr), "err:hello\n")
}

func TestStartReapsProcess(t *testing.T) {
	m := DefaultMonitor{}
	tx, rx := NewExitChannel()
	defer rx.Close() //nolint:errcheck

	cmd := helperCommand(t, "exit:0")
	_, err := m.Start(context.Background(), cmd, tx)
	assert.NilError(t, err)

	p, err := ps.FindProcess(cmd.Process.Pid)
	assert.NilError(t, err)
	assert.Assert(t, p == nil, "process %d still exists after Start returned", cmd.Process.Pid)
}

func TestStartSpawnFailure(t *testing.T) {
	m := DefaultMonitor{}
	tx, rx := NewExitChannel()
	waitC := waitAsync(m, rx)

	out, err := m.Start(context.Background(), exec.Command("shim-monitor-test-no-such-binary"), tx)
	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.Assert(t, out == nil)

	// no exit ever arrives, the waiter learns the sender is gone
	r := receive(t, waitC)
	assert.ErrorIs(t, r.err, ErrAbandoned)
	assert.Equal(t, r.exit, Exit{})
}

func TestProcessID(t *testing.T) {
	_, err := processID(&exec.Cmd{})
	assert.ErrorIs(t, err, ErrPidUnavailable)
	assert.Assert(t, errdefs.IsInternal(err))

	_, err = processID(&exec.Cmd{Process: &os.Process{Pid: 0}})
	assert.ErrorIs(t, err, ErrPidUnavailable)

	cmd := helperCommand(t, "exit:0")
	assert.NilError(t, cmd.Start())
	pid, err := processID(cmd)
	assert.NilError(t, err)
	assert.Equal(t, pid, uint32(cmd.Process.Pid))
	assert.NilError(t, cmd.Wait())
}

func TestStartDeliveryRefused(t *testing.T) {
	hook := captureLogs(t)
	m := DefaultMonitor{}
	tx, rx := NewExitChannel()
	assert.NilError(t, rx.Close())

	cmd := helperCommand(t, "echo:hello")
	out, err := m.Start(context.Background(), cmd, tx)
	assert.ErrorIs(t, err, ErrDeliveryRefused)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.ErrorIs(t, err, oneshot.ErrReceiverClosed)
	assert.Assert(t, errdefs.IsUnavailable(err))

	// the process ran to completion and its output was collected anyway
	assert.Equal(t, string(out.Stdout), "hello\n")
	assert.Equal(t, out.ExitCode(), 0)

	entry := hook.LastEntry()
	assert.Assert(t, entry != nil)
	assert.Equal(t, entry.Level, logrus.ErrorLevel)
	assert.Equal(t, entry.Data["cmd"], cmd.String())
	assert.Equal(t, entry.Data["pid"], uint32(cmd.Process.Pid))
	assert.ErrorIs(t, entry.Data[logrus.ErrorKey].(error), oneshot.ErrReceiverClosed)
}

func TestWaitAbandoned(t *testing.T) {
	m := DefaultMonitor{}
	tx, rx := NewExitChannel()
	waitC := waitAsync(m, rx)
	assert.NilError(t, tx.Close())

	r := receive(t, waitC)
	assert.ErrorIs(t, r.err, ErrAbandoned)
	assert.ErrorIs(t, r.err, syscall.EPIPE)
	assert.ErrorIs(t, r.err, oneshot.ErrSenderClosed)
	assert.Assert(t, errdefs.IsAborted(r.err))
}

func TestWaitTimeoutDiscardsReceiver(t *testing.T) {
	m := DefaultMonitor{}
	tx, rx := NewExitChannel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Wait(ctx, rx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = m.Start(context.Background(), helperCommand(t, "exit:0"), tx)
	assert.ErrorIs(t, err, ErrDeliveryRefused)
}

// offsetMonitor overrides Wait only, Start comes from DefaultMonitor
type offsetMonitor struct {
	DefaultMonitor
	offset int32
}

func (m offsetMonitor) Wait(ctx context.Context, exits *oneshot.Receiver[Exit]) (Exit, error) {
	exit, err := m.DefaultMonitor.Wait(ctx, exits)
	if err != nil {
		return exit, err
	}
	exit.Status += m.offset
	return exit, nil
}

func TestCustomMonitorOverridesWait(t *testing.T) {
	var m ProcessMonitor = offsetMonitor{offset: 100}
	tx, rx := NewExitChannel()
	waitC := waitAsync(m, rx)

	_, err := m.Start(context.Background(), helperCommand(t, "exit:2"), tx)
	assert.NilError(t, err)

	r := receive(t, waitC)
	assert.NilError(t, r.err)
	assert.Equal(t, r.exit.Status, int32(102))
}

func TestConcurrentInvocations(t *testing.T) {
	m := DefaultMonitor{}
	const count = 8

	type pair struct {
		cmd    *exec.Cmd
		waitC  <-chan waitResult
		startC chan error
	}
	pairs := make([]pair, count)
	for i := range pairs {
		tx, rx := NewExitChannel()
		p := pair{
			cmd:    helperCommand(t, fmt.Sprintf("exit:%d", i)),
			waitC:  waitAsync(m, rx),
			startC: make(chan error, 1),
		}
		go func() {
			_, err := m.Start(context.Background(), p.cmd, tx)
			p.startC <- err
		}()
		pairs[i] = p
	}

	for i, p := range pairs {
		r := receive(t, p.waitC)
		assert.NilError(t, r.err)
		assert.NilError(t, <-p.startC)
		assert.Equal(t, r.exit.Status, int32(i))
		assert.Equal(t, r.exit.Pid, uint32(p.cmd.Process.Pid))
	}
}

func TestExitString(t *testing.T) {
	exit := Exit{
		Timestamp: time.Date(2024, time.March, 4, 10, 30, 0, 5, time.UTC),
		Pid:       1234,
		Status:    137,
	}
	assert.Equal(t, exit.String(), "pid=1234 status=137 exited_at=2024-03-04T10:30:00.000000005Z")
}
