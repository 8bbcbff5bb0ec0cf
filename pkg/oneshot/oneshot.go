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

// Package oneshot provides a single-use channel carrying at most one value
// from one producer to one consumer. Unlike a plain Go channel, each side can
// tell when its partner went away without completing the transfer.
package oneshot

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrReceiverClosed is returned by Sender.Send when the receiver was discarded.
	ErrReceiverClosed = errors.New("oneshot: receiver closed")
	// ErrSenderClosed is matched by the error Receiver.Recv returns when the
	// sender was discarded without sending.
	ErrSenderClosed = errors.New("oneshot: sender closed")
	// ErrUsed is returned when an endpoint is used a second time.
	ErrUsed = errors.New("oneshot: endpoint already used")
)

// ClosedError is returned by Receiver.Recv when the sender went away without
// sending. Cause holds the error given to Sender.CloseWithError, if any.
type ClosedError struct {
	Cause error
}

func (e *ClosedError) Error() string {
	if e.Cause == nil {
		return ErrSenderClosed.Error()
	}
	return ErrSenderClosed.Error() + ": " + e.Cause.Error()
}

func (e *ClosedError) Is(target error) bool {
	return target == ErrSenderClosed
}

func (e *ClosedError) Unwrap() error {
	return e.Cause
}

type channel[T any] struct {
	mu    sync.Mutex
	value T
	sent  bool
	cause error

	senderDone   bool
	receiving    bool
	receiverDone bool

	// ready is closed once the sender sent or was discarded
	ready chan struct{}
	// gone is closed once the receiver was discarded
	gone chan struct{}
}

func (c *channel[T]) closeReceiver() {
	if !c.receiverDone {
		c.receiverDone = true
		close(c.gone)
	}
}

// Sender is the producing end of a one-shot channel.
type Sender[T any] struct {
	c *channel[T]
}

// Receiver is the consuming end of a one-shot channel.
type Receiver[T any] struct {
	c *channel[T]
}

// New creates a linked Sender/Receiver pair. A fresh pair is needed for every
// transfer.
func New[T any]() (*Sender[T], *Receiver[T]) {
	c := &channel[T]{
		ready: make(chan struct{}),
		gone:  make(chan struct{}),
	}
	return &Sender[T]{c: c}, &Receiver[T]{c: c}
}

// Send hands v over to the receiver. It never blocks.
func (s *Sender[T]) Send(v T) error {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.senderDone {
		return ErrUsed
	}
	c.senderDone = true
	defer close(c.ready)
	if c.receiverDone {
		return ErrReceiverClosed
	}
	c.value, c.sent = v, true
	return nil
}

// Close discards the sender. The receiver observes ErrSenderClosed unless a
// value was already sent, in which case Close does nothing.
func (s *Sender[T]) Close() error {
	return s.CloseWithError(nil)
}

// CloseWithError discards the sender, handing err to the receiver as the
// reason no value will arrive.
func (s *Sender[T]) CloseWithError(err error) error {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.senderDone {
		return nil
	}
	c.senderDone = true
	c.cause = err
	close(c.ready)
	return nil
}

// Closed returns a channel that is closed once the receiver is discarded.
func (s *Sender[T]) Closed() <-chan struct{} {
	return s.c.gone
}

// Recv waits for the value. It returns a *ClosedError if the sender was
// discarded first, and ctx.Err() if ctx is done first. A value that was
// already sent is returned even when ctx is done. Either way the receiver
// is consumed.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	c := r.c
	c.mu.Lock()
	if c.receiving || c.receiverDone {
		c.mu.Unlock()
		return zero, ErrUsed
	}
	c.receiving = true
	c.mu.Unlock()

	var expired bool
	select {
	case <-c.ready:
	case <-ctx.Done():
		expired = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeReceiver()
	if c.sent {
		v := c.value
		c.value = zero
		return v, nil
	}
	if expired {
		return zero, ctx.Err()
	}
	return zero, &ClosedError{Cause: c.cause}
}

// Close discards the receiver. A later Send fails with ErrReceiverClosed.
func (r *Receiver[T]) Close() error {
	c := r.c
	c.mu.Lock()
	c.closeReceiver()
	c.mu.Unlock()
	return nil
}
