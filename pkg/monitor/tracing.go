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
	"context"
	"os/exec"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/docker/runc-shim/pkg/oneshot"
)

const tracerName = "github.com/docker/runc-shim/pkg/monitor"

type tracedMonitor struct {
	ProcessMonitor
	tracer trace.Tracer
}

// WithTracing wraps m so that Start and Wait are recorded as spans.
// The global TracerProvider is used when tp is nil.
func WithTracing(m ProcessMonitor, tp trace.TracerProvider) ProcessMonitor {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tracedMonitor{
		ProcessMonitor: m,
		tracer:         tp.Tracer(tracerName),
	}
}

func (t tracedMonitor) Start(ctx context.Context, cmd *exec.Cmd, exits *oneshot.Sender[Exit]) (*Output, error) {
	ctx, span := t.tracer.Start(ctx, "monitor/start", trace.WithAttributes(
		attribute.String("process.executable.path", cmd.Path),
		attribute.StringSlice("process.command_args", cmd.Args),
	))
	defer span.End()

	out, err := t.ProcessMonitor.Start(ctx, cmd, exits)
	if cmd.Process != nil {
		span.SetAttributes(attribute.Int("process.pid", cmd.Process.Pid))
	}
	if out != nil {
		span.SetAttributes(attribute.Int("process.exit.code", out.ExitCode()))
	}
	recordError(span, err)
	return out, err
}

func (t tracedMonitor) Wait(ctx context.Context, exits *oneshot.Receiver[Exit]) (Exit, error) {
	ctx, span := t.tracer.Start(ctx, "monitor/wait")
	defer span.End()

	exit, err := t.ProcessMonitor.Wait(ctx, exits)
	if err == nil {
		span.SetAttributes(
			attribute.Int64("process.pid", int64(exit.Pid)),
			attribute.Int("process.exit.code", int(exit.Status)),
		)
	}
	recordError(span, err)
	return exit, err
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
