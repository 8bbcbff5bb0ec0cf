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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/docker/runc-shim/pkg/monitor"
)

const (
	// EnvLogLevel sets the log level when --log-level is not given
	EnvLogLevel = "SHIM_MONITOR_LOG_LEVEL"
	// EnvTimeout sets the timeout when --timeout is not given
	EnvTimeout = "SHIM_MONITOR_TIMEOUT"
)

// StatusError reports a non-zero exit of the monitored command
type StatusError struct {
	Status int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("exit status %d", e.Status)
}

type options struct {
	command   string
	timeout   time.Duration
	logLevel  string
	logFormat string
	format    string
}

func addFlags(flags *pflag.FlagSet, opts *options) {
	flags.StringVarP(&opts.command, "command", "c", "", "Command line to run, split with shell quoting rules")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Kill the command if it has not exited after this duration")
	flags.StringVar(&opts.logLevel, "log-level", "info", `Set the logging level ("debug"|"info"|"warn"|"error")`)
	flags.StringVar(&opts.logFormat, "log-format", "text", `Log format ("text"|"json")`)
	flags.StringVar(&opts.format, "format", "text", `Format of the exit report ("text"|"json")`)
}

// applyEnv fills options from the environment for flags left unset
func (opts *options) applyEnv(flags *pflag.FlagSet) error {
	if v, ok := os.LookupEnv(EnvLogLevel); ok && !flags.Changed("log-level") {
		opts.logLevel = v
	}
	if v, ok := os.LookupEnv(EnvTimeout); ok && !flags.Changed("timeout") {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTimeout, err)
		}
		opts.timeout = d
	}
	return nil
}

func (opts *options) configureLogging(w io.Writer) error {
	level, err := logrus.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetOutput(w)
	switch opts.logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	default:
		return fmt.Errorf("unsupported log format %q", opts.logFormat)
	}
	return nil
}

func (opts *options) argv(args []string) ([]string, error) {
	if opts.command == "" {
		if len(args) == 0 {
			return nil, errors.New("a command to run is required")
		}
		return args, nil
	}
	if len(args) > 0 {
		return nil, errors.New("--command cannot be combined with positional arguments")
	}
	argv, err := shellwords.Parse(opts.command)
	if err != nil {
		return nil, fmt.Errorf("invalid command %q: %w", opts.command, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("a command to run is required")
	}
	return argv, nil
}

func rootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:           "shim-monitor [OPTIONS] [--] COMMAND [ARG...]",
		Short:         "Run a command and report how it exited",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.applyEnv(cmd.Flags()); err != nil {
				return err
			}
			return opts.configureLogging(stderr)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != "text" && opts.format != "json" {
				return fmt.Errorf("unsupported format %q", opts.format)
			}
			argv, err := opts.argv(args)
			if err != nil {
				return err
			}
			return runMonitor(cmd.Context(), opts, argv, stdout, stderr)
		},
	}
	addFlags(cmd.Flags(), &opts)
	return cmd
}

func runMonitor(ctx context.Context, opts options, argv []string, stdout, stderr io.Writer) error {
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	m := monitor.WithTracing(monitor.NewDefaultMonitor(), nil)
	tx, rx := monitor.NewExitChannel()

	var (
		eg                errgroup.Group
		out               *monitor.Output
		exit              monitor.Exit
		startErr, waitErr error
	)
	eg.Go(func() error {
		out, startErr = m.Start(ctx, cmd, tx)
		return startErr
	})
	eg.Go(func() error {
		exit, waitErr = m.Wait(ctx, rx)
		return waitErr
	})
	err := eg.Wait()

	if out != nil {
		_, _ = stdout.Write(out.Stdout)
		_, _ = stderr.Write(out.Stderr)
	}
	if err != nil {
		return exitFailure(opts, startErr, waitErr)
	}

	if err := report(stdout, opts.format, exit); err != nil {
		return err
	}
	if exit.Status != 0 {
		return StatusError{Status: int(exit.Status)}
	}
	return nil
}

// exitFailure picks the error to report when no exit was delivered
func exitFailure(opts options, startErr, waitErr error) error {
	var sigErr *monitor.SignalError
	switch {
	case errors.As(startErr, &sigErr):
		logrus.Warn(sigErr)
		return StatusError{Status: int(sigErr.ExitStatus())}
	case startErr != nil:
		return startErr
	case errors.Is(waitErr, context.DeadlineExceeded):
		return fmt.Errorf("command did not exit within %s", opts.timeout)
	default:
		return waitErr
	}
}

type exitReport struct {
	Pid      uint32    `json:"pid"`
	Status   int32     `json:"status"`
	ExitedAt time.Time `json:"exitedAt"`
}

func report(w io.Writer, format string, exit monitor.Exit) error {
	switch format {
	case "json":
		return json.NewEncoder(w).Encode(exitReport{
			Pid:      exit.Pid,
			Status:   exit.Status,
			ExitedAt: exit.Timestamp,
		})
	case "text":
		_, err := fmt.Fprintln(w, exit)
		return err
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}
