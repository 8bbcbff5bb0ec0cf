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

	"github.com/hashicorp/go-multierror"
)

// Run starts cmd with m and waits for its exit concurrently. Errors from both
// sides are returned together, so a launch failure is reported next to the
// abandoned wait it caused.
func Run(ctx context.Context, m ProcessMonitor, cmd *exec.Cmd) (*Output, Exit, error) {
	tx, rx := NewExitChannel()
	var (
		eg   multierror.Group
		out  *Output
		exit Exit
	)
	eg.Go(func() error {
		// custom monitors may leave the sender open on failure
		defer tx.Close() //nolint:errcheck
		var err error
		out, err = m.Start(ctx, cmd, tx)
		return err
	})
	eg.Go(func() error {
		var err error
		exit, err = m.Wait(ctx, rx)
		return err
	})
	return out, exit, eg.Wait().ErrorOrNil()
}
