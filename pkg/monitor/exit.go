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
	"time"
)

// Exit describes how a monitored process terminated
type Exit struct {
	// Timestamp is the time the exit was observed, in UTC
	Timestamp time.Time
	// Pid is the process id captured right after spawn
	Pid uint32
	// Status is the exit code of the process
	Status int32
}

func (e Exit) String() string {
	return fmt.Sprintf("pid=%d status=%d exited_at=%s", e.Pid, e.Status, e.Timestamp.Format(time.RFC3339Nano))
}

// Output is what Start collected from a terminated process.
// Stdout and Stderr are only populated for the streams Start captured.
type Output struct {
	Stdout       []byte
	Stderr       []byte
	ProcessState *os.ProcessState
}

// ExitCode returns the exit code of the process, or -1 if it was terminated by
// a signal or never ran
func (o *Output) ExitCode() int {
	if o == nil || o.ProcessState == nil {
		return -1
	}
	return o.ProcessState.ExitCode()
}
