// Package coordination runs distributed bootstrap work across pool nodes
// through short-lived jobs: gluster-on-compute setup and expansion, and
// container image refreshes.
package coordination

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skiffhq/skiff/internal/platform/batch"
	"github.com/skiffhq/skiff/internal/platform/blob"
	"github.com/skiffhq/skiff/internal/platform/ssh"
	"github.com/skiffhq/skiff/internal/provisioning"
)

// RunState is the lifecycle state of one coordination run.
type RunState string

// Coordination run states. A run moves Submitted→Running→Completed, then to
// Verified or Failed, and ends Deleted once its job is removed.
const (
	RunSubmitted RunState = "submitted"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunVerified  RunState = "verified"
	RunFailed    RunState = "failed"
	RunDeleted   RunState = "deleted"
)

// maxConcurrentSSH bounds the SSH fan-out per batch.
const maxConcurrentSSH = 40

// CoordinationError reports a failed coordination run. MissingNodes names
// every node that did not produce the success marker, not just the first.
type CoordinationError struct {
	Operation    string
	Message      string
	MissingNodes []string
}

func (e *CoordinationError) Error() string {
	if len(e.MissingNodes) > 0 {
		return fmt.Sprintf("coordination: %s: %s (missing on nodes: %s)",
			e.Operation, e.Message, strings.Join(e.MissingNodes, ", "))
	}
	return fmt.Sprintf("coordination: %s: %s", e.Operation, e.Message)
}

func coordErr(operation, format string, args ...interface{}) *CoordinationError {
	return &CoordinationError{Operation: operation, Message: fmt.Sprintf(format, args...)}
}

// PollConfig shapes task completion polling. A zero Interval polls every
// second; a zero Deadline waits indefinitely.
type PollConfig struct {
	Interval time.Duration
	Deadline time.Duration
}

// Coordinator drives distributed bootstrap runs over a fleet.
type Coordinator struct {
	Fleet    batch.FleetService
	Storage  blob.Store
	Observer provisioning.Observer
	Poll     PollConfig

	// Version stamps staged resources; ResourcesDir holds the node-side
	// coordination scripts.
	Version      string
	ResourcesDir string

	// NewCommunicator builds the SSH transport for the image refresh
	// fallback. Nil uses key-based SSH with the fleet's configured key.
	NewCommunicator func(host string, port int) (ssh.Communicator, error)

	// NewJobID generates run job ids. Nil appends a random uuid.
	NewJobID func(prefix string) string
}

func (c *Coordinator) jobID(prefix string) string {
	if c.NewJobID != nil {
		return c.NewJobID(prefix)
	}
	return prefix + "-" + uuid.NewString()
}

// run tracks one coordination job/task pair through its states.
type run struct {
	operation string
	jobID     string
	taskID    string
	state     RunState
}

func (c *Coordinator) transition(r *run, state RunState) {
	r.state = state
	c.Observer.WithFields(map[string]string{
		"job":  r.jobID,
		"task": r.taskID,
	}).Event(provisioning.Event{
		Type:    provisioning.EventProgress,
		Phase:   r.operation,
		Message: string(state),
	})
}

// execute submits the job and task, polls the task to completion, verifies
// the outcome and deletes the job. Deletion is attempted even when the run
// failed; a deletion failure never masks the run error.
func (c *Coordinator) execute(ctx context.Context, r *run, poolID string, task *batch.TaskSpec, verify func(context.Context) *CoordinationError) error {
	if err := c.Fleet.AddJob(ctx, &batch.JobSpec{ID: r.jobID, PoolID: poolID}); err != nil {
		return coordErr(r.operation, "adding job %s: %v", r.jobID, err)
	}
	if err := c.Fleet.AddTask(ctx, r.jobID, task); err != nil {
		c.deleteJob(ctx, r)
		return coordErr(r.operation, "adding task %s: %v", r.taskID, err)
	}
	c.transition(r, RunSubmitted)

	runErr := c.waitForTask(ctx, r)
	var verr *CoordinationError
	if runErr == nil {
		c.transition(r, RunCompleted)
		if verr = verify(ctx); verr == nil {
			c.transition(r, RunVerified)
		} else {
			c.transition(r, RunFailed)
		}
	} else {
		c.transition(r, RunFailed)
	}

	c.deleteJob(ctx, r)
	if runErr != nil {
		return runErr
	}
	if verr != nil {
		return verr
	}
	return nil
}

func (c *Coordinator) deleteJob(ctx context.Context, r *run) {
	if err := c.Fleet.DeleteJob(ctx, r.jobID); err != nil {
		c.Observer.Printf("failed to delete coordination job %s: %v", r.jobID, err)
		return
	}
	c.transition(r, RunDeleted)
}

// waitForTask polls the task until completion, honoring the configured
// interval and deadline.
func (c *Coordinator) waitForTask(ctx context.Context, r *run) error {
	interval := c.Poll.Interval
	if interval <= 0 {
		interval = time.Second
	}
	if c.Poll.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Poll.Deadline)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.Fleet.GetTask(ctx, r.jobID, r.taskID)
		if err != nil {
			return coordErr(r.operation, "polling task %s: %v", r.taskID, err)
		}
		if r.state == RunSubmitted && status.State != batch.TaskStateActive {
			c.transition(r, RunRunning)
		}
		if status.State == batch.TaskStateCompleted {
			return nil
		}
		select {
		case <-ctx.Done():
			return coordErr(r.operation, "task %s did not complete: %v", r.taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// markerPath is the node file path of a task's success marker.
func markerPath(jobID, taskID, marker string, windows bool) string {
	sep := "/"
	if windows {
		sep = `\`
	}
	return strings.Join([]string{"workitems", jobID, "job-1", taskID, "wd", marker}, sep)
}

// verifyMarker checks every node for the run's success marker and reports
// every node where it is absent.
func (c *Coordinator) verifyMarker(ctx context.Context, r *run, poolID, marker string, windows bool) *CoordinationError {
	nodes, err := c.Fleet.ListNodes(ctx, poolID)
	if err != nil {
		return coordErr(r.operation, "listing nodes: %v", err)
	}
	path := markerPath(r.jobID, r.taskID, marker, windows)
	var missing []string
	for _, node := range nodes {
		ok, err := c.Fleet.NodeFileExists(ctx, poolID, node.ID, path)
		if err != nil {
			return coordErr(r.operation, "checking %s on node %s: %v", marker, node.ID, err)
		}
		if !ok {
			missing = append(missing, node.ID)
		}
	}
	if len(missing) > 0 {
		return &CoordinationError{
			Operation:    r.operation,
			Message:      fmt.Sprintf("success marker %s absent", marker),
			MissingNodes: missing,
		}
	}
	return nil
}

// wrapInShell joins commands into one shell invocation matching the node
// bootstrap convention.
func wrapInShell(cmds []string, windows bool) string {
	if windows {
		return fmt.Sprintf("cmd.exe /c \"%s\"", strings.Join(cmds, " && "))
	}
	return fmt.Sprintf("/bin/bash -c 'set -e; set -o pipefail; %s'", strings.Join(cmds, "; "))
}
