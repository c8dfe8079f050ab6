// Package ssh executes commands on pool nodes over their remote login
// endpoints.
package ssh

import (
	"context"
)

// Communicator defines the interface for executing commands on a remote node.
type Communicator interface {
	// Execute runs a command on the remote node and returns the combined
	// output. It should handle retries and connection establishment.
	Execute(ctx context.Context, command string) (string, error)
}
