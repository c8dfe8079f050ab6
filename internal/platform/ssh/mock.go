package ssh

import "context"

// MockCommunicator is a mock implementation of Communicator.
type MockCommunicator struct {
	ExecuteFunc func(ctx context.Context, command string) (string, error)
}

// Ensure interface compliance
var _ Communicator = (*MockCommunicator)(nil)

// Execute mocks remote command execution.
func (m *MockCommunicator) Execute(ctx context.Context, command string) (string, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, command)
	}
	return "", nil
}
