package batch

import (
	"context"
	"time"
)

// MockClient is a mock implementation of FleetService.
type MockClient struct {
	PoolExistsFunc func(ctx context.Context, poolID string) (bool, error)
	GetPoolFunc    func(ctx context.Context, poolID string) (*Pool, error)
	CreatePoolFunc func(ctx context.Context, req *PoolRequest) error
	DeletePoolFunc func(ctx context.Context, poolID string) error
	ResizePoolFunc func(ctx context.Context, poolID string, dedicated, lowPriority int32, resizeTimeout time.Duration) error

	ListNodesFunc           func(ctx context.Context, poolID string) ([]Node, error)
	RebootNodeFunc          func(ctx context.Context, poolID, nodeID string) error
	DeleteNodesFunc         func(ctx context.Context, poolID string, nodeIDs []string) error
	AddNodeUserFunc         func(ctx context.Context, poolID, nodeID string, user NodeUser) error
	RemoteLoginSettingsFunc func(ctx context.Context, poolID, nodeID string) (*RemoteLogin, error)
	NodeFileExistsFunc      func(ctx context.Context, poolID, nodeID, path string) (bool, error)

	ListNodeAgentsFunc func(ctx context.Context) ([]NodeAgent, error)

	AddJobFunc    func(ctx context.Context, job *JobSpec) error
	DeleteJobFunc func(ctx context.Context, jobID string) error
	AddTaskFunc   func(ctx context.Context, jobID string, task *TaskSpec) error
	GetTaskFunc   func(ctx context.Context, jobID, taskID string) (*TaskStatus, error)

	AddCertificateFunc func(ctx context.Context, thumbprint, algorithm, pfxBase64, password string) error
}

// Ensure interface compliance
var _ FleetService = (*MockClient)(nil)

// PoolExists mocks the pool existence check.
func (m *MockClient) PoolExists(ctx context.Context, poolID string) (bool, error) {
	if m.PoolExistsFunc != nil {
		return m.PoolExistsFunc(ctx, poolID)
	}
	return false, nil
}

// GetPool mocks fetching pool state.
func (m *MockClient) GetPool(ctx context.Context, poolID string) (*Pool, error) {
	if m.GetPoolFunc != nil {
		return m.GetPoolFunc(ctx, poolID)
	}
	return &Pool{ID: poolID}, nil
}

// CreatePool mocks pool creation.
func (m *MockClient) CreatePool(ctx context.Context, req *PoolRequest) error {
	if m.CreatePoolFunc != nil {
		return m.CreatePoolFunc(ctx, req)
	}
	return nil
}

// DeletePool mocks pool deletion.
func (m *MockClient) DeletePool(ctx context.Context, poolID string) error {
	if m.DeletePoolFunc != nil {
		return m.DeletePoolFunc(ctx, poolID)
	}
	return nil
}

// ResizePool mocks a resize request.
func (m *MockClient) ResizePool(ctx context.Context, poolID string, dedicated, lowPriority int32, resizeTimeout time.Duration) error {
	if m.ResizePoolFunc != nil {
		return m.ResizePoolFunc(ctx, poolID, dedicated, lowPriority, resizeTimeout)
	}
	return nil
}

// ListNodes mocks node enumeration.
func (m *MockClient) ListNodes(ctx context.Context, poolID string) ([]Node, error) {
	if m.ListNodesFunc != nil {
		return m.ListNodesFunc(ctx, poolID)
	}
	return nil, nil
}

// RebootNode mocks a node reboot.
func (m *MockClient) RebootNode(ctx context.Context, poolID, nodeID string) error {
	if m.RebootNodeFunc != nil {
		return m.RebootNodeFunc(ctx, poolID, nodeID)
	}
	return nil
}

// DeleteNodes mocks node removal.
func (m *MockClient) DeleteNodes(ctx context.Context, poolID string, nodeIDs []string) error {
	if m.DeleteNodesFunc != nil {
		return m.DeleteNodesFunc(ctx, poolID, nodeIDs)
	}
	return nil
}

// AddNodeUser mocks node user creation.
func (m *MockClient) AddNodeUser(ctx context.Context, poolID, nodeID string, user NodeUser) error {
	if m.AddNodeUserFunc != nil {
		return m.AddNodeUserFunc(ctx, poolID, nodeID, user)
	}
	return nil
}

// RemoteLoginSettings mocks fetching a node's SSH endpoint.
func (m *MockClient) RemoteLoginSettings(ctx context.Context, poolID, nodeID string) (*RemoteLogin, error) {
	if m.RemoteLoginSettingsFunc != nil {
		return m.RemoteLoginSettingsFunc(ctx, poolID, nodeID)
	}
	return &RemoteLogin{IPAddress: "127.0.0.1", Port: 22}, nil
}

// NodeFileExists mocks the node file check.
func (m *MockClient) NodeFileExists(ctx context.Context, poolID, nodeID, path string) (bool, error) {
	if m.NodeFileExistsFunc != nil {
		return m.NodeFileExistsFunc(ctx, poolID, nodeID, path)
	}
	return false, nil
}

// ListNodeAgents mocks listing node agent SKUs.
func (m *MockClient) ListNodeAgents(ctx context.Context) ([]NodeAgent, error) {
	if m.ListNodeAgentsFunc != nil {
		return m.ListNodeAgentsFunc(ctx)
	}
	return nil, nil
}

// AddJob mocks job creation.
func (m *MockClient) AddJob(ctx context.Context, job *JobSpec) error {
	if m.AddJobFunc != nil {
		return m.AddJobFunc(ctx, job)
	}
	return nil
}

// DeleteJob mocks job deletion.
func (m *MockClient) DeleteJob(ctx context.Context, jobID string) error {
	if m.DeleteJobFunc != nil {
		return m.DeleteJobFunc(ctx, jobID)
	}
	return nil
}

// AddTask mocks task submission.
func (m *MockClient) AddTask(ctx context.Context, jobID string, task *TaskSpec) error {
	if m.AddTaskFunc != nil {
		return m.AddTaskFunc(ctx, jobID, task)
	}
	return nil
}

// GetTask mocks fetching task state.
func (m *MockClient) GetTask(ctx context.Context, jobID, taskID string) (*TaskStatus, error) {
	if m.GetTaskFunc != nil {
		return m.GetTaskFunc(ctx, jobID, taskID)
	}
	return &TaskStatus{State: TaskStateCompleted}, nil
}

// AddCertificate mocks installing an account certificate.
func (m *MockClient) AddCertificate(ctx context.Context, thumbprint, algorithm, pfxBase64, password string) error {
	if m.AddCertificateFunc != nil {
		return m.AddCertificateFunc(ctx, thumbprint, algorithm, pfxBase64, password)
	}
	return nil
}
