package batch

import (
	"context"
	"time"
)

// FleetService defines the capability contract the provisioning core
// requires from the batch service. The Azure implementation is AzureClient;
// tests use MockClient.
type FleetService interface {
	// Pools
	PoolExists(ctx context.Context, poolID string) (bool, error)
	GetPool(ctx context.Context, poolID string) (*Pool, error)
	CreatePool(ctx context.Context, req *PoolRequest) error
	DeletePool(ctx context.Context, poolID string) error
	ResizePool(ctx context.Context, poolID string, dedicated, lowPriority int32, resizeTimeout time.Duration) error

	// Nodes
	ListNodes(ctx context.Context, poolID string) ([]Node, error)
	RebootNode(ctx context.Context, poolID, nodeID string) error
	DeleteNodes(ctx context.Context, poolID string, nodeIDs []string) error
	AddNodeUser(ctx context.Context, poolID, nodeID string, user NodeUser) error
	RemoteLoginSettings(ctx context.Context, poolID, nodeID string) (*RemoteLogin, error)
	NodeFileExists(ctx context.Context, poolID, nodeID, path string) (bool, error)

	// Node agent SKUs
	ListNodeAgents(ctx context.Context) ([]NodeAgent, error)

	// Jobs and tasks
	AddJob(ctx context.Context, job *JobSpec) error
	DeleteJob(ctx context.Context, jobID string) error
	AddTask(ctx context.Context, jobID string, task *TaskSpec) error
	GetTask(ctx context.Context, jobID, taskID string) (*TaskStatus, error)

	// Certificates
	AddCertificate(ctx context.Context, thumbprint, algorithm, pfxBase64, password string) error
}
