// Package batch provides the capability contract over the cloud batch
// service (pools, nodes, jobs, tasks) and its Azure implementation.
package batch

import "time"

// ImageReference selects a marketplace image, or a custom image by id.
type ImageReference struct {
	Publisher string
	Offer     string
	Sku       string
	Version   string
}

// NodeAgent is a node agent SKU with the marketplace images it is verified
// against.
type NodeAgent struct {
	ID             string
	VerifiedImages []ImageReference
}

// Pool is the observed state of a fleet pool.
type Pool struct {
	ID                     string
	VMSize                 string
	CurrentDedicated       int32
	CurrentLowPriority     int32
	TargetDedicated        int32
	TargetLowPriority      int32
	InterNodeCommunication bool
	Metadata               map[string]string
}

// Node is a single compute node in a pool.
type Node struct {
	ID        string
	State     string
	IPAddress string
}

// RemoteLogin is the public endpoint for SSH access to one node.
type RemoteLogin struct {
	IPAddress string
	Port      int
}

// NodeUser is an admin user created on a node.
type NodeUser struct {
	Name         string
	Password     string
	SSHPublicKey string
	IsAdmin      bool
	ExpiryTime   time.Time
}

// ResourceFile is a file staged onto a node before a task or start task
// runs, fetched from a signed URL.
type ResourceFile struct {
	FilePath string
	URL      string
	FileMode string
}

// EnvSetting is one environment variable on a start task or task.
type EnvSetting struct {
	Name  string
	Value string
}

// StartTask bootstraps every node that joins the pool.
type StartTask struct {
	CommandLine    string
	ResourceFiles  []ResourceFile
	Environment    []EnvSetting
	Elevated       bool
	WaitForSuccess bool
	MaxRetryCount  int32
}

// CertificateReference installs an account certificate onto pool nodes.
type CertificateReference struct {
	Thumbprint     string
	Algorithm      string
	VisibleToTasks bool
}

// AutoScaleSettings enables formula-driven sizing; mutually exclusive with
// explicit targets in PoolRequest.
type AutoScaleSettings struct {
	Formula            string
	EvaluationInterval time.Duration
}

// MetadataItem is an opaque name/value pair attached to a pool.
type MetadataItem struct {
	Name  string
	Value string
}

// PoolRequest is a fully assembled pool creation request. Invariant: either
// AutoScale is set and the Target*/ResizeTimeout fields are zero, or the
// reverse.
type PoolRequest struct {
	ID                     string
	VMSize                 string
	Image                  ImageReference
	CustomImageID          string
	NodeAgentID            string
	TargetDedicated        int32
	TargetLowPriority      int32
	ResizeTimeout          time.Duration
	MaxTasksPerNode        int32
	InterNodeCommunication bool
	AutoScale              *AutoScaleSettings
	SubnetID               string
	StartTask              StartTask
	Certificates           []CertificateReference
	Metadata               []MetadataItem
	NodeFillType           string
	ContainerImages        []string
	Native                 bool

	// AutoPool marks a request destined for a job-lifetime pool
	// specification rather than a standing pool.
	AutoPool bool
}

// MultiInstanceSettings turns a task into a coordinated fleet-wide task with
// a coordinator phase and per-node application phases.
type MultiInstanceSettings struct {
	NumberOfInstances       int32
	CoordinationCommandLine string
	CommonResourceFiles     []ResourceFile
}

// JobSpec is an ephemeral job hosting coordination tasks.
type JobSpec struct {
	ID     string
	PoolID string
}

// TaskSpec is a task submitted into a job.
type TaskSpec struct {
	ID            string
	CommandLine   string
	Environment   []EnvSetting
	Elevated      bool
	ResourceFiles []ResourceFile
	MultiInstance *MultiInstanceSettings
}

// TaskState is the lifecycle state of a submitted task.
type TaskState string

// Task lifecycle states.
const (
	TaskStateActive    TaskState = "active"
	TaskStatePreparing TaskState = "preparing"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
)

// TaskStatus is the observed state of a task. ExitCode is nil until the
// task completes.
type TaskStatus struct {
	State    TaskState
	ExitCode *int32
}
