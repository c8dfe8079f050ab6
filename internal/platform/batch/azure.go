package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	azbatch "github.com/Azure/azure-sdk-for-go/services/batch/2018-12-01.8.0/batch"
	"github.com/Azure/go-autorest/autorest"
	"github.com/Azure/go-autorest/autorest/azure/auth"
	"github.com/Azure/go-autorest/autorest/date"
	"github.com/Azure/go-autorest/autorest/to"
)

// batchResource is the AAD resource for the batch service data plane.
const batchResource = "https://batch.core.windows.net/"

// AzureCredentials configures the AAD service principal used for the batch
// data plane.
type AzureCredentials struct {
	TenantID      string
	ApplicationID string
	AuthKey       string
	ServiceURL    string
}

// AzureClient implements FleetService against the Azure Batch service.
type AzureClient struct {
	pools    azbatch.PoolClient
	jobs     azbatch.JobClient
	tasks    azbatch.TaskClient
	nodes    azbatch.ComputeNodeClient
	files    azbatch.FileClient
	accounts azbatch.AccountClient
	certs    azbatch.CertificateClient
}

// NewAzureClient authenticates against the batch account data plane.
func NewAzureClient(creds AzureCredentials) (*AzureClient, error) {
	cfg := auth.NewClientCredentialsConfig(creds.ApplicationID, creds.AuthKey, creds.TenantID)
	cfg.Resource = batchResource
	authorizer, err := cfg.Authorizer()
	if err != nil {
		return nil, fmt.Errorf("failed to build batch authorizer: %w", err)
	}
	c := &AzureClient{
		pools:    azbatch.NewPoolClient(creds.ServiceURL),
		jobs:     azbatch.NewJobClient(creds.ServiceURL),
		tasks:    azbatch.NewTaskClient(creds.ServiceURL),
		nodes:    azbatch.NewComputeNodeClient(creds.ServiceURL),
		files:    azbatch.NewFileClient(creds.ServiceURL),
		accounts: azbatch.NewAccountClient(creds.ServiceURL),
		certs:    azbatch.NewCertificateClient(creds.ServiceURL),
	}
	c.pools.Authorizer = authorizer
	c.jobs.Authorizer = authorizer
	c.tasks.Authorizer = authorizer
	c.nodes.Authorizer = authorizer
	c.files.Authorizer = authorizer
	c.accounts.Authorizer = authorizer
	c.certs.Authorizer = authorizer
	return c, nil
}

// PoolExists reports whether the pool exists on the account.
func (c *AzureClient) PoolExists(ctx context.Context, poolID string) (bool, error) {
	resp, err := c.pools.Exists(ctx, poolID, nil, nil, nil, nil, "", "", nil, nil)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check pool %s: %w", poolID, err)
	}
	return resp.StatusCode == http.StatusOK, nil
}

// GetPool fetches the observed pool state.
func (c *AzureClient) GetPool(ctx context.Context, poolID string) (*Pool, error) {
	p, err := c.pools.Get(ctx, poolID, "", "", nil, nil, nil, nil, "", "", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool %s: %w", poolID, err)
	}
	pool := &Pool{
		ID:                     deref(p.ID),
		VMSize:                 deref(p.VMSize),
		CurrentDedicated:       derefI32(p.CurrentDedicatedNodes),
		CurrentLowPriority:     derefI32(p.CurrentLowPriorityNodes),
		TargetDedicated:        derefI32(p.TargetDedicatedNodes),
		TargetLowPriority:      derefI32(p.TargetLowPriorityNodes),
		InterNodeCommunication: p.EnableInterNodeCommunication != nil && *p.EnableInterNodeCommunication,
		Metadata:               map[string]string{},
	}
	if p.Metadata != nil {
		for _, md := range *p.Metadata {
			pool.Metadata[deref(md.Name)] = deref(md.Value)
		}
	}
	return pool, nil
}

// CreatePool submits the pool creation request.
func (c *AzureClient) CreatePool(ctx context.Context, req *PoolRequest) error {
	param := azbatch.PoolAddParameter{
		ID:                           to.StringPtr(req.ID),
		VMSize:                       to.StringPtr(req.VMSize),
		VirtualMachineConfiguration:  vmConfiguration(req),
		MaxTasksPerNode:              to.Int32Ptr(req.MaxTasksPerNode),
		EnableInterNodeCommunication: to.BoolPtr(req.InterNodeCommunication),
		StartTask:                    startTask(&req.StartTask),
	}
	if req.AutoScale != nil {
		param.EnableAutoScale = to.BoolPtr(true)
		param.AutoScaleFormula = to.StringPtr(req.AutoScale.Formula)
		if req.AutoScale.EvaluationInterval > 0 {
			param.AutoScaleEvaluationInterval = isoDuration(req.AutoScale.EvaluationInterval)
		}
	} else {
		param.TargetDedicatedNodes = to.Int32Ptr(req.TargetDedicated)
		param.TargetLowPriorityNodes = to.Int32Ptr(req.TargetLowPriority)
		if req.ResizeTimeout > 0 {
			param.ResizeTimeout = isoDuration(req.ResizeTimeout)
		}
	}
	if req.SubnetID != "" {
		param.NetworkConfiguration = &azbatch.NetworkConfiguration{
			SubnetID: to.StringPtr(req.SubnetID),
		}
	}
	if req.NodeFillType != "" {
		fill := azbatch.Spread
		if req.NodeFillType == "pack" {
			fill = azbatch.Pack
		}
		param.TaskSchedulingPolicy = &azbatch.TaskSchedulingPolicy{NodeFillType: fill}
	}
	if len(req.Certificates) > 0 {
		refs := make([]azbatch.CertificateReference, 0, len(req.Certificates))
		for _, cr := range req.Certificates {
			vis := []azbatch.CertificateVisibility{azbatch.CertificateVisibilityStartTask}
			if cr.VisibleToTasks {
				vis = append(vis, azbatch.CertificateVisibilityTask)
			}
			refs = append(refs, azbatch.CertificateReference{
				Thumbprint:          to.StringPtr(cr.Thumbprint),
				ThumbprintAlgorithm: to.StringPtr(cr.Algorithm),
				Visibility:          &vis,
			})
		}
		param.CertificateReferences = &refs
	}
	if len(req.Metadata) > 0 {
		md := make([]azbatch.MetadataItem, 0, len(req.Metadata))
		for _, m := range req.Metadata {
			md = append(md, azbatch.MetadataItem{
				Name:  to.StringPtr(m.Name),
				Value: to.StringPtr(m.Value),
			})
		}
		param.Metadata = &md
	}
	if _, err := c.pools.Add(ctx, param, nil, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to create pool %s: %w", req.ID, err)
	}
	return nil
}

// DeletePool removes the pool and all of its nodes.
func (c *AzureClient) DeletePool(ctx context.Context, poolID string) error {
	if _, err := c.pools.Delete(ctx, poolID, nil, nil, nil, nil, "", "", nil, nil); err != nil {
		return fmt.Errorf("failed to delete pool %s: %w", poolID, err)
	}
	return nil
}

// ResizePool changes the pool's target node counts.
func (c *AzureClient) ResizePool(ctx context.Context, poolID string, dedicated, lowPriority int32, resizeTimeout time.Duration) error {
	param := azbatch.PoolResizeParameter{
		TargetDedicatedNodes:   to.Int32Ptr(dedicated),
		TargetLowPriorityNodes: to.Int32Ptr(lowPriority),
	}
	if resizeTimeout > 0 {
		param.ResizeTimeout = isoDuration(resizeTimeout)
	}
	if _, err := c.pools.Resize(ctx, poolID, param, nil, nil, nil, nil, "", "", nil, nil); err != nil {
		return fmt.Errorf("failed to resize pool %s: %w", poolID, err)
	}
	return nil
}

// ListNodes enumerates all compute nodes currently in the pool.
func (c *AzureClient) ListNodes(ctx context.Context, poolID string) ([]Node, error) {
	page, err := c.nodes.List(ctx, poolID, "", "", nil, nil, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes for pool %s: %w", poolID, err)
	}
	var out []Node
	for page.NotDone() {
		for _, n := range page.Values() {
			out = append(out, Node{
				ID:        deref(n.ID),
				State:     string(n.State),
				IPAddress: deref(n.IPAddress),
			})
		}
		if err := page.NextWithContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to page nodes for pool %s: %w", poolID, err)
		}
	}
	return out, nil
}

// RebootNode restarts a single node.
func (c *AzureClient) RebootNode(ctx context.Context, poolID, nodeID string) error {
	if _, err := c.nodes.Reboot(ctx, poolID, nodeID, nil, nil, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to reboot node %s: %w", nodeID, err)
	}
	return nil
}

// DeleteNodes removes the named nodes from the pool.
func (c *AzureClient) DeleteNodes(ctx context.Context, poolID string, nodeIDs []string) error {
	param := azbatch.NodeRemoveParameter{NodeList: &nodeIDs}
	if _, err := c.pools.RemoveNodes(ctx, poolID, param, nil, nil, nil, nil, "", "", nil, nil); err != nil {
		return fmt.Errorf("failed to remove nodes from pool %s: %w", poolID, err)
	}
	return nil
}

// AddNodeUser creates an admin user on one node.
func (c *AzureClient) AddNodeUser(ctx context.Context, poolID, nodeID string, user NodeUser) error {
	param := azbatch.ComputeNodeUser{
		Name:    to.StringPtr(user.Name),
		IsAdmin: to.BoolPtr(user.IsAdmin),
	}
	if user.Password != "" {
		param.Password = to.StringPtr(user.Password)
	}
	if user.SSHPublicKey != "" {
		param.SSHPublicKey = to.StringPtr(user.SSHPublicKey)
	}
	if !user.ExpiryTime.IsZero() {
		param.ExpiryTime = &date.Time{Time: user.ExpiryTime}
	}
	if _, err := c.nodes.AddUser(ctx, poolID, nodeID, param, nil, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to add user to node %s: %w", nodeID, err)
	}
	return nil
}

// RemoteLoginSettings fetches the public SSH endpoint for a node.
func (c *AzureClient) RemoteLoginSettings(ctx context.Context, poolID, nodeID string) (*RemoteLogin, error) {
	rls, err := c.nodes.GetRemoteLoginSettings(ctx, poolID, nodeID, nil, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get remote login settings for node %s: %w", nodeID, err)
	}
	return &RemoteLogin{
		IPAddress: deref(rls.RemoteLoginIPAddress),
		Port:      int(derefI32(rls.RemoteLoginPort)),
	}, nil
}

// NodeFileExists checks for a file on a node without downloading it.
func (c *AzureClient) NodeFileExists(ctx context.Context, poolID, nodeID, path string) (bool, error) {
	_, err := c.files.GetPropertiesFromComputeNode(ctx, poolID, nodeID, path, nil, nil, nil, nil, nil, nil)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s on node %s: %w", path, nodeID, err)
	}
	return true, nil
}

// ListNodeAgents enumerates the account's node agent SKUs with their
// verified marketplace images.
func (c *AzureClient) ListNodeAgents(ctx context.Context) ([]NodeAgent, error) {
	page, err := c.accounts.ListNodeAgentSkus(ctx, "", nil, nil, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list node agent skus: %w", err)
	}
	var out []NodeAgent
	for page.NotDone() {
		for _, sku := range page.Values() {
			agent := NodeAgent{ID: deref(sku.ID)}
			if sku.VerifiedImageReferences != nil {
				for _, ref := range *sku.VerifiedImageReferences {
					agent.VerifiedImages = append(agent.VerifiedImages, ImageReference{
						Publisher: deref(ref.Publisher),
						Offer:     deref(ref.Offer),
						Sku:       deref(ref.Sku),
						Version:   deref(ref.Version),
					})
				}
			}
			out = append(out, agent)
		}
		if err := page.NextWithContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to page node agent skus: %w", err)
		}
	}
	return out, nil
}

// AddJob creates an ephemeral job bound to a pool.
func (c *AzureClient) AddJob(ctx context.Context, job *JobSpec) error {
	param := azbatch.JobAddParameter{
		ID: to.StringPtr(job.ID),
		PoolInfo: &azbatch.PoolInformation{
			PoolID: to.StringPtr(job.PoolID),
		},
	}
	if _, err := c.jobs.Add(ctx, param, nil, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to add job %s: %w", job.ID, err)
	}
	return nil
}

// DeleteJob removes a job and its tasks.
func (c *AzureClient) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := c.jobs.Delete(ctx, jobID, nil, nil, nil, nil, "", "", nil, nil); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	return nil
}

// AddTask submits a task into a job.
func (c *AzureClient) AddTask(ctx context.Context, jobID string, task *TaskSpec) error {
	param := azbatch.TaskAddParameter{
		ID:          to.StringPtr(task.ID),
		CommandLine: to.StringPtr(task.CommandLine),
	}
	if task.Elevated {
		param.UserIdentity = elevatedIdentity()
	}
	if len(task.Environment) > 0 {
		env := envSettings(task.Environment)
		param.EnvironmentSettings = &env
	}
	if len(task.ResourceFiles) > 0 {
		rfs := resourceFiles(task.ResourceFiles)
		param.ResourceFiles = &rfs
	}
	if task.MultiInstance != nil {
		mis := &azbatch.MultiInstanceSettings{
			NumberOfInstances:       to.Int32Ptr(task.MultiInstance.NumberOfInstances),
			CoordinationCommandLine: to.StringPtr(task.MultiInstance.CoordinationCommandLine),
		}
		if len(task.MultiInstance.CommonResourceFiles) > 0 {
			rfs := resourceFiles(task.MultiInstance.CommonResourceFiles)
			mis.CommonResourceFiles = &rfs
		}
		param.MultiInstanceSettings = mis
	}
	if _, err := c.tasks.Add(ctx, jobID, param, nil, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to add task %s to job %s: %w", task.ID, jobID, err)
	}
	return nil
}

// GetTask fetches the observed state of a task.
func (c *AzureClient) GetTask(ctx context.Context, jobID, taskID string) (*TaskStatus, error) {
	t, err := c.tasks.Get(ctx, jobID, taskID, "", "", nil, nil, nil, nil, "", "", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s in job %s: %w", taskID, jobID, err)
	}
	status := &TaskStatus{State: TaskState(t.State)}
	if t.ExecutionInfo != nil && t.ExecutionInfo.ExitCode != nil {
		code := *t.ExecutionInfo.ExitCode
		status.ExitCode = &code
	}
	return status, nil
}

// AddCertificate installs a PFX certificate on the batch account.
func (c *AzureClient) AddCertificate(ctx context.Context, thumbprint, algorithm, pfxBase64, password string) error {
	param := azbatch.CertificateAddParameter{
		Thumbprint:          to.StringPtr(thumbprint),
		ThumbprintAlgorithm: to.StringPtr(algorithm),
		Data:                to.StringPtr(pfxBase64),
		CertificateFormat:   azbatch.Pfx,
	}
	if password != "" {
		param.Password = to.StringPtr(password)
	}
	if _, err := c.certs.Add(ctx, param, nil, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to add certificate %s: %w", thumbprint, err)
	}
	return nil
}

func vmConfiguration(req *PoolRequest) *azbatch.VirtualMachineConfiguration {
	vmc := &azbatch.VirtualMachineConfiguration{
		NodeAgentSKUID: to.StringPtr(req.NodeAgentID),
	}
	if req.CustomImageID != "" {
		vmc.ImageReference = &azbatch.ImageReference{
			VirtualMachineImageID: to.StringPtr(req.CustomImageID),
		}
	} else {
		vmc.ImageReference = &azbatch.ImageReference{
			Publisher: to.StringPtr(req.Image.Publisher),
			Offer:     to.StringPtr(req.Image.Offer),
			Sku:       to.StringPtr(req.Image.Sku),
			Version:   to.StringPtr(req.Image.Version),
		}
	}
	if req.Native && len(req.ContainerImages) > 0 {
		images := req.ContainerImages
		vmc.ContainerConfiguration = &azbatch.ContainerConfiguration{
			Type:                to.StringPtr("dockerCompatible"),
			ContainerImageNames: &images,
		}
	}
	return vmc
}

func startTask(st *StartTask) *azbatch.StartTask {
	out := &azbatch.StartTask{
		CommandLine:    to.StringPtr(st.CommandLine),
		WaitForSuccess: to.BoolPtr(st.WaitForSuccess),
	}
	if st.Elevated {
		out.UserIdentity = elevatedIdentity()
	}
	if st.MaxRetryCount > 0 {
		out.MaxTaskRetryCount = to.Int32Ptr(st.MaxRetryCount)
	}
	if len(st.Environment) > 0 {
		env := envSettings(st.Environment)
		out.EnvironmentSettings = &env
	}
	if len(st.ResourceFiles) > 0 {
		rfs := resourceFiles(st.ResourceFiles)
		out.ResourceFiles = &rfs
	}
	return out
}

func elevatedIdentity() *azbatch.UserIdentity {
	return &azbatch.UserIdentity{
		AutoUser: &azbatch.AutoUserSpecification{
			Scope:          azbatch.Pool,
			ElevationLevel: azbatch.Admin,
		},
	}
}

func envSettings(in []EnvSetting) []azbatch.EnvironmentSetting {
	out := make([]azbatch.EnvironmentSetting, 0, len(in))
	for _, e := range in {
		out = append(out, azbatch.EnvironmentSetting{
			Name:  to.StringPtr(e.Name),
			Value: to.StringPtr(e.Value),
		})
	}
	return out
}

func resourceFiles(in []ResourceFile) []azbatch.ResourceFile {
	out := make([]azbatch.ResourceFile, 0, len(in))
	for _, rf := range in {
		f := azbatch.ResourceFile{
			FilePath: to.StringPtr(rf.FilePath),
			HTTPURL:  to.StringPtr(rf.URL),
		}
		if rf.FileMode != "" {
			f.FileMode = to.StringPtr(rf.FileMode)
		}
		out = append(out, f)
	}
	return out
}

// isoDuration renders a duration in the ISO-8601 form the service expects.
func isoDuration(d time.Duration) *string {
	s := fmt.Sprintf("PT%dS", int64(d.Seconds()))
	return &s
}

func isNotFound(err error) bool {
	var detailed autorest.DetailedError
	if errors.As(err, &detailed) {
		if code, ok := detailed.StatusCode.(int); ok {
			return code == http.StatusNotFound
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefI32(i *int32) int32 {
	if i == nil {
		return 0
	}
	return *i
}
