package arm

import "context"

// MockDirectory is a mock implementation of ComputeDirectory and
// NetworkDirectory.
type MockDirectory struct {
	GetInstanceFunc          func(ctx context.Context, resourceGroup, name string) (*Instance, error)
	GetSubnetFunc            func(ctx context.Context, resourceGroup, vnetName, subnetName string) (*Subnet, error)
	EnsureVirtualNetworkFunc func(ctx context.Context, spec VirtualNetworkSpec) (*Subnet, error)
}

// Ensure interface compliance
var (
	_ ComputeDirectory = (*MockDirectory)(nil)
	_ NetworkDirectory = (*MockDirectory)(nil)
)

// GetInstance mocks VM lookup.
func (m *MockDirectory) GetInstance(ctx context.Context, resourceGroup, name string) (*Instance, error) {
	if m.GetInstanceFunc != nil {
		return m.GetInstanceFunc(ctx, resourceGroup, name)
	}
	return &Instance{Name: name, PrivateIP: "10.0.0.4"}, nil
}

// GetSubnet mocks subnet lookup.
func (m *MockDirectory) GetSubnet(ctx context.Context, resourceGroup, vnetName, subnetName string) (*Subnet, error) {
	if m.GetSubnetFunc != nil {
		return m.GetSubnetFunc(ctx, resourceGroup, vnetName, subnetName)
	}
	return nil, nil
}

// EnsureVirtualNetwork mocks network creation.
func (m *MockDirectory) EnsureVirtualNetwork(ctx context.Context, spec VirtualNetworkSpec) (*Subnet, error) {
	if m.EnsureVirtualNetworkFunc != nil {
		return m.EnsureVirtualNetworkFunc(ctx, spec)
	}
	return &Subnet{
		ID:            "/subscriptions/sub/resourceGroups/" + spec.ResourceGroup + "/providers/Microsoft.Network/virtualNetworks/" + spec.Name + "/subnets/" + spec.SubnetName,
		AddressPrefix: spec.SubnetPrefix,
	}, nil
}
