// Package arm provides the capability contracts over the Azure management
// plane: virtual machine lookup for storage cluster fleets and virtual
// network/subnet handling for pool networking.
package arm

import "context"

// Instance is the management-plane view of one virtual machine.
type Instance struct {
	Name         string
	PrivateIP    string
	FaultDomain  int32
	UpdateDomain int32
}

// Subnet is an existing subnet with its address prefix.
type Subnet struct {
	ID            string
	AddressPrefix string
}

// VirtualNetworkSpec describes a virtual network and subnet to create when
// the pool requests one that does not exist yet.
type VirtualNetworkSpec struct {
	ResourceGroup string
	Location      string
	Name          string
	AddressPrefix string
	SubnetName    string
	SubnetPrefix  string
}

// ComputeDirectory resolves virtual machines backing remote storage
// clusters.
type ComputeDirectory interface {
	// GetInstance returns the VM with its primary private IP and its
	// placement domains from the instance view.
	GetInstance(ctx context.Context, resourceGroup, name string) (*Instance, error)
}

// NetworkDirectory resolves and creates virtual networks and subnets.
type NetworkDirectory interface {
	// GetSubnet returns the subnet, or a nil subnet with nil error when it
	// does not exist.
	GetSubnet(ctx context.Context, resourceGroup, vnetName, subnetName string) (*Subnet, error)
	// EnsureVirtualNetwork creates the virtual network and subnet described
	// by spec and returns the resulting subnet.
	EnsureVirtualNetwork(ctx context.Context, spec VirtualNetworkSpec) (*Subnet, error)
}
