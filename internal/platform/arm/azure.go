package arm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/compute/mgmt/2019-07-01/compute"
	"github.com/Azure/azure-sdk-for-go/services/network/mgmt/2018-06-01/network"
	"github.com/Azure/go-autorest/autorest"
	"github.com/Azure/go-autorest/autorest/azure/auth"
	"github.com/Azure/go-autorest/autorest/to"
)

// AzureCredentials configures the AAD service principal for management
// plane access. The subscription may differ from the batch account's when a
// remote storage cluster lives elsewhere.
type AzureCredentials struct {
	TenantID       string
	ApplicationID  string
	AuthKey        string
	SubscriptionID string
}

// AzureDirectory implements ComputeDirectory and NetworkDirectory against
// Azure Resource Manager.
type AzureDirectory struct {
	vms     compute.VirtualMachinesClient
	nics    network.InterfacesClient
	vnets   network.VirtualNetworksClient
	subnets network.SubnetsClient
}

// NewAzureDirectory authenticates against ARM for one subscription.
func NewAzureDirectory(creds AzureCredentials) (*AzureDirectory, error) {
	cfg := auth.NewClientCredentialsConfig(creds.ApplicationID, creds.AuthKey, creds.TenantID)
	authorizer, err := cfg.Authorizer()
	if err != nil {
		return nil, fmt.Errorf("failed to build management authorizer: %w", err)
	}
	d := &AzureDirectory{
		vms:     compute.NewVirtualMachinesClient(creds.SubscriptionID),
		nics:    network.NewInterfacesClient(creds.SubscriptionID),
		vnets:   network.NewVirtualNetworksClient(creds.SubscriptionID),
		subnets: network.NewSubnetsClient(creds.SubscriptionID),
	}
	d.vms.Authorizer = authorizer
	d.nics.Authorizer = authorizer
	d.vnets.Authorizer = authorizer
	d.subnets.Authorizer = authorizer
	return d, nil
}

// GetInstance fetches a VM with its instance view and resolves the primary
// NIC's private IP.
func (d *AzureDirectory) GetInstance(ctx context.Context, resourceGroup, name string) (*Instance, error) {
	vm, err := d.vms.Get(ctx, resourceGroup, name, compute.InstanceView)
	if err != nil {
		return nil, fmt.Errorf("failed to get vm %s: %w", name, err)
	}
	inst := &Instance{Name: name}
	if vm.VirtualMachineProperties == nil {
		return nil, fmt.Errorf("vm %s has no properties", name)
	}
	if iv := vm.VirtualMachineProperties.InstanceView; iv != nil {
		if iv.PlatformFaultDomain != nil {
			inst.FaultDomain = *iv.PlatformFaultDomain
		}
		if iv.PlatformUpdateDomain != nil {
			inst.UpdateDomain = *iv.PlatformUpdateDomain
		}
	}
	np := vm.VirtualMachineProperties.NetworkProfile
	if np == nil || np.NetworkInterfaces == nil || len(*np.NetworkInterfaces) == 0 {
		return nil, fmt.Errorf("vm %s has no network interfaces", name)
	}
	nicID := *(*np.NetworkInterfaces)[0].ID
	nicName := nicID[strings.LastIndex(nicID, "/")+1:]
	nic, err := d.nics.Get(ctx, resourceGroup, nicName, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get nic %s for vm %s: %w", nicName, name, err)
	}
	if nic.InterfacePropertiesFormat != nil && nic.InterfacePropertiesFormat.IPConfigurations != nil {
		for _, ipc := range *nic.InterfacePropertiesFormat.IPConfigurations {
			if ipc.InterfaceIPConfigurationPropertiesFormat == nil {
				continue
			}
			if ip := ipc.InterfaceIPConfigurationPropertiesFormat.PrivateIPAddress; ip != nil {
				inst.PrivateIP = *ip
				break
			}
		}
	}
	if inst.PrivateIP == "" {
		return nil, fmt.Errorf("vm %s has no private ip address", name)
	}
	return inst, nil
}

// GetSubnet looks up an existing subnet. A missing subnet or virtual
// network is not an error.
func (d *AzureDirectory) GetSubnet(ctx context.Context, resourceGroup, vnetName, subnetName string) (*Subnet, error) {
	sn, err := d.subnets.Get(ctx, resourceGroup, vnetName, subnetName, "")
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subnet %s/%s: %w", vnetName, subnetName, err)
	}
	out := &Subnet{ID: toVal(sn.ID)}
	if sn.SubnetPropertiesFormat != nil {
		out.AddressPrefix = toVal(sn.SubnetPropertiesFormat.AddressPrefix)
	}
	return out, nil
}

// EnsureVirtualNetwork creates the virtual network and its subnet, waiting
// for both to provision.
func (d *AzureDirectory) EnsureVirtualNetwork(ctx context.Context, spec VirtualNetworkSpec) (*Subnet, error) {
	vnetParams := network.VirtualNetwork{
		Location: to.StringPtr(spec.Location),
		VirtualNetworkPropertiesFormat: &network.VirtualNetworkPropertiesFormat{
			AddressSpace: &network.AddressSpace{
				AddressPrefixes: &[]string{spec.AddressPrefix},
			},
		},
	}
	vnetFuture, err := d.vnets.CreateOrUpdate(ctx, spec.ResourceGroup, spec.Name, vnetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual network %s: %w", spec.Name, err)
	}
	if err := vnetFuture.WaitForCompletionRef(ctx, d.vnets.Client); err != nil {
		return nil, fmt.Errorf("failed waiting for virtual network %s: %w", spec.Name, err)
	}
	subnetParams := network.Subnet{
		SubnetPropertiesFormat: &network.SubnetPropertiesFormat{
			AddressPrefix: to.StringPtr(spec.SubnetPrefix),
		},
	}
	snFuture, err := d.subnets.CreateOrUpdate(ctx, spec.ResourceGroup, spec.Name, spec.SubnetName, subnetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create subnet %s/%s: %w", spec.Name, spec.SubnetName, err)
	}
	if err := snFuture.WaitForCompletionRef(ctx, d.subnets.Client); err != nil {
		return nil, fmt.Errorf("failed waiting for subnet %s/%s: %w", spec.Name, spec.SubnetName, err)
	}
	sn, err := snFuture.Result(d.subnets)
	if err != nil {
		return nil, fmt.Errorf("failed to read created subnet %s/%s: %w", spec.Name, spec.SubnetName, err)
	}
	out := &Subnet{ID: toVal(sn.ID)}
	if sn.SubnetPropertiesFormat != nil {
		out.AddressPrefix = toVal(sn.SubnetPropertiesFormat.AddressPrefix)
	}
	return out, nil
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

func toVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
