// Package subnet resolves or creates the fleet's virtual network subnet and
// validates that its address space can hold the requested node count.
package subnet

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/platform/arm"
	"github.com/skiffhq/skiff/internal/provisioning"
)

// Azure reserves 5 addresses per subnet (network, broadcast, gateway, two
// DNS relays).
const reservedAddresses = 5

// softLimitRatio is the load factor above which the planner asks for
// operator confirmation before proceeding.
const softLimitRatio = 0.9

// NetworkError reports a subnet resolution or address-space problem.
type NetworkError struct {
	Subnet  string
	Message string
}

func (e *NetworkError) Error() string {
	if e.Subnet == "" {
		return fmt.Sprintf("network: %s", e.Message)
	}
	return fmt.Sprintf("network: subnet %s: %s", e.Subnet, e.Message)
}

func netErr(subnet, format string, args ...interface{}) *NetworkError {
	return &NetworkError{Subnet: subnet, Message: fmt.Sprintf(format, args...)}
}

// Plan is the resolved subnet with its computed capacity.
type Plan struct {
	SubnetID           string
	AddressPrefix      string
	Mask               int
	AllowableAddresses int
}

// Planner resolves the fleet subnet through a network directory.
type Planner struct {
	Network  arm.NetworkDirectory
	Observer provisioning.Observer

	// Confirm gates plans inside the soft tolerance band. Nil declines.
	Confirm func(prompt string) bool
}

// NewPlanner creates a planner over the given directory.
func NewPlanner(network arm.NetworkDirectory, observer provisioning.Observer) *Planner {
	return &Planner{Network: network, Observer: observer}
}

// Plan resolves the configured subnet and checks its address space against
// the fleet's target node count. A nil plan with nil error means the fleet
// requested no virtual network.
func (p *Planner) Plan(ctx context.Context, cfg *config.Config) (*Plan, error) {
	vnet := cfg.Fleet.VirtualNetwork
	if !vnet.Requested() {
		return nil, nil
	}
	if !cfg.HasAAD() {
		return nil, netErr("", "virtual network configuration requires aad credentials")
	}

	var (
		subnetID string
		prefix   string
		err      error
	)
	if vnet.SubnetID != "" {
		subnetID = vnet.SubnetID
		prefix, err = p.resolveExisting(ctx, vnet.SubnetID)
	} else {
		subnetID, prefix, err = p.create(ctx, cfg, vnet)
	}
	if err != nil {
		return nil, err
	}

	mask, err := parseMask(prefix)
	if err != nil {
		return nil, netErr(subnetID, "invalid address prefix %q: %v", prefix, err)
	}
	allowable := allowableAddresses(mask)

	total := int(cfg.Fleet.VMCount.Total())
	if allowable < total {
		return nil, netErr(subnetID,
			"subnet address space of %d addresses cannot hold %d nodes", allowable, total)
	}
	if float64(total) >= softLimitRatio*float64(allowable) {
		prompt := fmt.Sprintf(
			"subnet %s has %d allowable addresses for %d nodes; continue?",
			subnetID, allowable, total)
		if p.Confirm == nil || !p.Confirm(prompt) {
			return nil, netErr(subnetID,
				"%d nodes approach the %d-address capacity and the operator declined to proceed",
				total, allowable)
		}
		provisioning.LogWarning(p.Observer, "subnet",
			fmt.Sprintf("proceeding with %d nodes in a %d-address subnet", total, allowable))
	}

	return &Plan{
		SubnetID:           subnetID,
		AddressPrefix:      prefix,
		Mask:               mask,
		AllowableAddresses: allowable,
	}, nil
}

// resolveExisting fetches the address prefix of a subnet referenced by its
// full ARM resource id.
func (p *Planner) resolveExisting(ctx context.Context, subnetID string) (string, error) {
	sid, err := ParseID(subnetID)
	if err != nil {
		return "", netErr(subnetID, "%v", err)
	}
	sn, err := p.Network.GetSubnet(ctx, sid.ResourceGroup, sid.VirtualNetwork, sid.Subnet)
	if err != nil {
		return "", netErr(subnetID, "lookup failed: %v", err)
	}
	if sn == nil {
		return "", netErr(subnetID, "subnet does not exist")
	}
	return sn.AddressPrefix, nil
}

// create provisions the virtual network and subnet named by the fleet
// configuration.
func (p *Planner) create(ctx context.Context, cfg *config.Config, vnet *config.VirtualNetworkSpec) (string, string, error) {
	if vnet.ResourceGroup == "" || vnet.AddressPrefix == "" || vnet.SubnetName == "" || vnet.SubnetPrefix == "" {
		return "", "", netErr(vnet.Name,
			"creating a virtual network requires resource_group, address_prefix, subnet_name and subnet_prefix")
	}
	spec := arm.VirtualNetworkSpec{
		ResourceGroup: vnet.ResourceGroup,
		Location:      cfg.Credentials.Batch.Location,
		Name:          vnet.Name,
		AddressPrefix: vnet.AddressPrefix,
		SubnetName:    vnet.SubnetName,
		SubnetPrefix:  vnet.SubnetPrefix,
	}
	sn, err := p.Network.EnsureVirtualNetwork(ctx, spec)
	if err != nil {
		return "", "", netErr(vnet.Name, "creation failed: %v", err)
	}
	p.Observer.Printf("created virtual network %s with subnet %s", vnet.Name, vnet.SubnetName)
	return sn.ID, sn.AddressPrefix, nil
}

// ID is a decomposed ARM subnet resource id.
type ID struct {
	Subscription   string
	ResourceGroup  string
	VirtualNetwork string
	Subnet         string
}

// ParseID splits a full ARM subnet resource id into its components.
func ParseID(id string) (ID, error) {
	// /subscriptions/<sub>/resourceGroups/<rg>/providers/Microsoft.Network
	// /virtualNetworks/<vnet>/subnets/<subnet>
	parts := strings.Split(id, "/")
	if len(parts) != 11 || parts[0] != "" {
		return ID{}, fmt.Errorf("malformed subnet resource id %q", id)
	}
	if !strings.EqualFold(parts[1], "subscriptions") ||
		!strings.EqualFold(parts[3], "resourceGroups") ||
		!strings.EqualFold(parts[7], "virtualNetworks") ||
		!strings.EqualFold(parts[9], "subnets") {
		return ID{}, fmt.Errorf("malformed subnet resource id %q", id)
	}
	return ID{
		Subscription:   parts[2],
		ResourceGroup:  parts[4],
		VirtualNetwork: parts[8],
		Subnet:         parts[10],
	}, nil
}

// allowableAddresses is the usable address count for a CIDR mask after the
// cloud's reserved addresses.
func allowableAddresses(mask int) int {
	return 1<<(32-mask) - reservedAddresses
}

func parseMask(prefix string) (int, error) {
	idx := strings.LastIndex(prefix, "/")
	if idx < 0 {
		return 0, fmt.Errorf("missing cidr mask")
	}
	mask, err := strconv.Atoi(prefix[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("non-numeric cidr mask")
	}
	if mask < 0 || mask > 32 {
		return 0, fmt.Errorf("cidr mask %d out of range", mask)
	}
	return mask, nil
}
