// Package provisioning holds the shared context, state, and observability
// surface for fleet lifecycle phases.
package provisioning

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/platform/arm"
	"github.com/skiffhq/skiff/internal/platform/batch"
	"github.com/skiffhq/skiff/internal/platform/blob"
)

// State holds the shared results of fleet lifecycle phases.
// It is progressively populated as each phase completes and is passed
// to subsequent phases that need earlier results.
type State struct {
	// Subnet planning results
	SubnetID string
	Warnings []string

	// Mount planning results
	FstabMounts   []string
	VolumeArgs    []string
	GlusterVolume string

	// Pool build results
	NodeAgentID string
	PoolCreated bool

	// Coordination results (nodeName -> observed marker state)
	VerifiedNodes []string
}

// NewState creates an empty lifecycle state.
func NewState() *State {
	return &State{}
}

// Context wraps all dependencies and state needed for a lifecycle phase.
type Context struct {
	context.Context
	Config   *config.Config
	State    *State
	Fleet    batch.FleetService
	Network  arm.NetworkDirectory
	Compute  arm.ComputeDirectory
	Storage  blob.Store
	Observer Observer

	// Confirm asks the operator a yes/no question. Nil means every
	// prompt is declined.
	Confirm func(prompt string) bool
}

// NewContext creates a new lifecycle context with a logrus-backed observer.
func NewContext(
	ctx context.Context,
	cfg *config.Config,
	fleet batch.FleetService,
	network arm.NetworkDirectory,
	compute arm.ComputeDirectory,
	storage blob.Store,
) *Context {
	return &Context{
		Context:  ctx,
		Config:   cfg,
		State:    NewState(),
		Fleet:    fleet,
		Network:  network,
		Compute:  compute,
		Storage:  storage,
		Observer: NewLogrusObserver(logrus.StandardLogger()),
	}
}
