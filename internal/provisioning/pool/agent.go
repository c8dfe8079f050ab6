package pool

import (
	"context"
	"sort"
	"strings"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/platform/batch"
)

// SelectNodeAgent picks the node agent and verified image reference for a
// platform image. Candidates are matched case-insensitively on publisher,
// offer and sku; among matches, the lexicographically last sku wins, which
// tracks the newest agent for an image line.
func SelectNodeAgent(ctx context.Context, fleet batch.FleetService, img *config.PlatformImage) (batch.ImageReference, string, error) {
	agents, err := fleet.ListNodeAgents(ctx)
	if err != nil {
		return batch.ImageReference{}, "", buildErr("node agent", "failed to list node agent skus: %v", err)
	}

	type candidate struct {
		agentID string
		ref     batch.ImageReference
	}
	var candidates []candidate
	for _, agent := range agents {
		refs := append([]batch.ImageReference(nil), agent.VerifiedImages...)
		sort.Slice(refs, func(i, j int) bool { return refs[i].Sku < refs[j].Sku })
		for _, ref := range refs {
			if strings.EqualFold(ref.Publisher, img.Publisher) &&
				strings.EqualFold(ref.Offer, img.Offer) &&
				strings.EqualFold(ref.Sku, img.Sku) {
				candidates = append(candidates, candidate{agentID: agent.ID, ref: ref})
			}
		}
	}
	if len(candidates) == 0 {
		return batch.ImageReference{}, "", &ImageNotFoundError{
			Publisher: img.Publisher,
			Offer:     img.Offer,
			Sku:       img.Sku,
		}
	}

	picked := candidates[len(candidates)-1]
	picked.ref.Version = img.Version
	return picked.ref, picked.agentID, nil
}
