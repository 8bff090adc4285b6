package app

import (
	"context"

	"github.com/dokzlo13/huestream/internal/hue"
	"github.com/dokzlo13/huestream/internal/negotiate"
)

// BridgeAdapter joins the REST client and the state cache into the surface
// the negotiator consumes. Streaming changes invalidate the cache.
type BridgeAdapter struct {
	client *hue.Client
	cache  *hue.StateCache
}

var _ negotiate.Bridge = (*BridgeAdapter)(nil)

// NewBridgeAdapter creates a new adapter.
func NewBridgeAdapter(client *hue.Client, cache *hue.StateCache) *BridgeAdapter {
	return &BridgeAdapter{
		client: client,
		cache:  cache,
	}
}

// GroupAttributes always asks the bridge; group type and membership must be
// current when a stream is negotiated.
func (a *BridgeAdapter) GroupAttributes(ctx context.Context, groupID string) (*hue.Group, error) {
	return a.client.GroupAttributes(ctx, groupID)
}

// SetStreaming toggles streaming mode and drops cached state on success.
func (a *BridgeAdapter) SetStreaming(ctx context.Context, groupID string, enable bool) (bool, error) {
	ok, err := a.client.SetStreaming(ctx, groupID, enable)
	if err == nil && ok {
		a.cache.Invalidate()
	}
	return ok, err
}

// CachedState returns lights and groups from the cache.
func (a *BridgeAdapter) CachedState(ctx context.Context) (*hue.State, error) {
	return a.cache.CachedState(ctx)
}

// dryRunBridge stands in for a bridge when nothing is reachable. It reports a
// single entertainment group with the configured members.
type dryRunBridge struct {
	groupID string
	lights  []string
}

var _ negotiate.Bridge = (*dryRunBridge)(nil)

func (b *dryRunBridge) GroupAttributes(ctx context.Context, groupID string) (*hue.Group, error) {
	if groupID != b.groupID {
		return nil, hue.ErrGroupNotFound
	}
	return &hue.Group{
		ID:     b.groupID,
		Name:   "dry-run",
		Type:   hue.GroupTypeEntertainment,
		Lights: append([]string(nil), b.lights...),
	}, nil
}

func (b *dryRunBridge) SetStreaming(ctx context.Context, groupID string, enable bool) (bool, error) {
	return true, nil
}

func (b *dryRunBridge) CachedState(ctx context.Context) (*hue.State, error) {
	lights := make(map[string]hue.Light, len(b.lights))
	for _, id := range b.lights {
		lights[id] = hue.Light{ID: id, Name: "dry-run " + id}
	}
	return &hue.State{Lights: lights}, nil
}
