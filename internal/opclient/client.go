// Package opclient offers the privileged operations as ordinary calls,
// hiding relay mechanics from peers.
package opclient

import (
	"context"
	"fmt"

	"github.com/veldrane/eidolon/internal/executor"
	"github.com/veldrane/eidolon/internal/models"
	"github.com/veldrane/eidolon/internal/relay"
)

// Client runs on every peer. When this process's executor is the elected
// one, calls execute locally instead of round-tripping: the hub serializes
// requests through a single loop, so a relayed self-call would deadlock.
// The short-circuit is required for correctness, not just performance.
type Client struct {
	hub   *relay.Hub
	local *executor.Executor
}

// New creates a client. local may be nil on pure-peer processes.
func New(hub *relay.Hub, local *executor.Executor) *Client {
	return &Client{hub: hub, local: local}
}

// Do relays one operation by name. Transport failure (no executor elected)
// is apperr.ErrNoExecutor, distinct from any logical failure the executor
// returns.
func (c *Client) Do(ctx context.Context, op string, args ...any) (any, error) {
	req := relay.Request{Op: op, Args: args}
	if c.local != nil && c.hub.Current() == c.local.ID() {
		return c.local.Dispatch(ctx, req)
	}
	return c.hub.Do(ctx, req)
}

// EnsureContainer returns the owner's container reference, creating the
// container from the canonical template when missing.
func (c *Client) EnsureContainer(ctx context.Context, ownerID string) (string, error) {
	result, err := c.Do(ctx, relay.OpEnsureContainer, ownerID)
	if err != nil {
		return "", err
	}
	return resultString(result)
}

// CreateRecord creates a blueprint record on the owner.
func (c *Client) CreateRecord(ctx context.Context, ownerID, containerID, name, kind string) (string, error) {
	result, err := c.Do(ctx, relay.OpCreateRecord, ownerID, containerID, name, kind)
	if err != nil {
		return "", err
	}
	return resultString(result)
}

// Fabricate clones a blueprint onto the target, consuming one pool unit.
func (c *Client) Fabricate(ctx context.Context, ownerID, targetID, blueprintID, containerID string, category models.Category) error {
	_, err := c.Do(ctx, relay.OpFabricate, ownerID, targetID, blueprintID, containerID, int(category))
	return err
}

// Recall deletes a derived record when the presented container matches its
// origin back-reference.
func (c *Client) Recall(ctx context.Context, recordID, containerID string) (bool, error) {
	result, err := c.Do(ctx, relay.OpRecall, recordID, containerID)
	if err != nil {
		return false, err
	}
	ok, valid := result.(bool)
	if !valid {
		return false, fmt.Errorf("opclient: recall: unexpected result %T", result)
	}
	return ok, nil
}

// SetFlag overwrites one flag entry on a record.
func (c *Client) SetFlag(ctx context.Context, recordID, key string, value any) error {
	_, err := c.Do(ctx, relay.OpSetFlag, recordID, key, value)
	return err
}

// AssignCategory runs the category assignment workflow on the executor.
func (c *Client) AssignCategory(ctx context.Context, containerID, recordID string, value any) error {
	_, err := c.Do(ctx, relay.OpAssignCategory, containerID, recordID, value)
	return err
}

// Mirror upserts the catalog read-view copy of a source record.
func (c *Client) Mirror(ctx context.Context, snapshot models.Snapshot, sourceRef string, category models.Category) error {
	_, err := c.Do(ctx, relay.OpMirror, snapshot, sourceRef, int(category))
	return err
}

// Notify posts a message to the privileged notices stream.
func (c *Client) Notify(ctx context.Context, message string) error {
	_, err := c.Do(ctx, relay.OpNotify, message)
	return err
}

func resultString(result any) (string, error) {
	s, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("opclient: unexpected result %T", result)
	}
	return s, nil
}
