// Package executor implements the single process authorized to mutate the
// record store. Every privileged operation lives here; peers reach it only
// through the relay hub (or the operation client's local short-circuit).
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/veldrane/eidolon/internal/apperr"
	"github.com/veldrane/eidolon/internal/catalog"
	"github.com/veldrane/eidolon/internal/models"
	"github.com/veldrane/eidolon/internal/notices"
	"github.com/veldrane/eidolon/internal/relay"
	"github.com/veldrane/eidolon/internal/store"
)

// Executor handles privileged operations against the record store and
// drives the catalog synchronizer and notices broker as side effects.
type Executor struct {
	id           string
	store        store.Store
	mirrors      *catalog.Synchronizer
	notices      *notices.Broker
	logger       *slog.Logger
	templateName string
}

// New creates an executor. templateName is the well-known name of the
// canonical container template record.
func New(st store.Store, mirrors *catalog.Synchronizer, broker *notices.Broker, logger *slog.Logger, templateName string) *Executor {
	return &Executor{
		id:           uuid.NewString(),
		store:        st,
		mirrors:      mirrors,
		notices:      broker,
		logger:       logger,
		templateName: templateName,
	}
}

// ID implements relay.Executor.
func (e *Executor) ID() string {
	return e.id
}

// Dispatch implements relay.Executor: it decodes the positional argument
// list and runs the named operation to completion. Unknown operation names
// fail with apperr.ErrUnknownOp.
func (e *Executor) Dispatch(ctx context.Context, req relay.Request) (any, error) {
	switch req.Op {
	case relay.OpEnsureContainer:
		ownerID, err := argString(req.Args, 0)
		if err != nil {
			return nil, err
		}
		return e.EnsureContainer(ctx, ownerID)

	case relay.OpCreateRecord:
		ownerID, err := argString(req.Args, 0)
		if err != nil {
			return nil, err
		}
		containerID, err := argString(req.Args, 1)
		if err != nil {
			return nil, err
		}
		name, err := argString(req.Args, 2)
		if err != nil {
			return nil, err
		}
		kind, err := argString(req.Args, 3)
		if err != nil {
			return nil, err
		}
		return e.CreateRecord(ctx, ownerID, containerID, name, kind)

	case relay.OpFabricate:
		var p FabricateParams
		var err error
		if p.OwnerID, err = argString(req.Args, 0); err != nil {
			return nil, err
		}
		if p.TargetID, err = argString(req.Args, 1); err != nil {
			return nil, err
		}
		if p.BlueprintID, err = argString(req.Args, 2); err != nil {
			return nil, err
		}
		if p.ContainerID, err = argString(req.Args, 3); err != nil {
			return nil, err
		}
		if p.Category, err = argCategory(req.Args, 4); err != nil {
			return nil, err
		}
		return nil, e.Fabricate(ctx, p)

	case relay.OpRecall:
		recordID, err := argString(req.Args, 0)
		if err != nil {
			return nil, err
		}
		containerID, err := argString(req.Args, 1)
		if err != nil {
			return nil, err
		}
		return e.Recall(ctx, recordID, containerID)

	case relay.OpSetFlag:
		recordID, err := argString(req.Args, 0)
		if err != nil {
			return nil, err
		}
		key, err := argString(req.Args, 1)
		if err != nil {
			return nil, err
		}
		value, err := arg(req.Args, 2)
		if err != nil {
			return nil, err
		}
		return nil, e.SetFlag(ctx, recordID, key, value)

	case relay.OpAssignCategory:
		containerID, err := argString(req.Args, 0)
		if err != nil {
			return nil, err
		}
		recordID, err := argString(req.Args, 1)
		if err != nil {
			return nil, err
		}
		value, err := arg(req.Args, 2)
		if err != nil {
			return nil, err
		}
		return nil, e.AssignCategory(ctx, containerID, recordID, value)

	case relay.OpMirror:
		snapshot, err := argSnapshot(req.Args, 0)
		if err != nil {
			return nil, err
		}
		sourceRef, err := argString(req.Args, 1)
		if err != nil {
			return nil, err
		}
		category, err := argCategory(req.Args, 2)
		if err != nil {
			return nil, err
		}
		return nil, e.Mirror(ctx, snapshot, sourceRef, category)

	case relay.OpNotify:
		message, err := argString(req.Args, 0)
		if err != nil {
			return nil, err
		}
		return nil, e.Notify(ctx, message)

	default:
		return nil, fmt.Errorf("%w: %q", apperr.ErrUnknownOp, req.Op)
	}
}

func arg(args []any, i int) (any, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("executor: missing argument %d", i)
	}
	return args[i], nil
}

func argString(args []any, i int) (string, error) {
	v, err := arg(args, i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("executor: argument %d: want string, got %T", i, v)
	}
	return s, nil
}

// argCategory accepts the loose category forms of the assignment workflow:
// nil, "", "0", and numeric zero all mean uncategorized.
func argCategory(args []any, i int) (models.Category, error) {
	v, err := arg(args, i)
	if err != nil {
		return 0, err
	}
	return models.ParseCategory(v)
}

// argSnapshot accepts a typed snapshot from local callers or a JSON-decoded
// map from the HTTP transport.
func argSnapshot(args []any, i int) (models.Snapshot, error) {
	v, err := arg(args, i)
	if err != nil {
		return models.Snapshot{}, err
	}
	switch x := v.(type) {
	case models.Snapshot:
		return x, nil
	case map[string]any:
		raw, err := json.Marshal(x)
		if err != nil {
			return models.Snapshot{}, fmt.Errorf("executor: encode snapshot: %w", err)
		}
		var s models.Snapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			return models.Snapshot{}, fmt.Errorf("executor: decode snapshot: %w", err)
		}
		return s, nil
	default:
		return models.Snapshot{}, fmt.Errorf("executor: argument %d: want snapshot, got %T", i, v)
	}
}

func newID() string {
	return uuid.NewString()
}
