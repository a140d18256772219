package actionqueue

import (
	"context"
	"fmt"

	"pulsecrm/services/broadcast"
	"pulsecrm/services/trigger"
)

type pauseBroadcastExecutor struct {
	broadcasts broadcast.Store
}

func newPauseBroadcastExecutor(broadcasts broadcast.Store) Executor {
	return &pauseBroadcastExecutor{broadcasts: broadcasts}
}

func (e *pauseBroadcastExecutor) Execute(ctx context.Context, ec ExecutionContext) (Result, error) {
	raw, err := ec.Action.Decode()
	if err != nil {
		return Result{Message: "invalid pause_broadcast config"}, err
	}
	cfg := raw.(trigger.BroadcastConfig)

	if cfg.All {
		n, err := e.broadcasts.PauseAllForContact(ctx, ec.Tenant, ec.Entry.ContactID)
		if err != nil {
			return Result{}, err
		}
		return Result{Success: true, Message: fmt.Sprintf("paused %d broadcast membership(s)", n)}, nil
	}
	if cfg.BroadcastID == "" {
		return Result{Message: "no broadcast configured"}, nil
	}
	if err := e.broadcasts.PauseMember(ctx, ec.Tenant, cfg.BroadcastID, ec.Entry.ContactID); err != nil {
		return Result{Message: "contact is not a member of the broadcast"}, nil
	}
	return Result{Success: true, Message: "broadcast membership paused"}, nil
}

type unsubscribeBroadcastExecutor struct {
	broadcasts broadcast.Store
}

func newUnsubscribeBroadcastExecutor(broadcasts broadcast.Store) Executor {
	return &unsubscribeBroadcastExecutor{broadcasts: broadcasts}
}

func (e *unsubscribeBroadcastExecutor) Execute(ctx context.Context, ec ExecutionContext) (Result, error) {
	raw, err := ec.Action.Decode()
	if err != nil {
		return Result{Message: "invalid unsubscribe_broadcast config"}, err
	}
	cfg := raw.(trigger.BroadcastConfig)

	if cfg.All {
		n, err := e.broadcasts.UnsubscribeAllForContact(ctx, ec.Tenant, ec.Entry.ContactID)
		if err != nil {
			return Result{}, err
		}
		return Result{Success: true, Message: fmt.Sprintf("unsubscribed from %d broadcast(s)", n)}, nil
	}
	if cfg.BroadcastID == "" {
		return Result{Message: "no broadcast configured"}, nil
	}
	if err := e.broadcasts.UnsubscribeMember(ctx, ec.Tenant, cfg.BroadcastID, ec.Entry.ContactID); err != nil {
		return Result{Message: "contact is not a member of the broadcast"}, nil
	}
	return Result{Success: true, Message: "unsubscribed from broadcast"}, nil
}

type addToBroadcastExecutor struct {
	broadcasts broadcast.Store
}

func newAddToBroadcastExecutor(broadcasts broadcast.Store) Executor {
	return &addToBroadcastExecutor{broadcasts: broadcasts}
}

func (e *addToBroadcastExecutor) Execute(ctx context.Context, ec ExecutionContext) (Result, error) {
	raw, err := ec.Action.Decode()
	if err != nil {
		return Result{Message: "invalid add_to_broadcast config"}, err
	}
	cfg := raw.(trigger.BroadcastConfig)
	if cfg.BroadcastID == "" {
		return Result{Message: "no broadcast configured"}, nil
	}

	outcome, err := e.broadcasts.AddMember(ctx, ec.Tenant, cfg.BroadcastID, ec.Entry.ContactID)
	if err != nil {
		return Result{Message: "broadcast not found"}, nil
	}
	switch outcome {
	case broadcast.AddedDirect:
		return Result{Success: true, Message: "added to broadcast"}, nil
	case broadcast.AddedEntry:
		return Result{Success: true, Message: "queued for running broadcast"}, nil
	default:
		return Result{Success: true, Message: "already a broadcast member"}, nil
	}
}
