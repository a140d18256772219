package broadcast

import (
	"context"
	"encoding/json"

	"pulsecrm/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// EntryFlushPayload asks the worker to drain parked entries for a broadcast
// that has finished or paused its send.
type EntryFlushPayload struct {
	BroadcastID string `json:"broadcast_id"`
}

func NewEntryFlushTask(p EntryFlushPayload) (*asynq.Task, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.BroadcastEntryFlush, raw), nil
}

// HandleEntryFlush returns the asynq handler for entry-flush tasks. The send
// pipeline enqueues one whenever a broadcast leaves the running state.
func HandleEntryFlush(store Store) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p EntryFlushPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return err
		}

		n, err := store.FlushEntries(ctx, p.BroadcastID)
		if err != nil {
			zap.L().Error("[Broadcast] entry flush failed",
				zap.String("broadcast_id", p.BroadcastID),
				zap.Error(err))
			return err
		}
		if n > 0 {
			zap.L().Info("[Broadcast] flushed parked entries",
				zap.String("broadcast_id", p.BroadcastID),
				zap.Int64("count", n))
		}
		return nil
	}
}
