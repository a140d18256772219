package actionqueue

import (
	"context"
	"fmt"
	"strings"

	"pulsecrm/services/tag"
	"pulsecrm/services/trigger"
)

type addTagExecutor struct {
	tags tag.Store
}

func newAddTagExecutor(tags tag.Store) Executor {
	return &addTagExecutor{tags: tags}
}

// Execute attaches every configured tag that still exists for the tenant.
// Tags deleted since the rule was written are skipped; the action fails only
// when none of the configured tags remain valid.
func (e *addTagExecutor) Execute(ctx context.Context, ec ExecutionContext) (Result, error) {
	raw, err := ec.Action.Decode()
	if err != nil {
		return Result{Message: "invalid add_tag config"}, err
	}
	cfg := raw.(trigger.AddTagConfig)
	if len(cfg.TagIDs) == 0 {
		return Result{Message: "no tags configured"}, nil
	}

	var attached, skipped []string
	for _, tagID := range cfg.TagIDs {
		ok, err := e.tags.Exists(ctx, ec.Tenant, tagID)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			skipped = append(skipped, tagID)
			continue
		}
		if err := e.tags.Attach(ctx, ec.Entry.ContactID, tagID); err != nil {
			return Result{}, err
		}
		attached = append(attached, tagID)
	}

	if len(attached) == 0 {
		return Result{Message: "no valid tags"}, nil
	}
	msg := fmt.Sprintf("attached %d tag(s)", len(attached))
	if len(skipped) > 0 {
		msg += fmt.Sprintf(", skipped missing: %s", strings.Join(skipped, ", "))
	}
	return Result{Success: true, Message: msg}, nil
}
