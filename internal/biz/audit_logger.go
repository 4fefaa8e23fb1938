package biz

import (
	"context"

	"github.com/destuar/Serplexity-sub003/internal/model"
)

// AuditLogger records circuit transitions and admin overrides.
// Record must not block the caller; implementations may drop events under load.
type AuditLogger interface {
	Record(ctx context.Context, event *model.AuditEvent)
}
