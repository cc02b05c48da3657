package contracts

import (
	"context"

	"parley/internal/core/domain"
)

// MessageProcessor turns one inbound client message into a reply.
type MessageProcessor interface {
	Process(ctx context.Context, clientID, content string) (domain.Reply, error)
}
