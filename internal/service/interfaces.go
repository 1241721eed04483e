package service

import (
	"context"
	"time"

	"github.com/millatvt/millat-backend/internal/domain"
)

// RealtimeNotifier pushes persisted changes to connected clients. Calls are
// fire-and-forget; delivery failures never fail the originating request.
type RealtimeNotifier interface {
	BroadcastMessage(ctx context.Context, conversationID uint, message any)
	NotifyNewConversation(ctx context.Context, recipient domain.Principal, conversation any)
	BroadcastMessagesRead(ctx context.Context, conversationID uint, reader domain.Principal, messageIDs []uint, readAt time.Time)
}

type NoopNotifier struct{}

func (NoopNotifier) BroadcastMessage(context.Context, uint, any)                 {}
func (NoopNotifier) NotifyNewConversation(context.Context, domain.Principal, any) {}
func (NoopNotifier) BroadcastMessagesRead(context.Context, uint, domain.Principal, []uint, time.Time) {
}

type PrincipalInvalidator interface {
	Invalidate(ctx context.Context, p domain.Principal) error
}
