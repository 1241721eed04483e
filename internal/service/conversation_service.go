package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/millatvt/millat-backend/internal/apperr"
	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/repository"
)

const maxMessageLength = 4000

type ConversationView struct {
	domain.Conversation
	Participants      []domain.Principal `json:"participants"`
	LastReadMessageID uint               `json:"lastReadMessageId"`
	Message           *domain.Message    `json:"message,omitempty"`
}

func newConversationView(c *domain.Conversation) ConversationView {
	return ConversationView{Conversation: *c, Participants: c.Participants()}
}

type CreateConversationInput struct {
	CounterpartKind domain.PrincipalKind
	CounterpartID   uint
	Message         string
}

type ReadReceipt struct {
	ConversationID uint      `json:"conversationId"`
	MessageIDs     []uint    `json:"messageIds"`
	ReadAt         time.Time `json:"readAt"`
	LastReadID     uint      `json:"lastReadMessageId"`
}

type ConversationService struct {
	repo       repository.ConversationRepository
	principals repository.PrincipalRepository
	notifier   RealtimeNotifier
	now        func() time.Time
}

func NewConversationService(repo repository.ConversationRepository, principals repository.PrincipalRepository, notifier RealtimeNotifier) *ConversationService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &ConversationService{
		repo:       repo,
		principals: principals,
		notifier:   notifier,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *ConversationService) List(ctx context.Context, p domain.Principal) ([]ConversationView, error) {
	list, err := s.repo.ListForPrincipal(ctx, p)
	if err != nil {
		return nil, apperr.Internal(err, "list conversations")
	}
	ids := make([]uint, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	marks, err := s.repo.ReadWatermarks(ctx, p, ids)
	if err != nil {
		return nil, apperr.Internal(err, "load read state")
	}
	out := make([]ConversationView, 0, len(list))
	for i := range list {
		view := newConversationView(&list[i])
		view.LastReadMessageID = marks[list[i].ID]
		out = append(out, view)
	}
	return out, nil
}

// Create returns the existing conversation for the pair when there is one.
// The boolean reports whether a new conversation was stored. An initial
// message is kept either way: on an existing conversation it is appended and
// broadcast like Send.
func (s *ConversationService) Create(ctx context.Context, p domain.Principal, in CreateConversationInput) (ConversationView, bool, error) {
	counterpart := domain.Principal{ID: in.CounterpartID, Kind: in.CounterpartKind}
	if !counterpart.Kind.Valid() || counterpart.Kind == p.Kind {
		return ConversationView{}, false, apperr.Validation("Validation failed", map[string]string{"participantType": "must be a different principal kind"})
	}
	var first *domain.Message
	if strings.TrimSpace(in.Message) != "" {
		content, err := normalizeContent(in.Message)
		if err != nil {
			return ConversationView{}, false, err
		}
		first = &domain.Message{SenderID: p.ID, SenderKind: p.Kind, Content: content, CreatedAt: s.now()}
	}
	acct, err := s.principals.FindByID(ctx, counterpart.Kind, counterpart.ID)
	if err != nil {
		if errors.Is(err, repository.ErrPrincipalNotFound) {
			return ConversationView{}, false, apperr.NotFound("Participant not found")
		}
		return ConversationView{}, false, apperr.Internal(err, "load participant")
	}
	if !acct.Active {
		return ConversationView{}, false, apperr.Forbidden("Participant is banned or deactivated")
	}

	conv, err := domain.NewConversation(p, counterpart)
	if err != nil {
		return ConversationView{}, false, apperr.Validation(err.Error(), nil)
	}
	stored, created, err := s.repo.CreateWithMessage(ctx, conv, first)
	if err != nil {
		return ConversationView{}, false, apperr.Internal(err, "create conversation")
	}
	if !created && first != nil {
		first.ConversationID = stored.ID
		if err := s.repo.AppendMessage(ctx, first); err != nil {
			return ConversationView{}, false, apperr.Internal(err, "store message")
		}
		stored.LastMessageAt = &first.CreatedAt
		s.notifier.BroadcastMessage(ctx, stored.ID, first)
	}
	view := newConversationView(stored)
	view.Message = first
	if created {
		s.notifier.NotifyNewConversation(ctx, counterpart, view)
	}
	return view, created, nil
}

func (s *ConversationService) Messages(ctx context.Context, p domain.Principal, conversationID uint, page repository.PageRequest) (repository.PageResult[domain.Message], error) {
	if err := s.requireParticipant(ctx, p, conversationID); err != nil {
		return repository.PageResult[domain.Message]{}, err
	}
	res, err := s.repo.ListMessages(ctx, conversationID, page)
	if err != nil {
		return res, apperr.Internal(err, "list messages")
	}
	return res, nil
}

// Send persists the message and bumps conversation activity in one
// transaction, then fans it out to the conversation room.
func (s *ConversationService) Send(ctx context.Context, p domain.Principal, conversationID uint, content string) (*domain.Message, error) {
	content, err := normalizeContent(content)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, p, conversationID); err != nil {
		return nil, err
	}
	msg := &domain.Message{
		ConversationID: conversationID,
		SenderID:       p.ID,
		SenderKind:     p.Kind,
		Content:        content,
		CreatedAt:      s.now(),
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, apperr.NotFound("Conversation not found")
		}
		return nil, apperr.Internal(err, "store message")
	}
	s.notifier.BroadcastMessage(ctx, conversationID, msg)
	return msg, nil
}

// MarkRead records the caller's read watermark and relays the receipt.
// Ids that do not belong to the conversation are ignored.
func (s *ConversationService) MarkRead(ctx context.Context, p domain.Principal, conversationID uint, messageIDs []uint) (ReadReceipt, error) {
	if len(messageIDs) == 0 {
		return ReadReceipt{}, apperr.Validation("Validation failed", map[string]string{"messageIds": "must not be empty"})
	}
	if err := s.requireParticipant(ctx, p, conversationID); err != nil {
		return ReadReceipt{}, err
	}
	valid, err := s.repo.FilterMessageIDs(ctx, conversationID, messageIDs)
	if err != nil {
		return ReadReceipt{}, apperr.Internal(err, "check message ids")
	}
	if len(valid) == 0 {
		return ReadReceipt{}, apperr.Validation("Validation failed", map[string]string{"messageIds": "no messages of this conversation"})
	}
	readAt := s.now()
	st, err := s.repo.AdvanceReadState(ctx, &domain.ConversationReadState{
		ConversationID:    conversationID,
		PrincipalID:       p.ID,
		PrincipalKind:     p.Kind,
		LastReadMessageID: valid[len(valid)-1],
		ReadAt:            readAt,
	})
	if err != nil {
		return ReadReceipt{}, apperr.Internal(err, "store read state")
	}
	s.notifier.BroadcastMessagesRead(ctx, conversationID, p, valid, readAt)
	return ReadReceipt{ConversationID: conversationID, MessageIDs: valid, ReadAt: readAt, LastReadID: st.LastReadMessageID}, nil
}

func (s *ConversationService) IsParticipant(ctx context.Context, p domain.Principal, conversationID uint) (bool, error) {
	return s.repo.IsParticipant(ctx, p, conversationID)
}

func (s *ConversationService) requireParticipant(ctx context.Context, p domain.Principal, conversationID uint) error {
	ok, err := s.repo.IsParticipant(ctx, p, conversationID)
	if err != nil {
		return apperr.Internal(err, "check participant")
	}
	if !ok {
		return apperr.NotFound("Conversation not found")
	}
	return nil
}

func normalizeContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", apperr.Validation("Validation failed", map[string]string{"content": "must not be empty"})
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return "", apperr.Validation("Validation failed", map[string]string{"content": "must be at most 4000 characters"})
	}
	return content, nil
}
