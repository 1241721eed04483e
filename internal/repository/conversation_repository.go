package repository

import (
	"context"
	"errors"
	"time"

	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationRepository interface {
	ListForPrincipal(ctx context.Context, p domain.Principal) ([]domain.Conversation, error)
	IsParticipant(ctx context.Context, p domain.Principal, conversationID uint) (bool, error)
	CreateWithMessage(ctx context.Context, c *domain.Conversation, first *domain.Message) (*domain.Conversation, bool, error)
	AppendMessage(ctx context.Context, m *domain.Message) error
	ListMessages(ctx context.Context, conversationID uint, page PageRequest) (PageResult[domain.Message], error)
	FilterMessageIDs(ctx context.Context, conversationID uint, ids []uint) ([]uint, error)
	AdvanceReadState(ctx context.Context, st *domain.ConversationReadState) (*domain.ConversationReadState, error)
	ReadWatermarks(ctx context.Context, p domain.Principal, conversationIDs []uint) (map[uint]uint, error)
}

type GormConversationRepository struct {
	db        *gorm.DB
	txTimeout time.Duration
}

func NewConversationRepository(db *gorm.DB, txTimeout time.Duration) ConversationRepository {
	return &GormConversationRepository{db: db, txTimeout: txTimeout}
}

func (r *GormConversationRepository) findByPairKey(db *gorm.DB, key string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.Where("pair_key = ?", key).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *GormConversationRepository) ListForPrincipal(ctx context.Context, p domain.Principal) ([]domain.Conversation, error) {
	column, err := domain.ForeignKeyColumn(p.Kind)
	if err != nil {
		return nil, err
	}
	var out []domain.Conversation
	err = r.db.WithContext(ctx).
		Where(column+" = ?", p.ID).
		Order("COALESCE(last_message_at, created_at) DESC").
		Order("id DESC").
		Find(&out).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "conversation", "list_for_principal", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "conversation", "list_for_principal", "success")
	return out, nil
}

func (r *GormConversationRepository) IsParticipant(ctx context.Context, p domain.Principal, conversationID uint) (bool, error) {
	column, err := domain.ForeignKeyColumn(p.Kind)
	if err != nil {
		return false, nil
	}
	var n int64
	err = r.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ? AND "+column+" = ?", conversationID, p.ID).
		Count(&n).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "conversation", "is_participant", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(ctx, "conversation", "is_participant", "success")
	return n > 0, nil
}

// CreateWithMessage inserts c and the optional first message in one
// transaction. When a conversation for the same pair already exists it is
// returned with created=false and first is not written; the caller appends
// it to the existing conversation.
func (r *GormConversationRepository) CreateWithMessage(ctx context.Context, c *domain.Conversation, first *domain.Message) (*domain.Conversation, bool, error) {
	err := withTransaction(ctx, r.db, r.txTimeout, func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		if first == nil {
			return nil
		}
		first.ConversationID = c.ID
		if err := tx.Create(first).Error; err != nil {
			return err
		}
		c.LastMessageAt = &first.CreatedAt
		return tx.Model(&domain.Conversation{}).Where("id = ?", c.ID).
			Update("last_message_at", first.CreatedAt).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			existing, findErr := r.findByPairKey(r.db.WithContext(ctx), c.PairKey)
			if findErr != nil {
				observability.RecordRepositoryOperation(ctx, "conversation", "create", "error")
				return nil, false, findErr
			}
			observability.RecordRepositoryOperation(ctx, "conversation", "create", "exists")
			return existing, false, nil
		}
		observability.RecordRepositoryOperation(ctx, "conversation", "create", "error")
		return nil, false, err
	}
	observability.RecordRepositoryOperation(ctx, "conversation", "create", "success")
	return c, true, nil
}

func (r *GormConversationRepository) AppendMessage(ctx context.Context, m *domain.Message) error {
	err := withTransaction(ctx, r.db, r.txTimeout, func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.Conversation{}).Where("id = ?", m.ConversationID).
			Update("last_message_at", m.CreatedAt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrConversationNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			observability.RecordRepositoryOperation(ctx, "conversation", "append_message", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "conversation", "append_message", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "conversation", "append_message", "success")
	return nil
}

// ListMessages pages newest first.
func (r *GormConversationRepository) ListMessages(ctx context.Context, conversationID uint, page PageRequest) (PageResult[domain.Message], error) {
	out, err := findPage[domain.Message](func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID)
	}, "id DESC", page)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "conversation", "list_messages", "error")
		return out, err
	}
	observability.RecordRepositoryOperation(ctx, "conversation", "list_messages", "success")
	return out, nil
}

func (r *GormConversationRepository) FilterMessageIDs(ctx context.Context, conversationID uint, ids []uint) ([]uint, error) {
	out := []uint{}
	if len(ids) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("conversation_id = ? AND id IN ?", conversationID, ids).
		Order("id ASC").
		Pluck("id", &out).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "conversation", "filter_message_ids", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "conversation", "filter_message_ids", "success")
	return out, nil
}

// AdvanceReadState moves the watermark forward and never backward. It returns
// the state stored after the call.
func (r *GormConversationRepository) AdvanceReadState(ctx context.Context, st *domain.ConversationReadState) (*domain.ConversationReadState, error) {
	stored := *st
	err := withTransaction(ctx, r.db, r.txTimeout, func(tx *gorm.DB) error {
		var current domain.ConversationReadState
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("conversation_id = ? AND principal_id = ? AND principal_kind = ?", st.ConversationID, st.PrincipalID, st.PrincipalKind).
			First(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		case current.LastReadMessageID >= st.LastReadMessageID:
			stored = current
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "principal_id"}, {Name: "principal_kind"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_read_message_id", "read_at"}),
		}).Create(&stored).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "conversation", "advance_read_state", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "conversation", "advance_read_state", "success")
	return &stored, nil
}

// ReadWatermarks maps each listed conversation to the newest message id p has
// read there. Conversations p never marked read are absent.
func (r *GormConversationRepository) ReadWatermarks(ctx context.Context, p domain.Principal, conversationIDs []uint) (map[uint]uint, error) {
	out := make(map[uint]uint, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var rows []domain.ConversationReadState
	err := r.db.WithContext(ctx).
		Where("principal_id = ? AND principal_kind = ? AND conversation_id IN ?", p.ID, p.Kind, conversationIDs).
		Find(&rows).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "conversation", "read_watermarks", "error")
		return nil, err
	}
	for _, st := range rows {
		out[st.ConversationID] = st.LastReadMessageID
	}
	observability.RecordRepositoryOperation(ctx, "conversation", "read_watermarks", "success")
	return out, nil
}
