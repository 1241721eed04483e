package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidParticipants = errors.New("conversation needs two participants of different kinds")

type Conversation struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	AdminID       *uint      `gorm:"index" json:"adminId,omitempty"`
	TeacherID     *uint      `gorm:"index" json:"teacherId,omitempty"`
	StudentID     *uint      `gorm:"index" json:"studentId,omitempty"`
	PairKey       string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	LastMessageAt *time.Time `gorm:"index" json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func NewConversation(a, b Principal) (*Conversation, error) {
	if a.Kind == b.Kind || !a.Kind.Valid() || !b.Kind.Valid() {
		return nil, ErrInvalidParticipants
	}
	c := &Conversation{PairKey: PairKey(a, b)}
	for _, p := range []Principal{a, b} {
		id := p.ID
		switch p.Kind {
		case KindAdmin:
			c.AdminID = &id
		case KindTeacher:
			c.TeacherID = &id
		case KindStudent:
			c.StudentID = &id
		}
	}
	return c, nil
}

// PairKey is order independent so both sides resolve to the same conversation.
func PairKey(a, b Principal) string {
	if a.Kind > b.Kind {
		a, b = b, a
	}
	return fmt.Sprintf("%s|%s", a, b)
}

func (c *Conversation) Participants() []Principal {
	out := make([]Principal, 0, 2)
	if c.AdminID != nil {
		out = append(out, Principal{ID: *c.AdminID, Kind: KindAdmin})
	}
	if c.TeacherID != nil {
		out = append(out, Principal{ID: *c.TeacherID, Kind: KindTeacher})
	}
	if c.StudentID != nil {
		out = append(out, Principal{ID: *c.StudentID, Kind: KindStudent})
	}
	return out
}

func (c *Conversation) HasParticipant(p Principal) bool {
	for _, v := range c.Participants() {
		if v == p {
			return true
		}
	}
	return false
}

// Counterpart returns the participant that is not p.
func (c *Conversation) Counterpart(p Principal) (Principal, bool) {
	for _, v := range c.Participants() {
		if v != p {
			return v, true
		}
	}
	return Principal{}, false
}

type Message struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	ConversationID uint          `gorm:"index;not null" json:"conversationId"`
	SenderID       uint          `gorm:"not null" json:"senderId"`
	SenderKind     PrincipalKind `gorm:"size:16;not null" json:"senderType"`
	Content        string        `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time     `gorm:"index" json:"createdAt"`
}

type ConversationReadState struct {
	ConversationID    uint          `gorm:"primaryKey" json:"conversationId"`
	PrincipalID       uint          `gorm:"primaryKey" json:"principalId"`
	PrincipalKind     PrincipalKind `gorm:"primaryKey;size:16" json:"principalType"`
	LastReadMessageID uint          `gorm:"not null" json:"lastReadMessageId"`
	ReadAt            time.Time     `gorm:"not null" json:"readAt"`
}
