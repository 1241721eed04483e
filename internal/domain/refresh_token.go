package domain

import "time"

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TokenHash string    `gorm:"size:128;uniqueIndex;not null" json:"-"`
	AdminID   *uint     `gorm:"index" json:"adminId,omitempty"`
	TeacherID *uint     `gorm:"index" json:"teacherId,omitempty"`
	StudentID *uint     `gorm:"index" json:"studentId,omitempty"`
	UserAgent string    `gorm:"size:512" json:"userAgent"`
	IP        string    `gorm:"size:64" json:"ip"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Owner reports the principal derived from whichever owner column is set.
// It returns false unless exactly one column is set.
func (t *RefreshToken) Owner() (Principal, bool) {
	var (
		owner Principal
		set   int
	)
	if t.AdminID != nil {
		owner = Principal{ID: *t.AdminID, Kind: KindAdmin}
		set++
	}
	if t.TeacherID != nil {
		owner = Principal{ID: *t.TeacherID, Kind: KindTeacher}
		set++
	}
	if t.StudentID != nil {
		owner = Principal{ID: *t.StudentID, Kind: KindStudent}
		set++
	}
	if set != 1 {
		return Principal{}, false
	}
	return owner, true
}

func (t *RefreshToken) SetOwner(p Principal) {
	id := p.ID
	t.AdminID, t.TeacherID, t.StudentID = nil, nil, nil
	switch p.Kind {
	case KindAdmin:
		t.AdminID = &id
	case KindTeacher:
		t.TeacherID = &id
	case KindStudent:
		t.StudentID = &id
	}
}

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
