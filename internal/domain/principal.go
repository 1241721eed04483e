package domain

import (
	"fmt"
	"strings"
	"time"
)

type PrincipalKind string

const (
	KindAdmin   PrincipalKind = "admin"
	KindTeacher PrincipalKind = "teacher"
	KindStudent PrincipalKind = "student"
)

var principalKinds = []PrincipalKind{KindAdmin, KindTeacher, KindStudent}

func ParsePrincipalKind(raw string) (PrincipalKind, bool) {
	k := PrincipalKind(strings.ToLower(strings.TrimSpace(raw)))
	return k, k.Valid()
}

func (k PrincipalKind) Valid() bool {
	for _, v := range principalKinds {
		if k == v {
			return true
		}
	}
	return false
}

// Principal identifies an authenticated actor. IDs are only unique within a kind.
type Principal struct {
	ID   uint          `json:"id"`
	Kind PrincipalKind `json:"kind"`
}

func (p Principal) String() string { return fmt.Sprintf("%s:%d", p.Kind, p.ID) }

// Account is the row shape shared by the admins, teachers and students tables.
type Account struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Active       bool      `gorm:"not null" json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Admin struct{ Account }

type Teacher struct{ Account }

type Student struct{ Account }

func TableForKind(kind PrincipalKind) (string, error) {
	switch kind {
	case KindAdmin:
		return "admins", nil
	case KindTeacher:
		return "teachers", nil
	case KindStudent:
		return "students", nil
	default:
		return "", fmt.Errorf("unknown principal kind %q", kind)
	}
}

// ForeignKeyColumn names the per-kind owner column used by refresh_tokens and conversations.
func ForeignKeyColumn(kind PrincipalKind) (string, error) {
	switch kind {
	case KindAdmin:
		return "admin_id", nil
	case KindTeacher:
		return "teacher_id", nil
	case KindStudent:
		return "student_id", nil
	default:
		return "", fmt.Errorf("unknown principal kind %q", kind)
	}
}

type Profile struct {
	ID     uint          `json:"id"`
	Kind   PrincipalKind `json:"kind"`
	Email  string        `json:"email"`
	Name   string        `json:"name"`
	Active bool          `json:"active"`
}

func (a *Account) Profile(kind PrincipalKind) Profile {
	return Profile{ID: a.ID, Kind: kind, Email: a.Email, Name: a.Name, Active: a.Active}
}
