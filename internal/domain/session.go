package domain

import (
	"time"
)

// StaffKind identifies one of the two staff pools.
type StaffKind string

const (
	// StaffSeller is the sales pool.
	StaffSeller StaffKind = "seller"
	// StaffSupport is the customer-support (SAC) pool.
	StaffSupport StaffKind = "support"
)

// StaffRef points at the staff record assigned to a conversation.
type StaffRef struct {
	Kind StaffKind `json:"kind"`
	ID   int64     `json:"id"`
}

// Session holds the conversation state for a single WhatsApp user.
type Session struct {
	UserID    string    `json:"user_id"`
	State     State     `json:"state"`
	Staff     *StaffRef `json:"staff,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasStaff returns true if a staff member was assigned to the session.
func (s *Session) HasStaff() bool {
	return s.Staff != nil && s.Staff.ID != 0
}

// NewSession returns a session in the default state.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		State:     DefaultState,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
