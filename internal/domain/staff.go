package domain

// Staff is a member of the sales or support pool.
// Assignments is the lifetime number of conversations routed to them.
type Staff struct {
	ID          int64     `json:"id" yaml:"-"`
	Kind        StaffKind `json:"kind" yaml:"-"`
	Name        string    `json:"name" yaml:"name"`
	Link        string    `json:"link" yaml:"link"`
	Sector      string    `json:"sector,omitempty" yaml:"sector,omitempty"`
	Assignments int64     `json:"assignments" yaml:"assignments,omitempty"`
}

// Ref returns a reference suitable for storing on a session.
func (s *Staff) Ref() *StaffRef {
	return &StaffRef{Kind: s.Kind, ID: s.ID}
}

// StatCounter is a best-effort event counter.
type StatCounter struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}
