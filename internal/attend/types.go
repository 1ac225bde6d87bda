package attend

import "time"

// Role is the access level of an identity.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Status is the recorded state of an attendance event.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusAbsent
}

// Identity is an enrolled person. The template itself is never loaded with
// the identity; HasTemplate reports whether one is stored.
type Identity struct {
	ID            int64
	DisplayName   string
	ContactHandle string
	Role          Role
	Credential    []byte // bcrypt hash, nil when no credential was set
	HasTemplate   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewIdentity carries the fields needed to insert an identity.
// Template is an already sealed blob.
type NewIdentity struct {
	DisplayName   string
	ContactHandle string
	Role          Role
	Credential    []byte
	Template      []byte
	CreatedAt     time.Time
}

// StoredTemplate is one gallery row as read for matching.
type StoredTemplate struct {
	IdentityID int64
	Blob       []byte
}

// AttendanceEvent is an immutable ledger entry.
type AttendanceEvent struct {
	ID         int64
	IdentityID int64
	RecordedAt time.Time
	Status     Status
}

// AttendanceQuery filters ledger listings. A zero IdentityID lists every
// identity's events; a non-positive Limit means no limit.
type AttendanceQuery struct {
	IdentityID int64
	Limit      int
}

// IngestCycle is the persisted summary of one ingestion worker cycle.
type IngestCycle struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Matched    int
	Enrolled   int
	Skipped    int
	Failed     int
}
