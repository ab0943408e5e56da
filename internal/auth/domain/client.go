package domain

import "time"

// ClientStatus is the integrator-application approval state. The core only
// reads and enforces it; promotion to active and any suspension/revocation
// are administrator operations outside this service.
type ClientStatus string

const (
	ClientPending   ClientStatus = "pending"
	ClientActive    ClientStatus = "active"
	ClientSuspended ClientStatus = "suspended"
	ClientRevoked   ClientStatus = "revoked"
)

func (s ClientStatus) Valid() bool {
	switch s {
	case ClientPending, ClientActive, ClientSuspended, ClientRevoked:
		return true
	}
	return false
}

// Client is an integrator application owned by exactly one user. A client
// can authenticate only while its owner is active and its own status is
// active.
type Client struct {
	ID          string
	UserID      string
	SecretHash  string // argon2id encoded; plaintext secret is shown once at creation
	Name        string
	Description string
	Status      ClientStatus
	UsageCount  int64
	UsageQuota  int64
	ResetAt     time.Time // next quota period boundary, advanced out-of-band
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c Client) CanAuthenticate() bool {
	return c.Status == ClientActive
}
