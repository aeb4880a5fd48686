package domain

import (
	"time"

	"github.com/google/uuid"
)

// Instance is the health and metadata record of a remote server.
type Instance struct {
	Id                  uuid.UUID
	Host                string // punycode
	IsSuspended         bool
	LastCommunicatedAt  *time.Time
	LatestStatus        *int
	LatestRequestSentAt *time.Time
	IsNotResponding     bool
	SoftwareName        string
	SoftwareVersion     string
	InfoUpdatedAt       *time.Time
	CreatedAt           time.Time
}

// InstanceHealth is the delivery feedback written after every POST.
// A nil LatestStatus records a transport failure.
type InstanceHealth struct {
	LatestRequestSentAt time.Time
	LatestStatus        *int
	LastCommunicatedAt  *time.Time
	IsNotResponding     bool
}

// Meta holds the server-wide federation settings.
type Meta struct {
	SecureMode   bool
	PrivateMode  bool
	BlockedHosts []string
	AllowedHosts []string
}
