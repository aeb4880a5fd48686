package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Account is a local user. Its keypair signs every outgoing request made on
// its behalf.
type Account struct {
	Id            uuid.UUID
	Username      string
	DisplayName   string
	Summary       string
	CreatedAt     time.Time
	WebPublicKey  string
	WebPrivateKey string
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tCREATED_AT: %s)", acc.Id, acc.Username, acc.CreatedAt)
}

// RemoteAccount represents a cached federated user
type RemoteAccount struct {
	Id             uuid.UUID
	Username       string
	Domain         string // punycode host
	ActorURI       string
	DisplayName    string
	Summary        string
	InboxURI       string
	SharedInboxURI string // empty when the remote server has none
	OutboxURI      string
	PublicKeyId    string
	PublicKeyPem   string
	LastFetchedAt  time.Time
}

// Acct returns the user@host form.
func (ra *RemoteAccount) Acct() string {
	return ra.Username + "@" + ra.Domain
}
