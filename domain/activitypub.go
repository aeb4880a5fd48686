package domain

import (
	"time"

	"github.com/google/uuid"
)

// Follow represents a follow relationship
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID // Can be local or remote account
	TargetAccountId uuid.UUID // Can be local or remote account
	URI             string    // ActivityPub Follow activity URI (empty for local follows)
	CreatedAt       time.Time
	Accepted        bool
}

// Block is an account blocking another one.
type Block struct {
	Id              uuid.UUID
	AccountId       uuid.UUID
	TargetAccountId uuid.UUID
	URI             string
	CreatedAt       time.Time
}

// Reaction represents a like/favorite on a note
type Reaction struct {
	Id        uuid.UUID
	AccountId uuid.UUID // Who reacted (can be local or remote)
	NoteId    uuid.UUID
	URI       string // ActivityPub Like activity URI, empty for local reactions
	CreatedAt time.Time
}

// Activity represents an inbound ActivityPub activity (for logging/deduplication)
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Create, Like, Announce, Undo, etc.
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	CreatedAt    time.Time
}

// DeliveryQueueItem is one pending delivery of an activity to one inbox.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	ActorId      uuid.UUID // local account whose key signs the POST
	InboxURI     string
	ActivityJSON string // The complete activity to deliver
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

// FollowerInbox is the delivery endpoint pair of a remote follower.
type FollowerInbox struct {
	Inbox       string
	SharedInbox string
}
