package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Note struct {
	Id        uuid.UUID
	UserId    uuid.UUID
	Message   string
	CreatedAt time.Time
	EditedAt  *time.Time // When the note was last edited (nil if never edited)
	// ActivityPub fields
	Visibility   string // "public", "home", "followers", "specified"
	InReplyToURI string // URI of the note this is replying to
	URI          string // set for notes received from remote servers
	RenoteURI    string // object URI when this note is an Announce
	Sensitive    bool
}

func (note *Note) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUserId: %s \n\tMessage: %s \n\tCreatedAt: %s)", note.Id, note.UserId, note.Message, note.CreatedAt)
}

// Poll is attached to exactly one note and keyed by it.
type Poll struct {
	NoteId    uuid.UUID
	Choices   []string
	Votes     []int
	Multiple  bool
	ExpiresAt *time.Time
}
