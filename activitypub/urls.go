package activitypub

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

var wordToken = regexp.MustCompile(`^\w+$`)

// URLs builds and parses the URIs of objects owned by this server.
type URLs struct {
	Domain string
}

func (u *URLs) Base() string {
	return "https://" + u.Domain
}

func (u *URLs) User(username string) string {
	return fmt.Sprintf("%s/users/%s", u.Base(), username)
}

func (u *URLs) Inbox(username string) string {
	return u.User(username) + "/inbox"
}

func (u *URLs) SharedInbox() string {
	return u.Base() + "/inbox"
}

func (u *URLs) Followers(username string) string {
	return u.User(username) + "/followers"
}

func (u *URLs) KeyId(acc *domain.Account) string {
	return u.User(acc.Username) + "#main-key"
}

func (u *URLs) Note(id uuid.UUID) string {
	return fmt.Sprintf("%s/notes/%s", u.Base(), id)
}

func (u *URLs) NoteActivity(id uuid.UUID) string {
	return u.Note(id) + "/activity"
}

func (u *URLs) Question(noteId uuid.UUID) string {
	return fmt.Sprintf("%s/questions/%s", u.Base(), noteId)
}

func (u *URLs) Like(id uuid.UUID) string {
	return fmt.Sprintf("%s/likes/%s", u.Base(), id)
}

// Follow is the URI of a follow by a local follower. Ids are compact hex so
// every segment is a single word token.
func (u *URLs) Follow(followerId, followeeId uuid.UUID) string {
	return fmt.Sprintf("%s/follows/%s/%s", u.Base(), compactId(followerId), compactId(followeeId))
}

func (u *URLs) Activity(id uuid.UUID) string {
	return fmt.Sprintf("%s/activities/%s", u.Base(), id)
}

func compactId(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// LocalRef is a parsed local URI: /<Kind>/<Id>[/<Rest>].
type LocalRef struct {
	Kind string
	Id   string
	Rest string
}

// IsLocal reports whether uri points at this server.
func (u *URLs) IsLocal(uri string) bool {
	host, err := hostOf(uri)
	return err == nil && host == u.Domain
}

// Parse splits a local URI into its kind, id and remaining path.
func (u *URLs) Parse(uri string) (LocalRef, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return LocalRef{}, err
	}
	if !u.IsLocal(uri) {
		return LocalRef{}, fmt.Errorf("not local: %s", uri)
	}
	parts := strings.SplitN(strings.Trim(parsed.Path, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return LocalRef{}, fmt.Errorf("malformed local uri: %s", uri)
	}
	ref := LocalRef{Kind: parts[0], Id: parts[1]}
	if len(parts) == 3 {
		ref.Rest = parts[2]
	}
	return ref, nil
}
