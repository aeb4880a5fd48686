package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

// UserResyncAge is how long a remote user looked up by acct is trusted
// before it is resynced through WebFinger.
const UserResyncAge = 24 * time.Hour

var ErrNoSelfLink = errors.New("webfinger response has no self link")

// UserStore looks up accounts by name.
type UserStore interface {
	ReadAccByUsername(ctx context.Context, username string) (*domain.Account, error)
	ReadRemoteAccountByAcct(ctx context.Context, username, domain string) (*domain.RemoteAccount, error)
	TouchRemoteAccount(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateRemoteAccountURI(ctx context.Context, id uuid.UUID, uri string) error
}

// ResolvedUser is exactly one of a local or a remote account.
type ResolvedUser struct {
	Local  *domain.Account
	Remote *domain.RemoteAccount
}

// Users resolves user@host names to accounts.
type Users struct {
	store   UserStore
	persons *Persons
	getter  JSONGetter
	domain  string
	now     func() time.Time
	log     *log.Logger
}

func NewUsers(store UserStore, persons *Persons, getter JSONGetter, localDomain string) *Users {
	return &Users{
		store:   store,
		persons: persons,
		getter:  getter,
		domain:  localDomain,
		now:     time.Now,
		log:     log.WithPrefix("users"),
	}
}

// ResolveAcct resolves "user@host", "@user@host" or a bare local "user".
func (u *Users) ResolveAcct(ctx context.Context, acct string) (*ResolvedUser, error) {
	username, host, _ := strings.Cut(strings.TrimPrefix(acct, "@"), "@")
	if username == "" {
		return nil, fmt.Errorf("malformed acct %q", acct)
	}
	return u.ResolveUser(ctx, username, host)
}

// ResolveUser returns the account named username on host. An empty host or
// the local domain means a local user. Unknown remote users are discovered
// through WebFinger; known ones are resynced once they are older than
// UserResyncAge.
func (u *Users) ResolveUser(ctx context.Context, username, host string) (*ResolvedUser, error) {
	username = strings.TrimPrefix(username, "@")
	if host != "" {
		host = util.ToPuny(host)
	}
	if host == "" || host == u.domain {
		acc, err := u.store.ReadAccByUsername(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("local user %s: %w", username, err)
		}
		return &ResolvedUser{Local: acc}, nil
	}

	user, err := u.store.ReadRemoteAccountByAcct(ctx, username, host)
	if err != nil {
		if !missing(err) {
			return nil, err
		}
		self, err := u.webfinger(ctx, username, host)
		if err != nil {
			return nil, err
		}
		u.log.Info("Discovered remote user", "acct", username+"@"+host, "uri", self)
		acc, err := u.persons.CreatePerson(ctx, self, nil)
		if err != nil {
			return nil, err
		}
		return &ResolvedUser{Remote: acc}, nil
	}

	if u.now().Sub(user.LastFetchedAt) <= UserResyncAge {
		return &ResolvedUser{Remote: user}, nil
	}

	// claim the resync before the slow part so concurrent lookups skip it
	if err := u.store.TouchRemoteAccount(ctx, user.Id, u.now()); err != nil {
		return nil, err
	}
	if err := u.resync(ctx, user); err != nil {
		u.log.Warn("Resync failed, using cached user", "acct", user.Acct(), "err", err)
		return &ResolvedUser{Remote: user}, nil
	}
	fresh, err := u.store.ReadRemoteAccountByAcct(ctx, username, host)
	if err != nil {
		return nil, err
	}
	return &ResolvedUser{Remote: fresh}, nil
}

func (u *Users) resync(ctx context.Context, user *domain.RemoteAccount) error {
	self, err := u.webfinger(ctx, user.Username, user.Domain)
	if err != nil {
		return err
	}
	if self != user.ActorURI {
		host, err := hostOf(self)
		if err != nil || host != user.Domain {
			return fmt.Errorf("webfinger of %s points at another host: %s", user.Acct(), self)
		}
		u.log.Info("Repairing actor URI", "acct", user.Acct(), "from", user.ActorURI, "to", self)
		if err := u.store.UpdateRemoteAccountURI(ctx, user.Id, self); err != nil {
			return err
		}
	}
	return u.persons.UpdatePerson(ctx, self, nil, nil)
}

// webfinger returns the ActivityPub actor URI of acct:username@host.
func (u *Users) webfinger(ctx context.Context, username, host string) (string, error) {
	q := url.Values{"resource": {"acct:" + username + "@" + host}}
	doc, err := u.getter.GetJSON(ctx, "https://"+host+"/.well-known/webfinger?"+q.Encode())
	if err != nil {
		return "", fmt.Errorf("webfinger %s@%s: %w", username, host, err)
	}
	links, _ := doc["links"].([]any)
	for _, l := range links {
		link, ok := asObject(l)
		if !ok || link.String("rel") != "self" {
			continue
		}
		t := link.String("type")
		if t != "" && t != "application/activity+json" && !strings.HasPrefix(t, "application/ld+json") {
			continue
		}
		if href := link.String("href"); href != "" {
			return href, nil
		}
	}
	return "", fmt.Errorf("%s@%s: %w", username, host, ErrNoSelfLink)
}
