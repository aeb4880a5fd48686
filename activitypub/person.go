package activitypub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/domain"
)

// PersonStore caches remote actors.
type PersonStore interface {
	ReadRemoteAccountByURI(ctx context.Context, uri string) (*domain.RemoteAccount, error)
	CreateRemoteAccount(ctx context.Context, acc *domain.RemoteAccount) error
	UpdateRemoteAccount(ctx context.Context, acc *domain.RemoteAccount) error
}

// Persons fetches remote actors and keeps the local cache of them current.
type Persons struct {
	store     PersonStore
	resolvers *ResolverConfig
	now       func() time.Time
	log       *log.Logger
}

func NewPersons(store PersonStore, resolvers *ResolverConfig) *Persons {
	return &Persons{store: store, resolvers: resolvers, now: time.Now, log: log.WithPrefix("person")}
}

func (p *Persons) session(resolver *Resolver) *Resolver {
	if resolver == nil {
		return NewResolver(p.resolvers)
	}
	return resolver
}

// ResolvePerson returns the cached actor at uri, fetching and storing it on
// first sight. A nil resolver starts a new session.
func (p *Persons) ResolvePerson(ctx context.Context, uri string, resolver *Resolver) (*domain.RemoteAccount, error) {
	acc, err := p.store.ReadRemoteAccountByURI(ctx, uri)
	if err == nil {
		return acc, nil
	}
	return p.CreatePerson(ctx, uri, resolver)
}

// CreatePerson fetches the actor at uri and stores it.
func (p *Persons) CreatePerson(ctx context.Context, uri string, resolver *Resolver) (*domain.RemoteAccount, error) {
	obj, err := p.session(resolver).Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	acc, err := p.personFromObject(obj, uri)
	if err != nil {
		return nil, err
	}
	if err := p.store.CreateRemoteAccount(ctx, acc); err != nil {
		// lost a race with a concurrent insert
		if existing, rerr := p.store.ReadRemoteAccountByURI(ctx, acc.ActorURI); rerr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("storing %s: %w", uri, err)
	}
	p.log.Info("Registered remote actor", "acct", acc.Acct())
	return acc, nil
}

// UpdatePerson refreshes the cached actor at uri. obj may carry an already
// resolved copy of the actor; when nil the actor is fetched.
func (p *Persons) UpdatePerson(ctx context.Context, uri string, resolver *Resolver, obj Object) error {
	existing, err := p.store.ReadRemoteAccountByURI(ctx, uri)
	if err != nil {
		return fmt.Errorf("update of unknown actor %s: %w", uri, err)
	}
	if obj == nil {
		if obj, err = p.session(resolver).Resolve(ctx, uri); err != nil {
			return err
		}
	}
	fresh, err := p.personFromObject(obj, uri)
	if err != nil {
		return err
	}
	fresh.Id = existing.Id
	fresh.ActorURI = existing.ActorURI
	if err := p.store.UpdateRemoteAccount(ctx, fresh); err != nil {
		return err
	}
	p.log.Debug("Updated remote actor", "acct", fresh.Acct())
	return nil
}

// personFromObject validates an actor document claimed to live at uri.
func (p *Persons) personFromObject(obj Object, uri string) (*domain.RemoteAccount, error) {
	if !isActorType(obj.Type()) {
		return nil, fmt.Errorf("%s is not an actor: %s", uri, obj.Type())
	}
	expectedHost, err := hostOf(uri)
	if err != nil {
		return nil, err
	}
	id := obj.Id()
	if id == "" {
		id = uri
	}
	host, err := hostOf(id)
	if err != nil || host != expectedHost {
		return nil, fmt.Errorf("actor id %s does not match host %s", id, expectedHost)
	}

	username := obj.String("preferredUsername")
	if username == "" || !wordToken.MatchString(username) {
		return nil, fmt.Errorf("actor %s has an invalid preferredUsername %q", id, username)
	}
	inbox := obj.String("inbox")
	if inbox == "" {
		return nil, fmt.Errorf("actor %s has no inbox", id)
	}

	keyId, keyPem := publicKeyOf(obj, id)
	if keyPem == "" {
		return nil, errors.New("actor " + id + " has no public key")
	}

	acc := &domain.RemoteAccount{
		Username:      username,
		Domain:        host,
		ActorURI:      id,
		DisplayName:   obj.String("name"),
		Summary:       obj.String("summary"),
		InboxURI:      inbox,
		OutboxURI:     obj.String("outbox"),
		PublicKeyId:   keyId,
		PublicKeyPem:  keyPem,
		LastFetchedAt: p.now(),
	}
	if endpoints, ok := asObject(obj["endpoints"]); ok {
		acc.SharedInboxURI = endpoints.String("sharedInbox")
	}
	if acc.SharedInboxURI == "" {
		acc.SharedInboxURI = obj.String("sharedInbox")
	}
	return acc, nil
}

// publicKeyOf returns the id and PEM of the actor's key. publicKey may be a
// single object or an array of them.
func publicKeyOf(obj Object, owner string) (string, string) {
	candidates := []any{obj["publicKey"]}
	if list, ok := obj["publicKey"].([]any); ok {
		candidates = list
	}
	for _, c := range candidates {
		key, ok := asObject(c)
		if !ok {
			continue
		}
		if o := key.String("owner"); o != "" && o != owner {
			continue
		}
		if pem := key.String("publicKeyPem"); pem != "" {
			return key.Id(), pem
		}
	}
	return "", ""
}
