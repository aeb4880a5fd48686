package activitypub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// DefaultRecursionLimit is the number of URIs one resolver may fetch.
const DefaultRecursionLimit = 100

var (
	ErrNullResolvee           = errors.New("resolvee is null")
	ErrInvalidResolvee        = errors.New("resolvee is neither a URI nor an object")
	ErrFragment               = errors.New("cannot resolve URL with fragment")
	ErrAlreadyResolved        = errors.New("cannot resolve already resolved one")
	ErrRecursionLimit         = errors.New("hit recursion limit")
	ErrInstanceBlocked        = errors.New("instance is blocked")
	ErrInstanceNotAllowed     = errors.New("instance is not allowed")
	ErrInvalidResponse        = errors.New("invalid response")
	ErrUnrecognizedCollection = errors.New("unrecognized collection type")
	ErrUnhandledLocal         = errors.New("unhandled local uri")
)

// ResolutionError is returned by every failed resolution.
type ResolutionError struct {
	URI string
	Err error
}

func (e *ResolutionError) Error() string {
	if e.URI == "" {
		return "resolve: " + e.Err.Error()
	}
	return fmt.Sprintf("resolve %s: %s", e.URI, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// LocalObjects is the storage the resolver renders local URIs from.
type LocalObjects interface {
	ReadAccById(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	ReadAccByUsername(ctx context.Context, username string) (*domain.Account, error)
	ReadRemoteAccountById(ctx context.Context, id uuid.UUID) (*domain.RemoteAccount, error)
	ReadNoteById(ctx context.Context, id uuid.UUID) (*domain.Note, error)
	ReadPollByNoteId(ctx context.Context, noteId uuid.UUID) (*domain.Poll, error)
	ReadReactionById(ctx context.Context, id uuid.UUID) (*domain.Reaction, error)
}

// ResolverConfig holds what every resolver session shares.
type ResolverConfig struct {
	URLs     *URLs
	Policy   *HostPolicy
	Fetcher  Fetcher
	Local    LocalObjects
	Renderer *Renderer
	// InstanceActor returns the account signing outgoing GETs. Nil sends
	// unsigned requests.
	InstanceActor func(ctx context.Context) (*domain.Account, error)
}

// Resolver turns URIs into ActivityPub objects. A Resolver is one resolution
// session: it remembers every URI it has seen and must not be shared between
// inbound requests.
type Resolver struct {
	conf           *ResolverConfig
	history        map[string]struct{}
	recursionLimit int
	signer         *domain.Account
	log            *log.Logger
}

func NewResolver(conf *ResolverConfig) *Resolver {
	return NewResolverWithLimit(conf, DefaultRecursionLimit)
}

// NewResolverWithLimit returns a session allowing exactly limit resolutions.
// A limit of 0 disables the check.
func NewResolverWithLimit(conf *ResolverConfig, limit int) *Resolver {
	return &Resolver{
		conf:           conf,
		history:        make(map[string]struct{}),
		recursionLimit: limit,
		log:            log.WithPrefix("resolver"),
	}
}

// History returns the URIs resolved so far, in no particular order.
func (r *Resolver) History() []string {
	out := make([]string, 0, len(r.history))
	for uri := range r.history {
		out = append(out, uri)
	}
	return out
}

// ResolveCollection resolves value and requires a (possibly ordered)
// collection or collection page.
func (r *Resolver) ResolveCollection(ctx context.Context, value any) (Object, error) {
	obj, err := r.Resolve(ctx, value)
	if err != nil {
		return nil, err
	}
	if !isCollectionType(obj.Type()) {
		return nil, &ResolutionError{URI: obj.Id(), Err: fmt.Errorf("%w: %s", ErrUnrecognizedCollection, obj.Type())}
	}
	return obj, nil
}

// Resolve returns value itself when it is an embedded object, and otherwise
// fetches (or renders, for local URIs) the document it names.
func (r *Resolver) Resolve(ctx context.Context, value any) (Object, error) {
	var uri string
	switch v := value.(type) {
	case nil:
		return nil, &ResolutionError{Err: ErrNullResolvee}
	case Object:
		if v == nil {
			return nil, &ResolutionError{Err: ErrNullResolvee}
		}
		return v, nil
	case map[string]any:
		if v == nil {
			return nil, &ResolutionError{Err: ErrNullResolvee}
		}
		return Object(v), nil
	case string:
		uri = v
	default:
		return nil, &ResolutionError{Err: ErrInvalidResolvee}
	}

	// the fragment is never sent over HTTP, so the response would not be
	// the object named by uri
	if strings.Contains(uri, "#") {
		return nil, &ResolutionError{URI: uri, Err: ErrFragment}
	}
	if _, seen := r.history[uri]; seen {
		return nil, &ResolutionError{URI: uri, Err: ErrAlreadyResolved}
	}
	if r.recursionLimit > 0 && len(r.history) >= r.recursionLimit {
		return nil, &ResolutionError{URI: uri, Err: ErrRecursionLimit}
	}
	r.history[uri] = struct{}{}

	host, err := hostOf(uri)
	if err != nil || host == "" {
		return nil, &ResolutionError{URI: uri, Err: fmt.Errorf("%w: unparseable uri", ErrInvalidResponse)}
	}

	if host == r.conf.URLs.Domain {
		obj, err := r.resolveLocal(ctx, uri)
		if err != nil {
			return nil, &ResolutionError{URI: uri, Err: err}
		}
		return obj, nil
	}

	blocked, err := r.conf.Policy.IsBlocked(ctx, host)
	if err != nil {
		return nil, &ResolutionError{URI: uri, Err: err}
	}
	if blocked {
		return nil, &ResolutionError{URI: uri, Err: ErrInstanceBlocked}
	}
	allowed, err := r.conf.Policy.IsAllowedUnderPrivateMode(ctx, host)
	if err != nil {
		return nil, &ResolutionError{URI: uri, Err: err}
	}
	if !allowed {
		return nil, &ResolutionError{URI: uri, Err: ErrInstanceNotAllowed}
	}

	if r.signer == nil && r.conf.InstanceActor != nil {
		signer, err := r.conf.InstanceActor(ctx)
		if err != nil {
			return nil, &ResolutionError{URI: uri, Err: fmt.Errorf("instance actor: %w", err)}
		}
		r.signer = signer
	}

	r.log.Debug("Fetching", "uri", uri)
	obj, err := r.conf.Fetcher.Get(ctx, uri, r.signer)
	if err != nil {
		return nil, &ResolutionError{URI: uri, Err: err}
	}
	if obj == nil || !obj.HasContext() {
		return nil, &ResolutionError{URI: uri, Err: ErrInvalidResponse}
	}
	return obj, nil
}

func (r *Resolver) resolveLocal(ctx context.Context, uri string) (Object, error) {
	ref, err := r.conf.URLs.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnhandledLocal, err)
	}
	render := r.conf.Renderer
	local := r.conf.Local

	switch ref.Kind {
	case "notes":
		if ref.Rest != "" && ref.Rest != "activity" {
			return nil, fmt.Errorf("%w: notes/%s/%s", ErrUnhandledLocal, ref.Id, ref.Rest)
		}
		note, author, err := r.localNote(ctx, ref.Id)
		if err != nil {
			return nil, err
		}
		noteObj := render.RenderNote(note, author)
		if ref.Rest == "activity" {
			// this refers to the create activity and not the note itself
			return render.RenderActivity(render.RenderCreate(note, noteObj)), nil
		}
		return render.RenderActivity(noteObj), nil

	case "users":
		if ref.Rest != "" {
			return nil, fmt.Errorf("%w: users/%s/%s", ErrUnhandledLocal, ref.Id, ref.Rest)
		}
		acc, err := local.ReadAccByUsername(ctx, ref.Id)
		if err != nil {
			return nil, err
		}
		return render.RenderActivity(render.RenderPerson(acc)), nil

	case "questions":
		if ref.Rest != "" {
			return nil, fmt.Errorf("%w: questions/%s/%s", ErrUnhandledLocal, ref.Id, ref.Rest)
		}
		// polls are keyed by the note they are attached to
		note, author, err := r.localNote(ctx, ref.Id)
		if err != nil {
			return nil, err
		}
		poll, err := local.ReadPollByNoteId(ctx, note.Id)
		if err != nil {
			return nil, err
		}
		return render.RenderActivity(render.RenderQuestion(note, author, poll)), nil

	case "likes":
		if ref.Rest != "" {
			return nil, fmt.Errorf("%w: likes/%s/%s", ErrUnhandledLocal, ref.Id, ref.Rest)
		}
		id, err := uuid.Parse(ref.Id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnhandledLocal, err)
		}
		reaction, err := local.ReadReactionById(ctx, id)
		if err != nil {
			return nil, err
		}
		actorURI, err := r.accountURI(ctx, reaction.AccountId)
		if err != nil {
			return nil, err
		}
		note, err := local.ReadNoteById(ctx, reaction.NoteId)
		if err != nil {
			return nil, err
		}
		noteURI := note.URI
		if noteURI == "" {
			noteURI = r.conf.URLs.Note(note.Id)
		}
		return render.RenderActivity(render.RenderLike(reaction, actorURI, noteURI)), nil

	case "follows":
		// rest should be <followee id>
		if ref.Rest == "" || !wordToken.MatchString(ref.Rest) {
			return nil, fmt.Errorf("%w: invalid follow URI", ErrUnhandledLocal)
		}
		followerId, err := uuid.Parse(ref.Id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnhandledLocal, err)
		}
		followeeId, err := uuid.Parse(ref.Rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnhandledLocal, err)
		}
		follower, err := local.ReadAccById(ctx, followerId)
		if err != nil {
			return nil, err
		}
		followeeURI, err := r.accountURI(ctx, followeeId)
		if err != nil {
			return nil, err
		}
		return render.RenderActivity(render.RenderFollow(r.conf.URLs.User(follower.Username), followeeURI, uri)), nil

	default:
		return nil, fmt.Errorf("%w: type %s", ErrUnhandledLocal, ref.Kind)
	}
}

func (r *Resolver) localNote(ctx context.Context, rawId string) (*domain.Note, *domain.Account, error) {
	id, err := uuid.Parse(rawId)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnhandledLocal, err)
	}
	note, err := r.conf.Local.ReadNoteById(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if note.URI != "" {
		return nil, nil, fmt.Errorf("%w: note %s is remote", ErrUnhandledLocal, id)
	}
	author, err := r.conf.Local.ReadAccById(ctx, note.UserId)
	if err != nil {
		return nil, nil, err
	}
	return note, author, nil
}

// accountURI returns the actor URI of a local or cached remote account.
func (r *Resolver) accountURI(ctx context.Context, id uuid.UUID) (string, error) {
	if acc, err := r.conf.Local.ReadAccById(ctx, id); err == nil {
		return r.conf.URLs.User(acc.Username), nil
	}
	remote, err := r.conf.Local.ReadRemoteAccountById(ctx, id)
	if err != nil {
		return "", err
	}
	return remote.ActorURI, nil
}
