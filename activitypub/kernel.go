package activitypub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// ActivityKind is the closed set of activity types the dispatcher handles.
type ActivityKind int

const (
	KindUnknown ActivityKind = iota
	KindCreate
	KindDelete
	KindUpdate
	KindFollow
	KindAccept
	KindReject
	KindUndo
	KindLike
	KindAnnounce
	KindBlock
)

func kindOf(t string) ActivityKind {
	switch t {
	case "Create":
		return KindCreate
	case "Delete":
		return KindDelete
	case "Update":
		return KindUpdate
	case "Follow":
		return KindFollow
	case "Accept":
		return KindAccept
	case "Reject":
		return KindReject
	case "Undo":
		return KindUndo
	case "Like", "EmojiReact":
		return KindLike
	case "Announce":
		return KindAnnounce
	case "Block":
		return KindBlock
	}
	return KindUnknown
}

// InboxStore is everything inbound activities read and write.
type InboxStore interface {
	LocalObjects
	ReadRemoteAccountByURI(ctx context.Context, uri string) (*domain.RemoteAccount, error)

	CreateNote(ctx context.Context, note *domain.Note) error
	ReadNoteByURI(ctx context.Context, uri string) (*domain.Note, error)
	EditNote(ctx context.Context, id uuid.UUID, message string) error
	DeleteNote(ctx context.Context, id uuid.UUID) error
	CreatePoll(ctx context.Context, poll *domain.Poll) error
	UpdatePollVotes(ctx context.Context, noteId uuid.UUID, votes []int) error

	CreateFollow(ctx context.Context, follow *domain.Follow) error
	ReadFollow(ctx context.Context, followerId, followeeId uuid.UUID) (*domain.Follow, error)
	AcceptFollow(ctx context.Context, id uuid.UUID) error
	DeleteFollow(ctx context.Context, id uuid.UUID) error

	CreateReaction(ctx context.Context, r *domain.Reaction) error
	ReadReaction(ctx context.Context, accountId, noteId uuid.UUID) (*domain.Reaction, error)
	ReadReactionByURI(ctx context.Context, uri string) (*domain.Reaction, error)
	DeleteReaction(ctx context.Context, id uuid.UUID) error

	CreateBlock(ctx context.Context, b *domain.Block) error
	ReadBlock(ctx context.Context, blockerId, blockeeId uuid.UUID) (*domain.Block, error)
	DeleteBlock(ctx context.Context, id uuid.UUID) error

	CreateActivity(ctx context.Context, activity *domain.Activity) error
	ReadActivityByURI(ctx context.Context, uri string) (*domain.Activity, error)
	MarkActivityProcessed(ctx context.Context, id uuid.UUID) error

	RegisterOrFetchInstance(ctx context.Context, host string) (*domain.Instance, error)
}

type KernelConfig struct {
	Resolvers *ResolverConfig
	Store     InboxStore
	Persons   *Persons
	Outbox    *Outbox
	// Metadata is optional.
	Metadata MetadataRefresher
	Stats    *Stats
}

// Kernel performs inbound activities on behalf of authenticated remote actors.
type Kernel struct {
	conf   KernelConfig
	store  InboxStore
	urls   *URLs
	render *Renderer
	now    func() time.Time
	detach func(func())
	log    *log.Logger
}

func NewKernel(conf KernelConfig) *Kernel {
	return &Kernel{
		conf:   conf,
		store:  conf.Store,
		urls:   conf.Resolvers.URLs,
		render: conf.Resolvers.Renderer,
		now:    time.Now,
		detach: func(f func()) { go f() },
		log:    log.WithPrefix("inbox"),
	}
}

func missing(err error) bool {
	return errors.Is(err, db.ErrNotFound)
}

// PerformActivity routes activity to its handler. Each call starts a new
// resolver session shared by everything the activity leads to. The outcome
// starts with "ok" or "skip"; errors are hard failures.
func (k *Kernel) PerformActivity(ctx context.Context, actor *domain.RemoteAccount, activity Object) (string, error) {
	r := NewResolver(k.conf.Resolvers)
	if isCollectionType(activity.Type()) {
		return k.performCollection(ctx, r, actor, activity)
	}
	return k.performActivity(ctx, r, actor, activity)
}

func (k *Kernel) performActivity(ctx context.Context, r *Resolver, actor *domain.RemoteAccount, activity Object) (string, error) {
	switch kind := kindOf(activity.Type()); kind {
	case KindCreate:
		return k.create(ctx, r, actor, activity)
	case KindDelete:
		return k.delete(ctx, actor, activity)
	case KindUpdate:
		return k.update(ctx, r, actor, activity)
	case KindFollow:
		return k.follow(ctx, actor, activity)
	case KindAccept:
		return k.accept(ctx, r, actor, activity)
	case KindReject:
		return k.reject(ctx, r, actor, activity)
	case KindUndo:
		return k.undo(ctx, r, actor, activity)
	case KindLike:
		return k.like(ctx, actor, activity)
	case KindAnnounce:
		return k.announce(ctx, r, actor, activity)
	case KindBlock:
		return k.block(ctx, actor, activity)
	case KindUnknown:
		return "skip: Unknown activity type: " + activity.Type(), nil
	default:
		return "", fmt.Errorf("unhandled activity kind %d", kind)
	}
}

// performCollection performs every item of a collection of activities within
// the session r. Nested collections are not followed. A failing item is
// logged and the rest are still performed.
func (k *Kernel) performCollection(ctx context.Context, r *Resolver, actor *domain.RemoteAccount, coll Object) (string, error) {
	items, _ := coll["orderedItems"].([]any)
	if items == nil {
		items, _ = coll["items"].([]any)
	}

	performed := 0
	for _, raw := range items {
		item, err := r.Resolve(ctx, raw)
		if err != nil {
			k.log.Warn("Skipping collection item", "err", err)
			continue
		}
		if isCollectionType(item.Type()) {
			k.log.Warn("Skipping nested collection", "id", item.Id())
			continue
		}
		if item.Ref("actor") != actor.ActorURI {
			k.log.Warn("Skipping collection item of another actor", "id", item.Id())
			continue
		}
		outcome, err := k.performActivity(ctx, r, actor, item)
		if err != nil {
			k.log.Warn("Collection item failed", "id", item.Id(), "err", err)
			continue
		}
		k.log.Debug("Collection item performed", "id", item.Id(), "outcome", outcome)
		performed++
	}
	return fmt.Sprintf("ok: performed %d of %d", performed, len(items)), nil
}

// localUser returns the local account uri names.
func (k *Kernel) localUser(ctx context.Context, uri string) (*domain.Account, bool) {
	ref, err := k.urls.Parse(uri)
	if err != nil || ref.Kind != "users" || ref.Rest != "" {
		return nil, false
	}
	acc, err := k.store.ReadAccByUsername(ctx, ref.Id)
	if err != nil {
		return nil, false
	}
	return acc, true
}

// noteByURI finds a local note by its URL or a remote one by its id.
func (k *Kernel) noteByURI(ctx context.Context, uri string) (*domain.Note, error) {
	if k.urls.IsLocal(uri) {
		ref, err := k.urls.Parse(uri)
		if err != nil || (ref.Kind != "notes" && ref.Kind != "questions") || ref.Rest != "" {
			return nil, db.ErrNotFound
		}
		id, err := uuid.Parse(ref.Id)
		if err != nil {
			return nil, db.ErrNotFound
		}
		return k.store.ReadNoteById(ctx, id)
	}
	return k.store.ReadNoteByURI(ctx, uri)
}

func (k *Kernel) create(ctx context.Context, r *Resolver, actor *domain.RemoteAccount, activity Object) (string, error) {
	obj, err := r.Resolve(ctx, activity["object"])
	if err != nil {
		return "", err
	}
	if !isPostType(obj.Type()) {
		return "skip: Unknown type: " + obj.Type(), nil
	}
	return k.createNote(ctx, actor, obj)
}

// createNote stores a remote post authored by actor.
func (k *Kernel) createNote(ctx context.Context, actor *domain.RemoteAccount, obj Object) (string, error) {
	uri := obj.Id()
	if uri == "" {
		return "skip: note has no id", nil
	}
	if host, err := hostOf(uri); err != nil || host != actor.Domain {
		return "skip: note is not hosted by its author", nil
	}
	if obj.Ref("attributedTo") != actor.ActorURI {
		return "skip: invalid attributedTo", nil
	}
	if _, err := k.store.ReadNoteByURI(ctx, uri); err == nil {
		return "skip: note already exists", nil
	} else if !missing(err) {
		return "", err
	}

	content := obj.String("content")
	if content == "" {
		content = obj.String("name")
	}
	note := &domain.Note{
		UserId:       actor.Id,
		Message:      content,
		Visibility:   visibilityOf(obj),
		InReplyToURI: obj.Ref("inReplyTo"),
		URI:          uri,
		CreatedAt:    parseTime(obj.String("published"), k.now()),
	}
	note.Sensitive, _ = obj["sensitive"].(bool)
	if err := k.store.CreateNote(ctx, note); err != nil {
		return "", fmt.Errorf("storing note %s: %w", uri, err)
	}

	if obj.Type() == "Question" {
		poll := pollOf(obj)
		poll.NoteId = note.Id
		if err := k.store.CreatePoll(ctx, poll); err != nil {
			return "", fmt.Errorf("storing poll of %s: %w", uri, err)
		}
		return "ok: Question created", nil
	}
	return "ok: Note created", nil
}

func (k *Kernel) delete(ctx context.Context, actor *domain.RemoteAccount, activity Object) (string, error) {
	target := activity.Ref("object")
	if target == "" {
		return "skip: invalid object", nil
	}
	if target == actor.ActorURI {
		return "skip: actor deletion is not supported", nil
	}
	note, err := k.store.ReadNoteByURI(ctx, target)
	if missing(err) {
		return "skip: note not found", nil
	}
	if err != nil {
		return "", err
	}
	if note.UserId != actor.Id {
		return "skip: cannot delete a note of another actor", nil
	}
	if err := k.store.DeleteNote(ctx, note.Id); err != nil {
		return "", err
	}
	return "ok: Note deleted", nil
}

func (k *Kernel) update(ctx context.Context, r *Resolver, actor *domain.RemoteAccount, activity Object) (string, error) {
	if declared := activity.Ref("actor"); declared != "" && declared != actor.ActorURI {
		return "skip: invalid actor", nil
	}
	obj, err := r.Resolve(ctx, activity["object"])
	if err != nil {
		return "", err
	}

	switch t := obj.Type(); {
	case isActorType(t):
		if obj.Id() != actor.ActorURI {
			return "skip: invalid actor", nil
		}
		if err := k.conf.Persons.UpdatePerson(ctx, actor.ActorURI, r, obj); err != nil {
			return "", err
		}
		return "ok: Person updated", nil

	case t == "Question" || t == "Note":
		note, err := k.store.ReadNoteByURI(ctx, obj.Id())
		if missing(err) {
			return "skip: " + t + " not found", nil
		}
		if err != nil {
			return "", err
		}
		if note.UserId != actor.Id {
			return "skip: invalid actor", nil
		}
		if t == "Question" {
			if err := k.store.UpdatePollVotes(ctx, note.Id, pollOf(obj).Votes); err != nil {
				return "", err
			}
			return "ok: Question updated", nil
		}
		if err := k.store.EditNote(ctx, note.Id, obj.String("content")); err != nil {
			return "", err
		}
		return "ok: Note updated", nil

	default:
		return "skip: Unknown type: " + t, nil
	}
}

func (k *Kernel) follow(ctx context.Context, actor *domain.RemoteAccount, activity Object) (string, error) {
	followee, ok := k.localUser(ctx, activity.Ref("object"))
	if !ok {
		return "skip: followee not found", nil
	}
	followeeURI := k.urls.User(followee.Username)
	request := withoutContext(activity)

	if _, err := k.store.ReadBlock(ctx, followee.Id, actor.Id); err == nil {
		reject := k.render.RenderActivity(k.render.RenderReject(request, followeeURI))
		if err := k.conf.Outbox.DeliverToUser(ctx, followee, reject, actor); err != nil {
			return "", err
		}
		return "skip: follower is blocked", nil
	} else if !missing(err) {
		return "", err
	}

	existing, err := k.store.ReadFollow(ctx, actor.Id, followee.Id)
	switch {
	case err == nil:
		if !existing.Accepted {
			if err := k.store.AcceptFollow(ctx, existing.Id); err != nil {
				return "", err
			}
		}
	case missing(err):
		follow := &domain.Follow{
			AccountId:       actor.Id,
			TargetAccountId: followee.Id,
			URI:             activity.Id(),
			Accepted:        true,
		}
		if err := k.store.CreateFollow(ctx, follow); err != nil {
			return "", err
		}
	default:
		return "", err
	}

	accept := k.render.RenderActivity(k.render.RenderAccept(request, followeeURI))
	if err := k.conf.Outbox.DeliverToUser(ctx, followee, accept, actor); err != nil {
		return "", err
	}
	return "ok: Followed", nil
}

// followOf resolves the Follow answered by an Accept or Reject from actor
// and returns the local follower it was sent by.
func (k *Kernel) followOf(ctx context.Context, r *Resolver, actor *domain.RemoteAccount, activity Object, verb string) (*domain.Follow, string, error) {
	obj, err := r.Resolve(ctx, activity["object"])
	if err != nil {
		return nil, "", err
	}
	if obj.Type() != "Follow" {
		return nil, "skip: Unknown " + verb + " type: " + obj.Type(), nil
	}
	follower, ok := k.localUser(ctx, obj.Ref("actor"))
	if !ok {
		return nil, "skip: follower is not local", nil
	}
	if obj.Ref("object") != actor.ActorURI {
		return nil, "skip: invalid follow object", nil
	}
	follow, err := k.store.ReadFollow(ctx, follower.Id, actor.Id)
	if missing(err) {
		return nil, "skip: follow request not found", nil
	}
	if err != nil {
		return nil, "", err
	}
	return follow, "", nil
}

func (k *Kernel) accept(ctx context.Context, r *Resolver, actor *domain.RemoteAccount, activity Object) (string, error) {
	follow, skip, err := k.followOf(ctx, r, actor, activity, "Accept")
	if follow == nil {
		return skip, err
	}
	if err := k.store.AcceptFollow(ctx, follow.Id); err != nil {
		return "", err
	}
	return "ok: Follow accepted", nil
}

func (k *Kernel) reject(ctx context.Context, r *Resolver, actor *domain.RemoteAccount, activity Object) (string, error) {
	follow, skip, err := k.followOf(ctx, r, actor, activity, "Reject")
	if follow == nil {
		return skip, err
	}
	if err := k.store.DeleteFollow(ctx, follow.Id); err != nil {
		return "", err
	}
	return "ok: Follow rejected", nil
}

func (k *Kernel) undo(ctx context.Context, r *Resolver, actor *domain.RemoteAccount, activity Object) (string, error) {
	obj, err := r.Resolve(ctx, activity["object"])
	if err != nil {
		return "", err
	}
	if a := obj.Ref("actor"); a != "" && a != actor.ActorURI {
		return "skip: invalid actor", nil
	}

	switch kindOf(obj.Type()) {
	case KindFollow:
		followee, ok := k.localUser(ctx, obj.Ref("object"))
		if !ok {
			return "skip: followee not found", nil
		}
		follow, err := k.store.ReadFollow(ctx, actor.Id, followee.Id)
		if missing(err) {
			return "skip: not following", nil
		}
		if err != nil {
			return "", err
		}
		if err := k.store.DeleteFollow(ctx, follow.Id); err != nil {
			return "", err
		}
		return "ok: Unfollowed", nil

	case KindLike:
		reaction, err := k.store.ReadReactionByURI(ctx, obj.Id())
		if missing(err) {
			return "skip: not liked", nil
		}
		if err != nil {
			return "", err
		}
		if reaction.AccountId != actor.Id {
			return "skip: invalid actor", nil
		}
		if err := k.store.DeleteReaction(ctx, reaction.Id); err != nil {
			return "", err
		}
		return "ok: Unliked", nil

	case KindBlock:
		blockee, ok := k.localUser(ctx, obj.Ref("object"))
		if !ok {
			return "skip: blockee not found", nil
		}
		block, err := k.store.ReadBlock(ctx, actor.Id, blockee.Id)
		if missing(err) {
			return "skip: not blocking", nil
		}
		if err != nil {
			return "", err
		}
		if err := k.store.DeleteBlock(ctx, block.Id); err != nil {
			return "", err
		}
		return "ok: Unblocked", nil

	case KindAnnounce:
		note, err := k.store.ReadNoteByURI(ctx, obj.Id())
		if missing(err) {
			return "skip: not announced", nil
		}
		if err != nil {
			return "", err
		}
		if note.UserId != actor.Id || note.RenoteURI == "" {
			return "skip: invalid actor", nil
		}
		if err := k.store.DeleteNote(ctx, note.Id); err != nil {
			return "", err
		}
		return "ok: Unannounced", nil

	default:
		return "skip: Unknown Undo type: " + obj.Type(), nil
	}
}

func (k *Kernel) like(ctx context.Context, actor *domain.RemoteAccount, activity Object) (string, error) {
	note, err := k.noteByURI(ctx, activity.Ref("object"))
	if missing(err) {
		return "skip: target note not found", nil
	}
	if err != nil {
		return "", err
	}
	if _, err := k.store.ReadReaction(ctx, actor.Id, note.Id); err == nil {
		return "skip: already liked", nil
	}
	reaction := &domain.Reaction{AccountId: actor.Id, NoteId: note.Id, URI: activity.Id()}
	if err := k.store.CreateReaction(ctx, reaction); err != nil {
		return "", err
	}
	return "ok: Liked", nil
}

func (k *Kernel) announce(ctx context.Context, r *Resolver, actor *domain.RemoteAccount, activity Object) (string, error) {
	uri := activity.Id()
	if host, err := hostOf(uri); uri == "" || err != nil || host != actor.Domain {
		return "skip: invalid announce id", nil
	}
	if _, err := k.store.ReadNoteByURI(ctx, uri); err == nil {
		return "skip: already announced", nil
	}

	ref := announceTarget(activity["object"], actor)
	target, err := r.Resolve(ctx, ref)
	if err != nil {
		if skip, ok := unavailable(err); ok {
			return "skip: announce target unavailable: " + skip, nil
		}
		return "", err
	}
	if uri, ok := ref.(string); ok && target.Id() != uri {
		return "skip: announce target id mismatch", nil
	}
	if !isPostType(target.Type()) {
		return "skip: Unknown type: " + target.Type(), nil
	}

	// store the announced post so the renote has something to point at
	if !k.urls.IsLocal(target.Id()) {
		if _, err := k.store.ReadNoteByURI(ctx, target.Id()); missing(err) {
			author, err := k.conf.Persons.ResolvePerson(ctx, target.Ref("attributedTo"), r)
			if err != nil {
				return "", err
			}
			if outcome, err := k.createNote(ctx, author, target); err != nil {
				return "", err
			} else if strings.HasPrefix(outcome, "skip") {
				return outcome, nil
			}
		}
	}

	renote := &domain.Note{
		UserId:     actor.Id,
		URI:        uri,
		RenoteURI:  target.Id(),
		Visibility: visibilityOf(activity),
		CreatedAt:  parseTime(activity.String("published"), k.now()),
	}
	if err := k.store.CreateNote(ctx, renote); err != nil {
		return "", err
	}
	return "ok: Announced", nil
}

// announceTarget returns the embedded object when actor's instance hosts it
// and its id otherwise, so posts of other instances are fetched from their
// origin.
func announceTarget(object any, actor *domain.RemoteAccount) any {
	if _, ok := object.(string); ok {
		return object
	}
	id := apId(object)
	if id == "" {
		return object
	}
	if host, err := hostOf(id); err != nil || host != actor.Domain {
		return id
	}
	return object
}

func (k *Kernel) block(ctx context.Context, actor *domain.RemoteAccount, activity Object) (string, error) {
	blockee, ok := k.localUser(ctx, activity.Ref("object"))
	if !ok {
		return "skip: blockee not found", nil
	}
	if _, err := k.store.ReadBlock(ctx, actor.Id, blockee.Id); err == nil {
		return "skip: already blocked", nil
	}
	block := &domain.Block{AccountId: actor.Id, TargetAccountId: blockee.Id, URI: activity.Id()}
	if err := k.store.CreateBlock(ctx, block); err != nil {
		return "", err
	}
	return "ok: Blocked", nil
}

// unavailable reports resolution failures that retrying will not fix.
func unavailable(err error) (string, bool) {
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrInstanceBlocked), errors.Is(err, ErrInstanceNotAllowed):
		return err.Error(), true
	case errors.As(err, &statusErr) && statusErr.IsClientError():
		return statusErr.Error(), true
	}
	return "", false
}

// visibilityOf derives the note visibility from the to and cc audiences.
func visibilityOf(obj Object) string {
	to, cc := refsOf(obj["to"]), refsOf(obj["cc"])
	for _, r := range to {
		if r == PublicCollection || r == "as:Public" || r == "Public" {
			return "public"
		}
	}
	for _, r := range cc {
		if r == PublicCollection || r == "as:Public" || r == "Public" {
			return "home"
		}
	}
	for _, r := range append(to, cc...) {
		if strings.HasSuffix(r, "/followers") {
			return "followers"
		}
	}
	return "specified"
}

// refsOf returns the ids of a single reference or an array of them.
func refsOf(v any) []string {
	if list, ok := v.([]any); ok {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if id := apId(item); id != "" {
				out = append(out, id)
			}
		}
		return out
	}
	if id := apId(v); id != "" {
		return []string{id}
	}
	return nil
}

// pollOf reads the choices and vote counts of a Question.
func pollOf(obj Object) *domain.Poll {
	poll := &domain.Poll{}
	choices, _ := obj["oneOf"].([]any)
	if choices == nil {
		choices, _ = obj["anyOf"].([]any)
		poll.Multiple = choices != nil
	}
	for _, c := range choices {
		choice, ok := asObject(c)
		if !ok {
			continue
		}
		votes := 0
		if replies, ok := asObject(choice["replies"]); ok {
			if n, ok := replies["totalItems"].(float64); ok {
				votes = int(n)
			}
		}
		poll.Choices = append(poll.Choices, choice.String("name"))
		poll.Votes = append(poll.Votes, votes)
	}
	if end := obj.String("endTime"); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			poll.ExpiresAt = &t
		}
	}
	return poll
}

func parseTime(s string, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return fallback
}

// withoutContext copies an activity for embedding into another one.
func withoutContext(obj Object) Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		if k != "@context" {
			out[k] = v
		}
	}
	return out
}
