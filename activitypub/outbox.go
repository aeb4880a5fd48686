package activitypub

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// RelationStore persists the relations local users start.
type RelationStore interface {
	CreateFollow(ctx context.Context, follow *domain.Follow) error
	ReadFollow(ctx context.Context, followerId, followeeId uuid.UUID) (*domain.Follow, error)
	DeleteFollow(ctx context.Context, id uuid.UUID) error
	CreateBlock(ctx context.Context, b *domain.Block) error
	ReadBlock(ctx context.Context, blockerId, blockeeId uuid.UUID) (*domain.Block, error)
	DeleteBlock(ctx context.Context, id uuid.UUID) error
}

// Actions records what a local user does to remote users and queues the
// matching activities.
type Actions struct {
	store  RelationStore
	outbox *Outbox
	render *Renderer
	urls   *URLs
	log    *log.Logger
}

func NewActions(store RelationStore, outbox *Outbox, render *Renderer) *Actions {
	return &Actions{
		store:  store,
		outbox: outbox,
		render: render,
		urls:   render.URLs,
		log:    log.WithPrefix("outbox"),
	}
}

// Follow sends a follow request. The follow stays pending until the remote
// side answers with Accept.
func (a *Actions) Follow(ctx context.Context, follower *domain.Account, followee *domain.RemoteAccount) error {
	if _, err := a.store.ReadFollow(ctx, follower.Id, followee.Id); err == nil {
		return nil
	} else if !missing(err) {
		return err
	}
	follow := &domain.Follow{
		AccountId:       follower.Id,
		TargetAccountId: followee.Id,
		URI:             a.urls.Follow(follower.Id, followee.Id),
	}
	if err := a.store.CreateFollow(ctx, follow); err != nil {
		return fmt.Errorf("storing follow of %s: %w", followee.Acct(), err)
	}
	activity := a.render.RenderFollow(a.urls.User(follower.Username), followee.ActorURI, follow.URI)
	a.log.Info("Following", "follower", follower.Username, "followee", followee.Acct())
	return a.outbox.DeliverToUser(ctx, follower, a.render.RenderActivity(activity), followee)
}

func (a *Actions) Unfollow(ctx context.Context, follower *domain.Account, followee *domain.RemoteAccount) error {
	follow, err := a.store.ReadFollow(ctx, follower.Id, followee.Id)
	if missing(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := a.store.DeleteFollow(ctx, follow.Id); err != nil {
		return err
	}
	actorURI := a.urls.User(follower.Username)
	undo := a.render.RenderUndo(a.render.RenderFollow(actorURI, followee.ActorURI, follow.URI), actorURI)
	return a.outbox.DeliverToUser(ctx, follower, a.render.RenderActivity(undo), followee)
}

// Block stores a block and notifies the blocked user. Blocking twice is a
// no-op.
func (a *Actions) Block(ctx context.Context, blocker *domain.Account, blockee *domain.RemoteAccount) error {
	if _, err := a.store.ReadBlock(ctx, blocker.Id, blockee.Id); err == nil {
		return nil
	} else if !missing(err) {
		return err
	}
	id := uuid.New()
	block := &domain.Block{
		Id:              id,
		AccountId:       blocker.Id,
		TargetAccountId: blockee.Id,
		URI:             a.urls.Activity(id),
	}
	if err := a.store.CreateBlock(ctx, block); err != nil {
		return fmt.Errorf("storing block of %s: %w", blockee.Acct(), err)
	}
	activity := a.render.RenderBlock(a.urls.User(blocker.Username), blockee.ActorURI, id)
	a.log.Info("Blocked", "blocker", blocker.Username, "blockee", blockee.Acct())
	return a.outbox.DeliverToUser(ctx, blocker, a.render.RenderActivity(activity), blockee)
}

func (a *Actions) Unblock(ctx context.Context, blocker *domain.Account, blockee *domain.RemoteAccount) error {
	block, err := a.store.ReadBlock(ctx, blocker.Id, blockee.Id)
	if missing(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := a.store.DeleteBlock(ctx, block.Id); err != nil {
		return err
	}
	actorURI := a.urls.User(blocker.Username)
	undo := a.render.RenderUndo(a.render.RenderBlock(actorURI, blockee.ActorURI, block.Id), actorURI)
	return a.outbox.DeliverToUser(ctx, blocker, a.render.RenderActivity(undo), blockee)
}

// Publish sends the Create of an already stored local note to the author's
// followers.
func (a *Actions) Publish(ctx context.Context, author *domain.Account, note *domain.Note) error {
	create := a.render.RenderCreate(note, a.render.RenderNote(note, author))
	return a.outbox.DeliverToFollowers(ctx, author, a.render.RenderActivity(create))
}

// UpdateProfile sends the current profile of acc to every known instance.
func (a *Actions) UpdateProfile(ctx context.Context, acc *domain.Account) error {
	actorURI := a.urls.User(acc.Username)
	update := a.render.RenderUpdate(a.render.RenderPerson(acc), actorURI)
	a.log.Info("Broadcasting profile", "user", acc.Username)
	return a.outbox.DeliverToEveryone(ctx, acc, a.render.RenderActivity(update))
}

// BlockLocal blocks another local user. Nothing is delivered.
func (a *Actions) BlockLocal(ctx context.Context, blocker, blockee *domain.Account) error {
	if _, err := a.store.ReadBlock(ctx, blocker.Id, blockee.Id); err == nil {
		return nil
	} else if !missing(err) {
		return err
	}
	return a.store.CreateBlock(ctx, &domain.Block{AccountId: blocker.Id, TargetAccountId: blockee.Id})
}
