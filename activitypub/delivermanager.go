package activitypub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// Recipe selects a group of inboxes an activity is delivered to.
type Recipe interface {
	isRecipe()
}

// EveryoneRecipe targets the shared inbox of every known remote server.
type EveryoneRecipe struct{}

// FollowersRecipe targets the remote followers of the sending actor.
type FollowersRecipe struct{}

// DirectRecipe targets one remote user.
type DirectRecipe struct {
	To *domain.RemoteAccount
}

func (EveryoneRecipe) isRecipe()  {}
func (FollowersRecipe) isRecipe() {}
func (DirectRecipe) isRecipe()    {}

// Sender is the actor an activity is delivered for. Host is empty for
// local accounts.
type Sender struct {
	Id   uuid.UUID
	Host string
}

func LocalSender(acc *domain.Account) Sender {
	return Sender{Id: acc.Id}
}

func RemoteSender(acc *domain.RemoteAccount) Sender {
	return Sender{Id: acc.Id, Host: acc.Domain}
}

func (s Sender) IsLocal() bool {
	return s.Host == ""
}

// InboxSource lists the inboxes of remote accounts.
type InboxSource interface {
	ReadSharedInboxes(ctx context.Context) ([]string, error)
	ReadFollowerInboxes(ctx context.Context, followeeId uuid.UUID) ([]domain.FollowerInbox, error)
}

// DeliveryQueue persists delivery jobs.
type DeliveryQueue interface {
	EnqueueDelivery(ctx context.Context, item *domain.DeliveryQueueItem) error
}

// DeliverManager fans one activity out to the inboxes selected by its
// recipes. It is built and executed once per activity.
type DeliverManager struct {
	inboxes  InboxSource
	queue    DeliveryQueue
	actor    Sender
	activity Object
	recipes  []Recipe
	log      *log.Logger
}

func NewDeliverManager(inboxes InboxSource, queue DeliveryQueue, actor Sender, activity Object) *DeliverManager {
	return &DeliverManager{
		inboxes:  inboxes,
		queue:    queue,
		actor:    actor,
		activity: activity,
		log:      log.WithPrefix("deliver"),
	}
}

func (m *DeliverManager) AddEveryone() {
	m.AddRecipe(EveryoneRecipe{})
}

func (m *DeliverManager) AddFollowersRecipe() {
	m.AddRecipe(FollowersRecipe{})
}

func (m *DeliverManager) AddDirectRecipe(to *domain.RemoteAccount) {
	m.AddRecipe(DirectRecipe{To: to})
}

func (m *DeliverManager) AddRecipe(r Recipe) {
	m.recipes = append(m.recipes, r)
}

// inboxSet keeps insertion order so jobs are enqueued deterministically.
type inboxSet struct {
	order []string
	seen  map[string]struct{}
}

func newInboxSet() *inboxSet {
	return &inboxSet{seen: make(map[string]struct{})}
}

func (s *inboxSet) add(inbox string) {
	if inbox == "" {
		return
	}
	if _, ok := s.seen[inbox]; ok {
		return
	}
	s.seen[inbox] = struct{}{}
	s.order = append(s.order, inbox)
}

func (s *inboxSet) has(inbox string) bool {
	_, ok := s.seen[inbox]
	return ok
}

// Inboxes computes the deduplicated target inboxes. Broad recipes are
// collected before direct ones so a direct target already reached through a
// shared inbox is not delivered to twice.
func (m *DeliverManager) Inboxes(ctx context.Context) ([]string, error) {
	set := newInboxSet()

	var everyone, followers bool
	var directs []DirectRecipe
	for _, r := range m.recipes {
		switch r := r.(type) {
		case EveryoneRecipe:
			everyone = true
		case FollowersRecipe:
			followers = true
		case DirectRecipe:
			directs = append(directs, r)
		default:
			return nil, fmt.Errorf("unknown recipe %T", r)
		}
	}

	if everyone {
		shared, err := m.inboxes.ReadSharedInboxes(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading shared inboxes: %w", err)
		}
		for _, inbox := range shared {
			set.add(inbox)
		}
	}

	if followers {
		inboxes, err := m.inboxes.ReadFollowerInboxes(ctx, m.actor.Id)
		if err != nil {
			return nil, fmt.Errorf("reading follower inboxes: %w", err)
		}
		for _, f := range inboxes {
			if f.SharedInbox != "" {
				set.add(f.SharedInbox)
			} else {
				set.add(f.Inbox)
			}
		}
	}

	for _, d := range directs {
		if d.To == nil || d.To.InboxURI == "" {
			continue
		}
		if d.To.SharedInboxURI != "" && set.has(d.To.SharedInboxURI) {
			continue
		}
		set.add(d.To.InboxURI)
	}

	return set.order, nil
}

// Execute enqueues one delivery job per inbox and returns the number of jobs.
// Activities of remote actors are never delivered.
func (m *DeliverManager) Execute(ctx context.Context) (int, error) {
	if !m.actor.IsLocal() {
		return 0, nil
	}

	inboxes, err := m.Inboxes(ctx)
	if err != nil {
		return 0, err
	}
	if len(inboxes) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(m.activity)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal activity: %w", err)
	}

	queued := 0
	for _, inbox := range inboxes {
		item := &domain.DeliveryQueueItem{
			ActorId:      m.actor.Id,
			InboxURI:     inbox,
			ActivityJSON: string(payload),
		}
		if err := m.queue.EnqueueDelivery(ctx, item); err != nil {
			return queued, fmt.Errorf("failed to queue delivery to %s: %w", inbox, err)
		}
		queued++
	}
	m.log.Debug("Queued activity", "type", m.activity.Type(), "inboxes", queued)
	return queued, nil
}

// Outbox wraps the common delivery shapes.
type Outbox struct {
	inboxes InboxSource
	queue   DeliveryQueue
}

func NewOutbox(inboxes InboxSource, queue DeliveryQueue) *Outbox {
	return &Outbox{inboxes: inboxes, queue: queue}
}

// DeliverToFollowers sends activity to the remote followers of actor.
func (o *Outbox) DeliverToFollowers(ctx context.Context, actor *domain.Account, activity Object) error {
	m := NewDeliverManager(o.inboxes, o.queue, LocalSender(actor), activity)
	m.AddFollowersRecipe()
	_, err := m.Execute(ctx)
	return err
}

// DeliverToEveryone sends activity to the shared inbox of every known
// instance.
func (o *Outbox) DeliverToEveryone(ctx context.Context, actor *domain.Account, activity Object) error {
	m := NewDeliverManager(o.inboxes, o.queue, LocalSender(actor), activity)
	m.AddEveryone()
	_, err := m.Execute(ctx)
	return err
}

// DeliverToUser sends activity to a single remote user.
func (o *Outbox) DeliverToUser(ctx context.Context, actor *domain.Account, activity Object, to *domain.RemoteAccount) error {
	m := NewDeliverManager(o.inboxes, o.queue, LocalSender(actor), activity)
	m.AddDirectRecipe(to)
	_, err := m.Execute(ctx)
	return err
}
