package activitypub

import (
	"context"
	"strings"
	"testing"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/prometheus/client_golang/prometheus"
)

type kernelFixture struct {
	database *db.DB
	fetcher  *fakeFetcher
	kernel   *Kernel
	metadata *fakeMetadata
	detached []func()
	alice    *domain.Account
	bob      *domain.RemoteAccount
}

func newKernelFixture(t *testing.T) *kernelFixture {
	t.Helper()
	database := setupDB(t)
	fetcher := newFakeFetcher()
	conf := newTestResolverConfig(t, database, fetcher)
	f := &kernelFixture{
		database: database,
		fetcher:  fetcher,
		metadata: &fakeMetadata{},
		alice:    createLocalAccount(t, database, "alice"),
		bob:      createRemoteAccount(t, database, "bob", "remote.example"),
	}
	f.kernel = NewKernel(KernelConfig{
		Resolvers: conf,
		Store:     database,
		Persons:   NewPersons(database, conf),
		Outbox:    NewOutbox(database, database),
		Metadata:  f.metadata,
		Stats:     NewStats(prometheus.NewRegistry()),
	})
	f.kernel.detach = func(fn func()) { f.detached = append(f.detached, fn) }
	return f
}

func (f *kernelFixture) aliceURI() string {
	return f.kernel.urls.User("alice")
}

func (f *kernelFixture) perform(t *testing.T, actor *domain.RemoteAccount, activity Object) string {
	t.Helper()
	outcome, err := f.kernel.PerformActivity(context.Background(), actor, activity)
	if err != nil {
		t.Fatalf("PerformActivity(%s) failed: %v", activity.Type(), err)
	}
	return outcome
}

func (f *kernelFixture) queued(t *testing.T) []domain.DeliveryQueueItem {
	t.Helper()
	items, err := f.database.ReadPendingDeliveries(context.Background(), timeFarFuture(), 100)
	if err != nil {
		t.Fatalf("ReadPendingDeliveries failed: %v", err)
	}
	return items
}

func remoteNote(id string, author *domain.RemoteAccount, content string) Object {
	return Object{
		"id":           id,
		"type":         "Note",
		"attributedTo": author.ActorURI,
		"content":      content,
		"to":           []any{PublicCollection},
	}
}

func TestPerformUnknownActivity(t *testing.T) {
	f := newKernelFixture(t)
	got := f.perform(t, f.bob, Object{"type": "Move", "actor": f.bob.ActorURI})
	if got != "skip: Unknown activity type: Move" {
		t.Errorf("Expected unknown activity skip, got %q", got)
	}
}

func TestPerformCreate(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	noteId := "https://remote.example/notes/1"
	create := Object{"type": "Create", "actor": f.bob.ActorURI, "object": remoteNote(noteId, f.bob, "hello")}

	if got := f.perform(t, f.bob, create); got != "ok: Note created" {
		t.Fatalf("Expected note creation, got %q", got)
	}
	note, err := f.database.ReadNoteByURI(ctx, noteId)
	if err != nil {
		t.Fatalf("Expected stored note: %v", err)
	}
	if note.Message != "hello" || note.UserId != f.bob.Id || note.Visibility != "public" {
		t.Errorf("Unexpected note %+v", note)
	}

	if got := f.perform(t, f.bob, create); got != "skip: note already exists" {
		t.Errorf("Expected duplicate to be skipped, got %q", got)
	}
}

func TestPerformCreateRejectsForgedNotes(t *testing.T) {
	f := newKernelFixture(t)
	carol := createRemoteAccount(t, f.database, "carol", "other.example")

	tests := []struct {
		name   string
		object Object
		want   string
	}{
		{"note on another host", remoteNote("https://other.example/notes/1", f.bob, "x"), "skip: note is not hosted by its author"},
		{"attributed to someone else", remoteNote("https://remote.example/notes/2", carol, "x"), "skip: invalid attributedTo"},
		{"not a post", Object{"id": "https://remote.example/images/1", "type": "Image"}, "skip: Unknown type: Image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.perform(t, f.bob, Object{"type": "Create", "actor": f.bob.ActorURI, "object": tt.object})
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPerformCreateQuestion(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	question := remoteNote("https://remote.example/questions/1", f.bob, "pick one")
	question["type"] = "Question"
	question["endTime"] = "2030-01-01T00:00:00Z"
	question["oneOf"] = []any{
		map[string]any{"type": "Note", "name": "yes", "replies": map[string]any{"type": "Collection", "totalItems": float64(3)}},
		map[string]any{"type": "Note", "name": "no", "replies": map[string]any{"type": "Collection", "totalItems": float64(1)}},
	}

	if got := f.perform(t, f.bob, Object{"type": "Create", "actor": f.bob.ActorURI, "object": question}); got != "ok: Question created" {
		t.Fatalf("Expected question creation, got %q", got)
	}
	note, _ := f.database.ReadNoteByURI(ctx, "https://remote.example/questions/1")
	poll, err := f.database.ReadPollByNoteId(ctx, note.Id)
	if err != nil {
		t.Fatalf("Expected stored poll: %v", err)
	}
	if len(poll.Choices) != 2 || poll.Votes[0] != 3 || poll.Votes[1] != 1 || poll.Multiple {
		t.Errorf("Unexpected poll %+v", poll)
	}
	if poll.ExpiresAt == nil {
		t.Error("Expected poll end time")
	}
}

func TestPerformDelete(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	carol := createRemoteAccount(t, f.database, "carol", "other.example")
	noteId := "https://remote.example/notes/1"
	f.perform(t, f.bob, Object{"type": "Create", "actor": f.bob.ActorURI, "object": remoteNote(noteId, f.bob, "bye")})

	deletion := Object{"type": "Delete", "object": map[string]any{"id": noteId, "type": "Tombstone"}}
	if got := f.perform(t, carol, deletion); got != "skip: cannot delete a note of another actor" {
		t.Errorf("Expected foreign delete to be skipped, got %q", got)
	}
	if got := f.perform(t, f.bob, deletion); got != "ok: Note deleted" {
		t.Errorf("Expected note deletion, got %q", got)
	}
	if _, err := f.database.ReadNoteByURI(ctx, noteId); err == nil {
		t.Error("Expected note to be gone")
	}
	if got := f.perform(t, f.bob, Object{"type": "Delete", "object": f.bob.ActorURI}); got != "skip: actor deletion is not supported" {
		t.Errorf("Expected actor deletion skip, got %q", got)
	}
}

func TestPerformUpdate(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	noteId := "https://remote.example/notes/1"
	f.perform(t, f.bob, Object{"type": "Create", "actor": f.bob.ActorURI, "object": remoteNote(noteId, f.bob, "draft")})

	if got := f.perform(t, f.bob, Object{"type": "Update", "actor": f.bob.ActorURI, "object": remoteNote(noteId, f.bob, "final")}); got != "ok: Note updated" {
		t.Errorf("Expected note update, got %q", got)
	}
	note, _ := f.database.ReadNoteByURI(ctx, noteId)
	if note.Message != "final" || note.EditedAt == nil {
		t.Errorf("Expected edited note, got %+v", note)
	}

	person := actorDocument(f.bob.ActorURI, "bob")
	person["name"] = "Bob B."
	if got := f.perform(t, f.bob, Object{"type": "Update", "actor": f.bob.ActorURI, "object": person}); got != "ok: Person updated" {
		t.Errorf("Expected person update, got %q", got)
	}
	if f.fetcher.callCount() != 0 {
		t.Errorf("Expected embedded actor to be used, got %d fetches", f.fetcher.callCount())
	}
}

func TestPerformUpdateSkips(t *testing.T) {
	f := newKernelFixture(t)
	tests := []struct {
		name     string
		activity Object
		want     string
	}{
		{
			"declared actor differs from signer",
			Object{"type": "Update", "actor": "https://remote.example/users/mallory", "object": remoteNote("https://remote.example/notes/1", f.bob, "x")},
			"skip: invalid actor",
		},
		{
			"someone else's profile",
			Object{"type": "Update", "actor": f.bob.ActorURI, "object": actorDocument("https://remote.example/users/carol", "carol")},
			"skip: invalid actor",
		},
		{
			"unknown object type",
			Object{"type": "Update", "actor": f.bob.ActorURI, "object": Object{"id": "https://remote.example/images/1", "type": "Image"}},
			"skip: Unknown type: Image",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.perform(t, f.bob, tt.activity); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPerformFollowIsAccepted(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	follow := Object{"id": "https://remote.example/follows/1", "type": "Follow", "actor": f.bob.ActorURI, "object": f.aliceURI()}

	if got := f.perform(t, f.bob, follow); got != "ok: Followed" {
		t.Fatalf("Expected follow, got %q", got)
	}
	stored, err := f.database.ReadFollow(ctx, f.bob.Id, f.alice.Id)
	if err != nil || !stored.Accepted {
		t.Fatalf("Expected accepted follow, got %+v, %v", stored, err)
	}

	items := f.queued(t)
	if len(items) != 1 {
		t.Fatalf("Expected one queued Accept, got %d", len(items))
	}
	if items[0].InboxURI != f.bob.InboxURI || items[0].ActorId != f.alice.Id {
		t.Errorf("Unexpected delivery %+v", items[0])
	}
	if !strings.Contains(items[0].ActivityJSON, `"Accept"`) || !strings.Contains(items[0].ActivityJSON, follow.Id()) {
		t.Errorf("Expected Accept of the follow, got %s", items[0].ActivityJSON)
	}
}

func TestPerformFollowFromBlockedActor(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	f.database.CreateBlock(ctx, &domain.Block{AccountId: f.alice.Id, TargetAccountId: f.bob.Id})

	follow := Object{"id": "https://remote.example/follows/1", "type": "Follow", "actor": f.bob.ActorURI, "object": f.aliceURI()}
	if got := f.perform(t, f.bob, follow); got != "skip: follower is blocked" {
		t.Fatalf("Expected blocked follow to be skipped, got %q", got)
	}
	if _, err := f.database.ReadFollow(ctx, f.bob.Id, f.alice.Id); err == nil {
		t.Error("Expected no follow to be stored")
	}
	items := f.queued(t)
	if len(items) != 1 || !strings.Contains(items[0].ActivityJSON, `"Reject"`) {
		t.Errorf("Expected one queued Reject, got %+v", items)
	}
}

func TestPerformFollowUnknownUser(t *testing.T) {
	f := newKernelFixture(t)
	follow := Object{"type": "Follow", "actor": f.bob.ActorURI, "object": f.kernel.urls.User("nobody")}
	if got := f.perform(t, f.bob, follow); got != "skip: followee not found" {
		t.Errorf("Expected skip, got %q", got)
	}
}

func TestPerformAcceptAndReject(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	request := &domain.Follow{AccountId: f.alice.Id, TargetAccountId: f.bob.Id, URI: f.kernel.urls.Follow(f.alice.Id, f.bob.Id)}
	f.database.CreateFollow(ctx, request)
	followObj := Object{"id": request.URI, "type": "Follow", "actor": f.aliceURI(), "object": f.bob.ActorURI}

	if got := f.perform(t, f.bob, Object{"type": "Accept", "actor": f.bob.ActorURI, "object": followObj}); got != "ok: Follow accepted" {
		t.Fatalf("Expected accept, got %q", got)
	}
	stored, _ := f.database.ReadFollow(ctx, f.alice.Id, f.bob.Id)
	if !stored.Accepted {
		t.Error("Expected follow to be accepted")
	}

	// the local follow URI is rendered by the resolver
	if got := f.perform(t, f.bob, Object{"type": "Reject", "actor": f.bob.ActorURI, "object": request.URI}); got != "ok: Follow rejected" {
		t.Fatalf("Expected reject, got %q", got)
	}
	if _, err := f.database.ReadFollow(ctx, f.alice.Id, f.bob.Id); err == nil {
		t.Error("Expected follow to be removed")
	}
	if f.fetcher.callCount() != 0 {
		t.Errorf("Expected no remote fetch, got %d", f.fetcher.callCount())
	}
}

func TestPerformAcceptSkips(t *testing.T) {
	f := newKernelFixture(t)
	carol := createRemoteAccount(t, f.database, "carol", "other.example")
	tests := []struct {
		name     string
		activity Object
		want     string
	}{
		{
			"reject of a like",
			Object{"type": "Reject", "object": Object{"id": "https://local.example/likes/1", "type": "Like"}},
			"skip: Unknown Reject type: Like",
		},
		{
			"accept of an announce",
			Object{"type": "Accept", "object": Object{"type": "Announce"}},
			"skip: Unknown Accept type: Announce",
		},
		{
			"remote follower",
			Object{"type": "Accept", "object": Object{"type": "Follow", "actor": carol.ActorURI, "object": f.bob.ActorURI}},
			"skip: follower is not local",
		},
		{
			"follow of someone else",
			Object{"type": "Accept", "object": Object{"type": "Follow", "actor": f.aliceURI(), "object": carol.ActorURI}},
			"skip: invalid follow object",
		},
		{
			"no pending request",
			Object{"type": "Accept", "object": Object{"type": "Follow", "actor": f.aliceURI(), "object": f.bob.ActorURI}},
			"skip: follow request not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.perform(t, f.bob, tt.activity); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPerformLikeAndUndo(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	note := &domain.Note{UserId: f.alice.Id, Message: "like me"}
	f.database.CreateNote(ctx, note)
	like := Object{"id": "https://remote.example/likes/1", "type": "Like", "actor": f.bob.ActorURI, "object": f.kernel.urls.Note(note.Id)}

	if got := f.perform(t, f.bob, like); got != "ok: Liked" {
		t.Fatalf("Expected like, got %q", got)
	}
	if got := f.perform(t, f.bob, like); got != "skip: already liked" {
		t.Errorf("Expected duplicate like to be skipped, got %q", got)
	}
	if _, err := f.database.ReadReaction(ctx, f.bob.Id, note.Id); err != nil {
		t.Fatalf("Expected stored reaction: %v", err)
	}

	if got := f.perform(t, f.bob, Object{"type": "Undo", "actor": f.bob.ActorURI, "object": like}); got != "ok: Unliked" {
		t.Errorf("Expected unlike, got %q", got)
	}
	if _, err := f.database.ReadReaction(ctx, f.bob.Id, note.Id); err == nil {
		t.Error("Expected reaction to be removed")
	}
}

func TestPerformUndo(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	follow := Object{"id": "https://remote.example/follows/1", "type": "Follow", "actor": f.bob.ActorURI, "object": f.aliceURI()}
	f.perform(t, f.bob, follow)

	if got := f.perform(t, f.bob, Object{"type": "Undo", "actor": f.bob.ActorURI, "object": follow}); got != "ok: Unfollowed" {
		t.Errorf("Expected unfollow, got %q", got)
	}
	if _, err := f.database.ReadFollow(ctx, f.bob.Id, f.alice.Id); err == nil {
		t.Error("Expected follow to be removed")
	}

	tests := []struct {
		name   string
		object Object
		want   string
	}{
		{"unknown type", Object{"type": "Move", "actor": f.bob.ActorURI}, "skip: Unknown Undo type: Move"},
		{"another actor's activity", Object{"type": "Follow", "actor": "https://remote.example/users/carol"}, "skip: invalid actor"},
		{"nothing to undo", follow, "skip: not following"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.perform(t, f.bob, Object{"type": "Undo", "object": tt.object}); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPerformBlockAndUndo(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	block := Object{"id": "https://remote.example/blocks/1", "type": "Block", "actor": f.bob.ActorURI, "object": f.aliceURI()}

	if got := f.perform(t, f.bob, block); got != "ok: Blocked" {
		t.Fatalf("Expected block, got %q", got)
	}
	if _, err := f.database.ReadBlock(ctx, f.bob.Id, f.alice.Id); err != nil {
		t.Fatalf("Expected stored block: %v", err)
	}
	if got := f.perform(t, f.bob, Object{"type": "Undo", "actor": f.bob.ActorURI, "object": block}); got != "ok: Unblocked" {
		t.Errorf("Expected unblock, got %q", got)
	}
}

func TestPerformAnnounceLocalNote(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	note := &domain.Note{UserId: f.alice.Id, Message: "boost me"}
	f.database.CreateNote(ctx, note)
	announce := Object{"id": "https://remote.example/announces/1", "type": "Announce", "actor": f.bob.ActorURI, "object": f.kernel.urls.Note(note.Id), "to": []any{PublicCollection}}

	if got := f.perform(t, f.bob, announce); got != "ok: Announced" {
		t.Fatalf("Expected announce, got %q", got)
	}
	renote, err := f.database.ReadNoteByURI(ctx, announce.Id())
	if err != nil {
		t.Fatalf("Expected stored renote: %v", err)
	}
	if renote.RenoteURI != f.kernel.urls.Note(note.Id) || renote.UserId != f.bob.Id {
		t.Errorf("Unexpected renote %+v", renote)
	}

	if got := f.perform(t, f.bob, Object{"type": "Undo", "actor": f.bob.ActorURI, "object": announce}); got != "ok: Unannounced" {
		t.Errorf("Expected unannounce, got %q", got)
	}
}

func TestPerformAnnounceRemoteNote(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	carolURI := "https://other.example/users/carol"
	noteURI := "https://other.example/notes/7"
	f.fetcher.docs[carolURI] = actorDocument(carolURI, "carol")
	f.fetcher.docs[noteURI] = withContext(Object{
		"id":           noteURI,
		"type":         "Note",
		"attributedTo": carolURI,
		"content":      "original",
		"cc":           []any{PublicCollection},
	})
	announce := Object{"id": "https://remote.example/announces/2", "type": "Announce", "actor": f.bob.ActorURI, "object": noteURI}

	if got := f.perform(t, f.bob, announce); got != "ok: Announced" {
		t.Fatalf("Expected announce, got %q", got)
	}
	original, err := f.database.ReadNoteByURI(ctx, noteURI)
	if err != nil {
		t.Fatalf("Expected announced note to be stored: %v", err)
	}
	if original.Message != "original" || original.Visibility != "home" {
		t.Errorf("Unexpected announced note %+v", original)
	}
	if _, err := f.database.ReadRemoteAccountByURI(ctx, carolURI); err != nil {
		t.Errorf("Expected author to be registered: %v", err)
	}
}

func TestPerformAnnounceSkips(t *testing.T) {
	f := newKernelFixture(t)
	f.database.SaveMeta(context.Background(), &domain.Meta{BlockedHosts: []string{"blocked.example"}})

	tests := []struct {
		name       string
		announceId string
		object     string
		want       string
	}{
		{"id on another host", "https://other.example/announces/1", "https://other.example/notes/1", "skip: invalid announce id"},
		{"target gone", "https://remote.example/announces/1", "https://other.example/notes/404", "skip: announce target unavailable"},
		{"target blocked", "https://remote.example/announces/2", "https://blocked.example/notes/1", "skip: announce target unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.perform(t, f.bob, Object{"id": tt.announceId, "type": "Announce", "actor": f.bob.ActorURI, "object": tt.object})
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPerformCollection(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	collection := Object{
		"type": "OrderedCollection",
		"orderedItems": []any{
			map[string]any{"type": "Create", "actor": f.bob.ActorURI, "object": map[string]any(remoteNote("https://remote.example/notes/1", f.bob, "one"))},
			map[string]any{"type": "Create", "actor": "https://remote.example/users/carol", "object": map[string]any(remoteNote("https://remote.example/notes/2", f.bob, "two"))},
		},
	}

	if got := f.perform(t, f.bob, collection); got != "ok: performed 1 of 2" {
		t.Errorf("Expected one item performed, got %q", got)
	}
	if _, err := f.database.ReadNoteByURI(ctx, "https://remote.example/notes/2"); err == nil {
		t.Error("Expected item of another actor to be ignored")
	}
}

func TestPerformAnnounceEmbeddedForeignNote(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	carolURI := "https://other.example/users/carol"
	noteURI := "https://other.example/notes/forged"
	f.fetcher.docs[carolURI] = actorDocument(carolURI, "carol")
	embedded := Object{
		"id":           noteURI,
		"type":         "Note",
		"attributedTo": carolURI,
		"content":      "words carol never wrote",
	}
	announce := Object{"id": "https://remote.example/announces/3", "type": "Announce", "actor": f.bob.ActorURI, "object": map[string]any(embedded)}

	got := f.perform(t, f.bob, announce)
	if !strings.HasPrefix(got, "skip: announce target unavailable") {
		t.Errorf("Expected the note to be looked up at its origin, got %q", got)
	}
	fetched := false
	for _, uri := range f.fetcher.calls {
		if uri == noteURI {
			fetched = true
		}
	}
	if !fetched {
		t.Error("Expected the announced note to be fetched from other.example")
	}
	if _, err := f.database.ReadNoteByURI(ctx, noteURI); err == nil {
		t.Error("Expected the embedded note not to be stored")
	}
}

func TestPerformAnnounceOriginDisagrees(t *testing.T) {
	f := newKernelFixture(t)
	carolURI := "https://other.example/users/carol"
	noteURI := "https://other.example/notes/8"
	f.fetcher.docs[carolURI] = actorDocument(carolURI, "carol")
	f.fetcher.docs[noteURI] = withContext(Object{
		"id":           "https://other.example/notes/9",
		"type":         "Note",
		"attributedTo": carolURI,
		"content":      "moved",
	})
	announce := Object{"id": "https://remote.example/announces/4", "type": "Announce", "actor": f.bob.ActorURI, "object": noteURI}

	if got := f.perform(t, f.bob, announce); got != "skip: announce target id mismatch" {
		t.Errorf("Expected id mismatch, got %q", got)
	}
}

func TestPerformAnnounceEmbeddedOwnNote(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	noteURI := "https://remote.example/notes/11"
	announce := Object{
		"id":     "https://remote.example/announces/5",
		"type":   "Announce",
		"actor":  f.bob.ActorURI,
		"object": map[string]any(remoteNote(noteURI, f.bob, "self boost")),
	}

	if got := f.perform(t, f.bob, announce); got != "ok: Announced" {
		t.Fatalf("Expected announce, got %q", got)
	}
	if f.fetcher.callCount() != 0 {
		t.Errorf("Expected a note of the announcing instance to be taken as embedded, got %v", f.fetcher.calls)
	}
	if _, err := f.database.ReadNoteByURI(ctx, noteURI); err != nil {
		t.Errorf("Expected embedded note to be stored: %v", err)
	}
}

func TestPerformCollectionReferencingItself(t *testing.T) {
	f := newKernelFixture(t)
	collURI := "https://remote.example/collections/1"
	f.fetcher.docs[collURI] = withContext(Object{
		"id":           collURI,
		"type":         "OrderedCollection",
		"actor":        f.bob.ActorURI,
		"orderedItems": []any{collURI},
	})
	inbound := Object{"type": "OrderedCollection", "actor": f.bob.ActorURI, "orderedItems": []any{collURI}}

	if got := f.perform(t, f.bob, inbound); got != "ok: performed 0 of 1" {
		t.Errorf("Expected the nested collection to be skipped, got %q", got)
	}
	if n := f.fetcher.callCount(); n != 1 {
		t.Errorf("Expected one fetch of the collection, got %d", n)
	}
}

func TestPerformCollectionSharesSession(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	createURI := "https://remote.example/activities/1"
	f.fetcher.docs[createURI] = withContext(Object{
		"id":     createURI,
		"type":   "Create",
		"actor":  f.bob.ActorURI,
		"object": map[string]any(remoteNote("https://remote.example/notes/21", f.bob, "once")),
	})
	inbound := Object{"type": "OrderedCollection", "actor": f.bob.ActorURI, "orderedItems": []any{createURI, createURI}}

	if got := f.perform(t, f.bob, inbound); got != "ok: performed 1 of 2" {
		t.Errorf("Expected the repeated item to be refused, got %q", got)
	}
	if n := f.fetcher.callCount(); n != 1 {
		t.Errorf("Expected one fetch per session, got %d", n)
	}
	if _, err := f.database.ReadNoteByURI(ctx, "https://remote.example/notes/21"); err != nil {
		t.Errorf("Expected note to be stored: %v", err)
	}
}

func TestVisibilityOf(t *testing.T) {
	tests := []struct {
		obj  Object
		want string
	}{
		{Object{"to": []any{PublicCollection}}, "public"},
		{Object{"to": "as:Public"}, "public"},
		{Object{"to": []any{"https://r.example/users/a/followers"}, "cc": []any{PublicCollection}}, "home"},
		{Object{"to": []any{"https://r.example/users/a/followers"}}, "followers"},
		{Object{"to": []any{"https://local.example/users/alice"}}, "specified"},
		{Object{}, "specified"},
	}
	for _, tt := range tests {
		if got := visibilityOf(tt.obj); got != tt.want {
			t.Errorf("visibilityOf(%v): expected %s, got %s", tt.obj, tt.want, got)
		}
	}
}
