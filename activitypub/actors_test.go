package activitypub

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/deemkeen/mammut/db"
)

func webfingerURL(username, host string) string {
	return "https://" + host + "/.well-known/webfinger?" + url.Values{"resource": {"acct:" + username + "@" + host}}.Encode()
}

func selfLink(href string) map[string]any {
	return map[string]any{
		"subject": "acct:someone",
		"links": []any{
			map[string]any{"rel": "http://webfinger.net/rel/profile-page", "type": "text/html", "href": "https://example/profile"},
			map[string]any{"rel": "self", "type": "application/activity+json", "href": href},
		},
	}
}

func setupUsers(t *testing.T) (*Users, *db.DB, *fakeJSON, *fakeFetcher) {
	t.Helper()
	database := setupDB(t)
	fetcher := newFakeFetcher()
	getter := newFakeJSON()
	conf := newTestResolverConfig(t, database, fetcher)
	return NewUsers(database, NewPersons(database, conf), getter, testDomain), database, getter, fetcher
}

func TestResolveUserLocal(t *testing.T) {
	users, database, getter, _ := setupUsers(t)
	alice := createLocalAccount(t, database, "alice")

	for _, host := range []string{"", testDomain, "LOCAL.example"} {
		got, err := users.ResolveUser(context.Background(), "alice", host)
		if err != nil {
			t.Fatalf("ResolveUser(alice, %q) failed: %v", host, err)
		}
		if got.Local == nil || got.Local.Id != alice.Id || got.Remote != nil {
			t.Errorf("Expected local alice for host %q, got %+v", host, got)
		}
	}
	if getter.callCount() != 0 {
		t.Errorf("Expected no WebFinger lookups, got %d", getter.callCount())
	}

	if _, err := users.ResolveUser(context.Background(), "nobody", ""); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown local user, got %v", err)
	}
}

func TestResolveAcct(t *testing.T) {
	users, database, _, _ := setupUsers(t)
	ctx := context.Background()
	alice := createLocalAccount(t, database, "alice")
	bob := createRemoteAccount(t, database, "bob", "remote.example")

	for _, acct := range []string{"alice", "@alice", "alice@local.example"} {
		got, err := users.ResolveAcct(ctx, acct)
		if err != nil || got.Local == nil || got.Local.Id != alice.Id {
			t.Errorf("ResolveAcct(%q) = %+v, %v; expected alice", acct, got, err)
		}
	}
	got, err := users.ResolveAcct(ctx, "@bob@remote.example")
	if err != nil || got.Remote == nil || got.Remote.Id != bob.Id {
		t.Errorf("Expected bob, got %+v, %v", got, err)
	}
	if _, err := users.ResolveAcct(ctx, "@"); err == nil {
		t.Error("Expected an error for an empty acct")
	}
}

func TestResolveUserDiscoversRemote(t *testing.T) {
	users, database, getter, fetcher := setupUsers(t)
	ctx := context.Background()
	uri := "https://remote.example/users/carol"
	getter.docs[webfingerURL("carol", "remote.example")] = selfLink(uri)
	fetcher.docs[uri] = actorDocument(uri, "carol")

	got, err := users.ResolveUser(ctx, "@carol", "remote.example")
	if err != nil {
		t.Fatalf("ResolveUser failed: %v", err)
	}
	if got.Remote == nil || got.Remote.ActorURI != uri {
		t.Fatalf("Expected carol at %s, got %+v", uri, got)
	}
	if _, err := database.ReadRemoteAccountByAcct(ctx, "carol", "remote.example"); err != nil {
		t.Errorf("Expected carol to be stored: %v", err)
	}

	// the cached user is fresh
	if _, err := users.ResolveUser(ctx, "carol", "remote.example"); err != nil {
		t.Fatalf("Second ResolveUser failed: %v", err)
	}
	if getter.callCount() != 1 || fetcher.callCount() != 1 {
		t.Errorf("Expected a single lookup, got %d webfinger and %d actor requests", getter.callCount(), fetcher.callCount())
	}
}

func TestResolveUserWithoutSelfLink(t *testing.T) {
	users, _, getter, _ := setupUsers(t)
	getter.docs[webfingerURL("carol", "remote.example")] = map[string]any{"links": []any{}}

	_, err := users.ResolveUser(context.Background(), "carol", "remote.example")
	if !errors.Is(err, ErrNoSelfLink) {
		t.Errorf("Expected ErrNoSelfLink, got %v", err)
	}
}

func TestResolveUserResyncRepairsURI(t *testing.T) {
	users, database, getter, fetcher := setupUsers(t)
	ctx := context.Background()
	bob := createRemoteAccount(t, database, "bob", "remote.example")
	database.TouchRemoteAccount(ctx, bob.Id, time.Now().Add(-2*UserResyncAge))

	moved := "https://remote.example/@bob"
	getter.docs[webfingerURL("bob", "remote.example")] = selfLink(moved)
	doc := actorDocument(moved, "bob")
	doc["name"] = "Bob Moved"
	fetcher.docs[moved] = doc

	got, err := users.ResolveUser(ctx, "bob", "remote.example")
	if err != nil {
		t.Fatalf("ResolveUser failed: %v", err)
	}
	if got.Remote.Id != bob.Id {
		t.Errorf("Expected the existing account to be kept")
	}
	if got.Remote.ActorURI != moved || got.Remote.DisplayName != "Bob Moved" {
		t.Errorf("Expected repaired and refreshed account, got %+v", got.Remote)
	}
}

func TestResolveUserResyncFailureKeepsCache(t *testing.T) {
	users, database, getter, fetcher := setupUsers(t)
	ctx := context.Background()
	bob := createRemoteAccount(t, database, "bob", "remote.example")
	database.TouchRemoteAccount(ctx, bob.Id, time.Now().Add(-2*UserResyncAge))
	getter.docs[webfingerURL("bob", "remote.example")] = selfLink("https://elsewhere.example/users/bob")

	got, err := users.ResolveUser(ctx, "bob", "remote.example")
	if err != nil {
		t.Fatalf("Expected cached user on failed resync, got %v", err)
	}
	if got.Remote.ActorURI != bob.ActorURI {
		t.Errorf("Expected URI to stay %s, got %s", bob.ActorURI, got.Remote.ActorURI)
	}
	if fetcher.callCount() != 0 {
		t.Errorf("Expected no actor fetch for a foreign self link, got %d", fetcher.callCount())
	}

	// the failed resync still counts as one
	users.ResolveUser(ctx, "bob", "remote.example")
	if getter.callCount() != 1 {
		t.Errorf("Expected one WebFinger lookup, got %d", getter.callCount())
	}
}
