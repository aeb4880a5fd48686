package activitypub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
)

const testDomain = "local.example"

// fakeFetcher serves canned documents and records every request.
type fakeFetcher struct {
	mu      sync.Mutex
	docs    map[string]Object
	errs    map[string]error
	calls   []string
	signers []*domain.Account
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{docs: map[string]Object{}, errs: map[string]error{}}
}

func (f *fakeFetcher) Get(ctx context.Context, uri string, signer *domain.Account) (Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, uri)
	f.signers = append(f.signers, signer)
	if err, ok := f.errs[uri]; ok {
		return nil, err
	}
	doc, ok := f.docs[uri]
	if !ok {
		return nil, &StatusError{StatusCode: 404, Status: "Not Found"}
	}
	return doc, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func withContext(obj Object) Object {
	obj["@context"] = ActivityStreamsContext
	return obj
}

func setupDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func newTestResolverConfig(t *testing.T, database *db.DB, fetcher Fetcher) *ResolverConfig {
	urls := &URLs{Domain: testDomain}
	return &ResolverConfig{
		URLs:     urls,
		Policy:   NewHostPolicy(database, database, testDomain),
		Fetcher:  fetcher,
		Local:    database,
		Renderer: &Renderer{URLs: urls},
	}
}

var (
	testKeyOnce sync.Once
	testKeys    *util.RsaKeyPair
)

// testKeypair returns one shared keypair; generating 4096 bit keys per test is slow.
func testKeypair() *util.RsaKeyPair {
	testKeyOnce.Do(func() {
		testKeys = util.GeneratePemKeypair()
	})
	return testKeys
}

func createLocalAccount(t *testing.T, database *db.DB, username string) *domain.Account {
	t.Helper()
	keys := testKeypair()
	acc := &domain.Account{Username: username, WebPublicKey: keys.Public, WebPrivateKey: keys.Private}
	if err := database.CreateAccount(context.Background(), acc); err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}
	return acc
}

func createRemoteAccount(t *testing.T, database *db.DB, username, host string) *domain.RemoteAccount {
	t.Helper()
	actor := fmt.Sprintf("https://%s/users/%s", host, username)
	acc := &domain.RemoteAccount{
		Username:      username,
		Domain:        host,
		ActorURI:      actor,
		InboxURI:      actor + "/inbox",
		PublicKeyId:   actor + "#main-key",
		PublicKeyPem:  testKeypair().Public,
		LastFetchedAt: time.Now(),
	}
	if err := database.CreateRemoteAccount(context.Background(), acc); err != nil {
		t.Fatalf("Failed to create remote account: %v", err)
	}
	return acc
}

// fakeJSON serves canned plain JSON documents.
type fakeJSON struct {
	mu    sync.Mutex
	docs  map[string]map[string]any
	calls []string
}

func newFakeJSON() *fakeJSON {
	return &fakeJSON{docs: map[string]map[string]any{}}
}

func (f *fakeJSON) GetJSON(ctx context.Context, uri string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, uri)
	doc, ok := f.docs[uri]
	if !ok {
		return nil, &StatusError{StatusCode: 404, Status: "Not Found"}
	}
	return doc, nil
}

func (f *fakeJSON) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakePoster records POSTs and fails the inboxes listed in errs.
type fakePoster struct {
	mu     sync.Mutex
	posts  []string
	bodies []string
	errs   map[string]error
}

func newFakePoster() *fakePoster {
	return &fakePoster{errs: map[string]error{}}
}

func (f *fakePoster) Post(ctx context.Context, inbox string, body []byte, signer *domain.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, inbox)
	f.bodies = append(f.bodies, string(body))
	return f.errs[inbox]
}

func (f *fakePoster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func timeFarFuture() time.Time {
	return time.Now().Add(365 * 24 * time.Hour)
}
