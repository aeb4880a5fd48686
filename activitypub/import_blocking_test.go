package activitypub

import (
	"context"
	"strings"
	"testing"
)

func TestImportBlocking(t *testing.T) {
	users, database, getter, fetcher := setupUsers(t)
	actions := NewActions(database, NewOutbox(database, database), &Renderer{URLs: &URLs{Domain: testDomain}})
	importer := NewBlockImporter(users, actions)
	ctx := context.Background()

	alice := createLocalAccount(t, database, "alice")
	dave := createLocalAccount(t, database, "dave")
	bob := createRemoteAccount(t, database, "bob", "remote.example")
	carolURI := "https://other.example/users/carol"
	getter.docs[webfingerURL("carol", "other.example")] = selfLink(carolURI)
	fetcher.docs[carolURI] = actorDocument(carolURI, "carol")

	list := strings.Join([]string{
		"bob@remote.example",
		"@carol@other.example,true",
		"ghost@gone.example",
		"alice@local.example",
		"dave",
		"",
		"@",
	}, "\n")

	res, err := importer.ImportBlocking(ctx, alice, strings.NewReader(list))
	if err != nil {
		t.Fatalf("ImportBlocking failed: %v", err)
	}
	if res.Blocked != 3 || res.Skipped != 1 || res.Failed != 2 {
		t.Errorf("Expected 3 blocked, 1 skipped, 2 failed, got %+v", res)
	}

	if _, err := database.ReadBlock(ctx, alice.Id, bob.Id); err != nil {
		t.Errorf("Expected bob to be blocked: %v", err)
	}
	carol, err := database.ReadRemoteAccountByURI(ctx, carolURI)
	if err != nil {
		t.Fatalf("Expected carol to be resolved: %v", err)
	}
	if _, err := database.ReadBlock(ctx, alice.Id, carol.Id); err != nil {
		t.Errorf("Expected carol to be blocked: %v", err)
	}
	if _, err := database.ReadBlock(ctx, alice.Id, dave.Id); err != nil {
		t.Errorf("Expected local dave to be blocked: %v", err)
	}
	if _, err := database.ReadBlock(ctx, alice.Id, alice.Id); err == nil {
		t.Error("Expected self to be skipped")
	}

	// only remote users are notified
	if sent := queuedActivities(t, database); len(sent) != 2 {
		t.Errorf("Expected 2 queued Blocks, got %d", len(sent))
	}
}

func TestImportBlockingMalformedCSV(t *testing.T) {
	users, database, _, _ := setupUsers(t)
	actions := NewActions(database, NewOutbox(database, database), &Renderer{URLs: &URLs{Domain: testDomain}})
	alice := createLocalAccount(t, database, "alice")

	_, err := NewBlockImporter(users, actions).ImportBlocking(context.Background(), alice, strings.NewReader("\"unterminated\n"))
	if err == nil {
		t.Error("Expected a CSV syntax error")
	}
}
