package activitypub

import (
	"context"
	"testing"
)

func TestCreatePerson(t *testing.T) {
	database := setupDB(t)
	fetcher := newFakeFetcher()
	persons := NewPersons(database, newTestResolverConfig(t, database, fetcher))
	actor := "https://remote.example/users/carol"
	doc := actorDocument(actor, "carol")
	doc["name"] = "Carol"
	fetcher.docs[actor] = doc

	acc, err := persons.ResolvePerson(context.Background(), actor, nil)
	if err != nil {
		t.Fatalf("ResolvePerson failed: %v", err)
	}
	if acc.Acct() != "carol@remote.example" {
		t.Errorf("Expected carol@remote.example, got %s", acc.Acct())
	}
	if acc.DisplayName != "Carol" || acc.PublicKeyId != actor+"#main-key" {
		t.Errorf("Unexpected account %+v", acc)
	}

	// cached afterwards
	if _, err := persons.ResolvePerson(context.Background(), actor, nil); err != nil {
		t.Fatalf("Second ResolvePerson failed: %v", err)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Expected one fetch, got %d", fetcher.callCount())
	}
}

func TestCreatePersonRejectsInvalidActors(t *testing.T) {
	actor := "https://remote.example/users/carol"
	tests := []struct {
		name   string
		mutate func(Object)
	}{
		{"foreign id", func(o Object) { o["id"] = "https://elsewhere.example/users/carol" }},
		{"not an actor", func(o Object) { o["type"] = "Note" }},
		{"no inbox", func(o Object) { delete(o, "inbox") }},
		{"no key", func(o Object) { delete(o, "publicKey") }},
		{"bad username", func(o Object) { o["preferredUsername"] = "car ol" }},
		{"key of someone else", func(o Object) {
			o["publicKey"] = map[string]any{"id": "x", "owner": "https://remote.example/users/dave", "publicKeyPem": "pem"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database := setupDB(t)
			fetcher := newFakeFetcher()
			doc := actorDocument(actor, "carol")
			tt.mutate(doc)
			fetcher.docs[actor] = doc

			persons := NewPersons(database, newTestResolverConfig(t, database, fetcher))
			if _, err := persons.CreatePerson(context.Background(), actor, nil); err == nil {
				t.Error("Expected CreatePerson to fail")
			}
			if _, err := database.ReadRemoteAccountByURI(context.Background(), actor); err == nil {
				t.Error("Expected nothing to be stored")
			}
		})
	}
}

func TestUpdatePerson(t *testing.T) {
	database := setupDB(t)
	fetcher := newFakeFetcher()
	persons := NewPersons(database, newTestResolverConfig(t, database, fetcher))
	bob := createRemoteAccount(t, database, "bob", "remote.example")

	doc := actorDocument(bob.ActorURI, "bob")
	doc["name"] = "Robert"
	if err := persons.UpdatePerson(context.Background(), bob.ActorURI, nil, doc); err != nil {
		t.Fatalf("UpdatePerson failed: %v", err)
	}
	updated, _ := database.ReadRemoteAccountByURI(context.Background(), bob.ActorURI)
	if updated.DisplayName != "Robert" {
		t.Errorf("Expected display name Robert, got %q", updated.DisplayName)
	}
	if updated.Id != bob.Id {
		t.Error("Expected update to keep the account id")
	}
	if fetcher.callCount() != 0 {
		t.Errorf("Expected the supplied document to be used, got %d fetches", fetcher.callCount())
	}

	if err := persons.UpdatePerson(context.Background(), "https://remote.example/users/unknown", nil, nil); err == nil {
		t.Error("Expected update of unknown actor to fail")
	}
}
