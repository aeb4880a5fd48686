package activitypub

import (
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// Renderer turns local records into ActivityPub objects.
type Renderer struct {
	URLs *URLs
}

// RenderActivity adds the JSON-LD context to a top-level object.
func (r *Renderer) RenderActivity(obj Object) Object {
	out := Object{"@context": []any{ActivityStreamsContext, SecurityContext}}
	for k, v := range obj {
		out[k] = v
	}
	return out
}

func (r *Renderer) RenderPerson(acc *domain.Account) Object {
	actor := r.URLs.User(acc.Username)
	return Object{
		"id":                actor,
		"type":              "Person",
		"preferredUsername": acc.Username,
		"name":              acc.DisplayName,
		"summary":           acc.Summary,
		"inbox":             r.URLs.Inbox(acc.Username),
		"outbox":            actor + "/outbox",
		"followers":         r.URLs.Followers(acc.Username),
		"url":               actor,
		"published":         acc.CreatedAt.UTC().Format(time.RFC3339),
		"endpoints": map[string]any{
			"sharedInbox": r.URLs.SharedInbox(),
		},
		"publicKey": map[string]any{
			"id":           r.URLs.KeyId(acc),
			"owner":        actor,
			"publicKeyPem": acc.WebPublicKey,
		},
	}
}

// audience returns the to and cc lists for a visibility.
func (r *Renderer) audience(visibility string, author *domain.Account) ([]any, []any) {
	followers := r.URLs.Followers(author.Username)
	switch visibility {
	case "home":
		return []any{followers}, []any{PublicCollection}
	case "followers":
		return []any{followers}, []any{}
	case "specified":
		return []any{}, []any{}
	default:
		return []any{PublicCollection}, []any{followers}
	}
}

func (r *Renderer) RenderNote(note *domain.Note, author *domain.Account) Object {
	to, cc := r.audience(note.Visibility, author)
	obj := Object{
		"id":           r.URLs.Note(note.Id),
		"type":         "Note",
		"attributedTo": r.URLs.User(author.Username),
		"content":      note.Message,
		"published":    note.CreatedAt.UTC().Format(time.RFC3339),
		"to":           to,
		"cc":           cc,
		"sensitive":    note.Sensitive,
	}
	if note.InReplyToURI != "" {
		obj["inReplyTo"] = note.InReplyToURI
	}
	if note.EditedAt != nil {
		obj["updated"] = note.EditedAt.UTC().Format(time.RFC3339)
	}
	return obj
}

// RenderCreate wraps a rendered note in the Create activity that published it.
func (r *Renderer) RenderCreate(note *domain.Note, noteObj Object) Object {
	return Object{
		"id":        r.URLs.NoteActivity(note.Id),
		"type":      "Create",
		"actor":     noteObj["attributedTo"],
		"published": noteObj["published"],
		"to":        noteObj["to"],
		"cc":        noteObj["cc"],
		"object":    noteObj,
	}
}

func (r *Renderer) RenderQuestion(note *domain.Note, author *domain.Account, poll *domain.Poll) Object {
	obj := r.RenderNote(note, author)
	obj["id"] = r.URLs.Question(note.Id)
	obj["type"] = "Question"
	obj["actor"] = r.URLs.User(author.Username)

	choices := make([]any, len(poll.Choices))
	for i, name := range poll.Choices {
		votes := 0
		if i < len(poll.Votes) {
			votes = poll.Votes[i]
		}
		choices[i] = map[string]any{
			"type": "Note",
			"name": name,
			"replies": map[string]any{
				"type":       "Collection",
				"totalItems": votes,
			},
		}
	}
	if poll.Multiple {
		obj["anyOf"] = choices
	} else {
		obj["oneOf"] = choices
	}
	if poll.ExpiresAt != nil {
		obj["endTime"] = poll.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return obj
}

func (r *Renderer) RenderLike(reaction *domain.Reaction, actorURI, noteURI string) Object {
	return Object{
		"id":     r.URLs.Like(reaction.Id),
		"type":   "Like",
		"actor":  actorURI,
		"object": noteURI,
	}
}

func (r *Renderer) RenderFollow(followerURI, followeeURI, id string) Object {
	return Object{
		"id":     id,
		"type":   "Follow",
		"actor":  followerURI,
		"object": followeeURI,
	}
}

// RenderAccept answers object on behalf of actorURI.
func (r *Renderer) RenderAccept(object Object, actorURI string) Object {
	return Object{
		"id":     r.URLs.Activity(uuid.New()),
		"type":   "Accept",
		"actor":  actorURI,
		"object": object,
	}
}

func (r *Renderer) RenderReject(object Object, actorURI string) Object {
	return Object{
		"id":     r.URLs.Activity(uuid.New()),
		"type":   "Reject",
		"actor":  actorURI,
		"object": object,
	}
}

func (r *Renderer) RenderBlock(blockerURI, blockeeURI string, id uuid.UUID) Object {
	return Object{
		"id":     r.URLs.Activity(id),
		"type":   "Block",
		"actor":  blockerURI,
		"object": blockeeURI,
	}
}

// RenderUndo retracts an activity previously sent by actorURI.
func (r *Renderer) RenderUndo(object Object, actorURI string) Object {
	return Object{
		"id":     r.URLs.Activity(uuid.New()),
		"type":   "Undo",
		"actor":  actorURI,
		"object": object,
	}
}

// RenderUpdate announces a changed object of actorURI.
func (r *Renderer) RenderUpdate(object Object, actorURI string) Object {
	return Object{
		"id":     r.URLs.Activity(uuid.New()),
		"type":   "Update",
		"actor":  actorURI,
		"object": object,
	}
}
