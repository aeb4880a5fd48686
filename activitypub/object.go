package activitypub

import (
	"net/url"
	"strings"

	"github.com/deemkeen/mammut/util"
)

const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	SecurityContext        = "https://w3id.org/security/v1"
	PublicCollection       = "https://www.w3.org/ns/activitystreams#Public"

	ContentType = "application/activity+json"
	// ldContentType is the alternative AP media type accepted from remote servers.
	ldContentType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
)

// Object is an untyped ActivityPub document.
type Object map[string]any

// Id returns the object's id, or "" when it has none.
func (o Object) Id() string {
	s, _ := o["id"].(string)
	return s
}

// Type returns the first declared type.
func (o Object) Type() string {
	switch t := o["type"].(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// String returns a string field, or "".
func (o Object) String(key string) string {
	s, _ := o[key].(string)
	return s
}

// Ref returns the id of a field holding either a URI or an embedded object.
func (o Object) Ref(key string) string {
	return apId(o[key])
}

// HasContext reports whether the document declares the ActivityStreams context,
// either as the context string or inside a context array.
func (o Object) HasContext() bool {
	switch c := o["@context"].(type) {
	case string:
		return c == ActivityStreamsContext
	case []any:
		for _, v := range c {
			if s, ok := v.(string); ok && s == ActivityStreamsContext {
				return true
			}
		}
	}
	return false
}

// apId returns the id of a URI string or embedded object.
func apId(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case Object:
		return x.Id()
	case map[string]any:
		return Object(x).Id()
	}
	return ""
}

// asObject converts an embedded JSON value to an Object.
func asObject(v any) (Object, bool) {
	switch x := v.(type) {
	case Object:
		return x, true
	case map[string]any:
		return Object(x), true
	}
	return nil, false
}

func isActorType(t string) bool {
	switch t {
	case "Person", "Service", "Application", "Group", "Organization":
		return true
	}
	return false
}

func isPostType(t string) bool {
	switch t {
	case "Note", "Question", "Article", "Page", "Event", "Audio", "Video", "Image":
		return true
	}
	return false
}

func isCollectionType(t string) bool {
	switch t {
	case "Collection", "OrderedCollection", "CollectionPage", "OrderedCollectionPage":
		return true
	}
	return false
}

// hostOf returns the punycode host of a URI, without port.
func hostOf(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	return util.ToPuny(u.Hostname()), nil
}

// stripFragment removes the "#..." part of a URI.
func stripFragment(uri string) string {
	if i := strings.IndexByte(uri, '#'); i >= 0 {
		return uri[:i]
	}
	return uri
}
