package activitypub

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// AuthenticatedActor is the remote actor that signed a request.
type AuthenticatedActor struct {
	Account      *domain.RemoteAccount
	PublicKeyPem string
}

// KeyStore finds cached actors by signature keyId.
type KeyStore interface {
	ReadRemoteAccountByKeyId(ctx context.Context, keyId string) (*domain.RemoteAccount, error)
}

// ActorResolver fetches an actor not yet known locally.
type ActorResolver interface {
	ResolvePerson(ctx context.Context, uri string, resolver *Resolver) (*domain.RemoteAccount, error)
}

// MaxClockSkew is how far the signed Date of a request may be from now.
const MaxClockSkew = time.Hour

// Verifier authenticates inbound HTTP signatures.
type Verifier struct {
	policy *HostPolicy
	keys   KeyStore
	actors ActorResolver
	cache  *expirable.LRU[string, *AuthenticatedActor]
	now    func() time.Time
	log    *log.Logger
}

func NewVerifier(policy *HostPolicy, keys KeyStore, actors ActorResolver) *Verifier {
	return &Verifier{
		policy: policy,
		keys:   keys,
		actors: actors,
		cache:  expirable.NewLRU[string, *AuthenticatedActor](1024, nil, 10*time.Minute),
		now:    time.Now,
		log:    log.WithPrefix("verify"),
	}
}

// CheckFetch authorizes a GET of a local object. Outside secure and private
// mode every request passes. Returns 200, 401 or 403 (500 when the server
// settings cannot be read).
func (v *Verifier) CheckFetch(req *http.Request) int {
	ctx := req.Context()
	meta, err := v.policy.Meta(ctx)
	if err != nil {
		v.log.Error("Reading meta failed", "err", err)
		return http.StatusInternalServerError
	}
	if !meta.SecureMode && !meta.PrivateMode {
		return http.StatusOK
	}
	_, status := v.verify(ctx, req, meta, false)
	return status
}

// Authenticate verifies the signature of an inbox POST and the digest of its
// body, returning the signing actor on 200. The signature must cover the
// digest.
func (v *Verifier) Authenticate(req *http.Request, body []byte) (*AuthenticatedActor, int) {
	ctx := req.Context()
	meta, err := v.policy.Meta(ctx)
	if err != nil {
		v.log.Error("Reading meta failed", "err", err)
		return nil, http.StatusInternalServerError
	}
	if err := verifyDigest(req.Header.Get("Digest"), body); err != nil {
		v.log.Warn("Digest rejected", "err", err)
		return nil, http.StatusUnauthorized
	}
	return v.verify(ctx, req, meta, true)
}

func (v *Verifier) verify(ctx context.Context, req *http.Request, meta *domain.Meta, withBody bool) (*AuthenticatedActor, int) {
	sig, err := parseSignature(req)
	if err != nil {
		return nil, http.StatusUnauthorized
	}
	if err := checkSignedHeaders(req, withBody); err != nil {
		v.log.Warn("Signature rejected", "keyId", sig.KeyId(), "err", err)
		return nil, http.StatusUnauthorized
	}
	if err := checkDate(req.Header.Get("Date"), v.now(), MaxClockSkew); err != nil {
		v.log.Warn("Signature rejected", "keyId", sig.KeyId(), "err", err)
		return nil, http.StatusUnauthorized
	}

	rawKeyId := sig.KeyId()
	keyId, err := url.Parse(rawKeyId)
	if err != nil {
		return nil, http.StatusUnauthorized
	}
	host := util.ToPuny(keyId.Hostname())

	if matchesAny(host, meta.BlockedHosts) {
		return nil, http.StatusForbidden
	}
	if !v.policy.allowed(meta, host) {
		return nil, http.StatusForbidden
	}

	// old keyId is no longer supported
	if strings.HasPrefix(strings.ToLower(rawKeyId), "acct:") {
		return nil, http.StatusUnauthorized
	}

	actor, cached := v.cache.Get(rawKeyId)
	if !cached {
		actor = v.lookup(ctx, rawKeyId)
	}
	if actor == nil {
		return nil, http.StatusForbidden
	}

	if actor.PublicKeyPem == "" {
		return nil, http.StatusForbidden
	}
	if actor.Account.Domain != host {
		v.log.Warn("Key host does not match actor", "keyId", rawKeyId, "actor", actor.Account.ActorURI)
		return nil, http.StatusForbidden
	}

	if err := verifySignature(sig, actor.PublicKeyPem); err != nil {
		v.log.Debug("Signature rejected", "keyId", rawKeyId, "err", err)
		v.cache.Remove(rawKeyId)
		return nil, http.StatusForbidden
	}

	v.cache.Add(rawKeyId, actor)
	return actor, http.StatusOK
}

// lookup finds the actor owning keyId locally, else resolves the keyId with
// its fragment removed as an actor URI.
func (v *Verifier) lookup(ctx context.Context, keyId string) *AuthenticatedActor {
	acc, err := v.keys.ReadRemoteAccountByKeyId(ctx, keyId)
	if err != nil {
		acc, err = v.actors.ResolvePerson(ctx, stripFragment(keyId), nil)
		if err != nil {
			v.log.Debug("Resolving signer failed", "keyId", keyId, "err", err)
			return nil
		}
	}
	return &AuthenticatedActor{Account: acc, PublicKeyPem: acc.PublicKeyPem}
}
