package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
)

// maxResponseSize caps remote documents.
const maxResponseSize = 1 << 20

// StatusError is a non-2xx response from a remote server.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, e.Status)
}

// IsClientError reports a 4xx response, which resending cannot fix.
func (e *StatusError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Fetcher retrieves remote ActivityPub documents. A nil signer sends an
// unsigned request.
type Fetcher interface {
	Get(ctx context.Context, uri string, signer *domain.Account) (Object, error)
}

// Poster sends signed activities to inboxes.
type Poster interface {
	Post(ctx context.Context, inbox string, body []byte, signer *domain.Account) error
}

// JSONGetter fetches plain JSON documents such as nodeinfo.
type JSONGetter interface {
	GetJSON(ctx context.Context, uri string) (map[string]any, error)
}

// HTTPFetcher talks to remote servers over HTTP(S).
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
	// KeyId returns the signature keyId of a local account.
	KeyId func(acc *domain.Account) string
}

func NewHTTPFetcher(localDomain string, urls *URLs) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: 15 * time.Second},
		UserAgent: util.UserAgent(localDomain),
		KeyId:     urls.KeyId,
	}
}

func (f *HTTPFetcher) sign(req *http.Request, signer *domain.Account, body []byte) error {
	if signer == nil {
		return nil
	}
	key, err := ParsePrivateKey(signer.WebPrivateKey)
	if err != nil {
		return fmt.Errorf("signing key of %s: %w", signer.Username, err)
	}
	return SignRequest(req, key, f.KeyId(signer), body)
}

func (f *HTTPFetcher) do(req *http.Request) ([]byte, error) {
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

func (f *HTTPFetcher) newRequest(ctx context.Context, method, uri string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	return req, nil
}

// Get fetches an ActivityPub document, signed by signer when given.
func (f *HTTPFetcher) Get(ctx context.Context, uri string, signer *domain.Account) (Object, error) {
	req, err := f.newRequest(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", ContentType+", "+ldContentType)
	if err := f.sign(req, signer, nil); err != nil {
		return nil, err
	}

	body, err := f.do(req)
	if err != nil {
		return nil, err
	}
	var obj Object
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse response of %s: %w", uri, err)
	}
	return obj, nil
}

func (f *HTTPFetcher) GetJSON(ctx context.Context, uri string) (map[string]any, error) {
	req, err := f.newRequest(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	body, err := f.do(req)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse response of %s: %w", uri, err)
	}
	return doc, nil
}

// Post delivers body to inbox signed by signer.
func (f *HTTPFetcher) Post(ctx context.Context, inbox string, body []byte, signer *domain.Account) error {
	req, err := f.newRequest(ctx, http.MethodPost, inbox, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ContentType)
	if err := f.sign(req, signer, body); err != nil {
		return err
	}
	_, err = f.do(req)
	return err
}
