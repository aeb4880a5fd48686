package activitypub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// MetadataInterval is the minimum time between two metadata fetches of one
// instance.
const MetadataInterval = 24 * time.Hour

const (
	NodeInfoSchema21 = "http://nodeinfo.diaspora.software/ns/schema/2.1"
	NodeInfoSchema20 = "http://nodeinfo.diaspora.software/ns/schema/2.0"
)

var nodeinfoSchemas = []string{NodeInfoSchema21, NodeInfoSchema20}

// InstanceMetadataStore records fetched instance software.
type InstanceMetadataStore interface {
	UpdateInstanceMetadata(ctx context.Context, id uuid.UUID, softwareName, softwareVersion string, at time.Time) error
}

// MetadataFetcher reads remote software information from nodeinfo.
type MetadataFetcher struct {
	getter JSONGetter
	store  InstanceMetadataStore
	group  singleflight.Group
	now    func() time.Time
	log    *log.Logger
}

func NewMetadataFetcher(getter JSONGetter, store InstanceMetadataStore) *MetadataFetcher {
	return &MetadataFetcher{getter: getter, store: store, now: time.Now, log: log.WithPrefix("nodeinfo")}
}

// FetchInstanceMetadata refreshes the software name and version of inst,
// at most once per MetadataInterval. Concurrent calls for the same host share
// one fetch.
func (m *MetadataFetcher) FetchInstanceMetadata(ctx context.Context, inst *domain.Instance) error {
	if inst.InfoUpdatedAt != nil && m.now().Sub(*inst.InfoUpdatedAt) < MetadataInterval {
		return nil
	}
	_, err, _ := m.group.Do(inst.Host, func() (any, error) {
		return nil, m.fetch(ctx, inst)
	})
	return err
}

func (m *MetadataFetcher) fetch(ctx context.Context, inst *domain.Instance) error {
	wellKnown, err := m.getter.GetJSON(ctx, "https://"+inst.Host+"/.well-known/nodeinfo")
	if err != nil {
		return fmt.Errorf("nodeinfo discovery for %s: %w", inst.Host, err)
	}
	href := nodeinfoLink(wellKnown)
	if href == "" {
		return fmt.Errorf("no nodeinfo link for %s", inst.Host)
	}

	info, err := m.getter.GetJSON(ctx, href)
	if err != nil {
		return fmt.Errorf("nodeinfo for %s: %w", inst.Host, err)
	}
	software, _ := info["software"].(map[string]any)
	name, _ := software["name"].(string)
	version, _ := software["version"].(string)

	at := m.now()
	if err := m.store.UpdateInstanceMetadata(ctx, inst.Id, strings.ToLower(name), version, at); err != nil {
		return err
	}
	inst.SoftwareName, inst.SoftwareVersion, inst.InfoUpdatedAt = strings.ToLower(name), version, &at
	m.log.Debug("Fetched instance metadata", "host", inst.Host, "software", name, "version", version)
	return nil
}

func nodeinfoLink(doc map[string]any) string {
	links, _ := doc["links"].([]any)
	for _, schema := range nodeinfoSchemas {
		for _, l := range links {
			link, ok := l.(map[string]any)
			if !ok {
				continue
			}
			if rel, _ := link["rel"].(string); rel == schema {
				href, _ := link["href"].(string)
				return href
			}
		}
	}
	return ""
}
