package activitypub

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/deemkeen/mammut/domain"
)

const (
	// DeliveryDeadThreshold is how long an instance may go without a
	// successful contact before the delivery worker stops sending to it.
	DeliveryDeadThreshold = 30 * 24 * time.Hour
	// SkipDeadThreshold is the stricter window used by SkippedInstances.
	SkipDeadThreshold = 7 * 24 * time.Hour
)

// MetaSource provides the server-wide federation settings.
type MetaSource interface {
	ReadMeta(ctx context.Context) (*domain.Meta, error)
}

// InstanceReader looks up instance records by punycode host.
type InstanceReader interface {
	ReadInstancesByHosts(ctx context.Context, hosts []string) ([]domain.Instance, error)
}

// HostPolicy decides which remote hosts may be contacted.
type HostPolicy struct {
	meta      MetaSource
	instances InstanceReader
	localHost string
	now       func() time.Time
}

func NewHostPolicy(meta MetaSource, instances InstanceReader, localHost string) *HostPolicy {
	return &HostPolicy{meta: meta, instances: instances, localHost: localHost, now: time.Now}
}

// LocalHost is the punycode host of this server.
func (p *HostPolicy) LocalHost() string {
	return p.localHost
}

// Meta reads the current federation settings.
func (p *HostPolicy) Meta(ctx context.Context) (*domain.Meta, error) {
	return p.meta.ReadMeta(ctx)
}

// MatchHost reports whether host matches pattern, where each "*" matches any
// substring (including the empty one). The match is anchored at both ends.
func MatchHost(host, pattern string) bool {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(host)
}

func matchesAny(host string, patterns []string) bool {
	for _, pattern := range patterns {
		if MatchHost(host, pattern) {
			return true
		}
	}
	return false
}

// IsBlocked reports whether host matches any blocklist pattern.
func (p *HostPolicy) IsBlocked(ctx context.Context, host string) (bool, error) {
	meta, err := p.meta.ReadMeta(ctx)
	if err != nil {
		return false, err
	}
	return matchesAny(host, meta.BlockedHosts), nil
}

// IsAllowedUnderPrivateMode is true when private mode is off, or host is this
// server or on the allowlist.
func (p *HostPolicy) IsAllowedUnderPrivateMode(ctx context.Context, host string) (bool, error) {
	meta, err := p.meta.ReadMeta(ctx)
	if err != nil {
		return false, err
	}
	return p.allowed(meta, host), nil
}

func (p *HostPolicy) allowed(meta *domain.Meta, host string) bool {
	if !meta.PrivateMode || host == p.localHost {
		return true
	}
	for _, h := range meta.AllowedHosts {
		if h == host {
			return true
		}
	}
	return false
}

// IsDead reports whether host is suspended, answered 410 Gone on the last
// contact, or has not been reached successfully within threshold. Hosts
// without an instance record are alive.
func (p *HostPolicy) IsDead(ctx context.Context, host string, threshold time.Duration) (bool, error) {
	instances, err := p.instances.ReadInstancesByHosts(ctx, []string{host})
	if err != nil {
		return false, err
	}
	for _, inst := range instances {
		if p.dead(&inst, threshold) {
			return true, nil
		}
	}
	return false, nil
}

func (p *HostPolicy) dead(inst *domain.Instance, threshold time.Duration) bool {
	if inst.IsSuspended {
		return true
	}
	if inst.LatestStatus != nil && *inst.LatestStatus == 410 {
		return true
	}
	deadTime := p.now().Add(-threshold)
	return inst.LastCommunicatedAt != nil && inst.LastCommunicatedAt.Before(deadTime)
}

// SkippedInstances returns the subset of hosts that should not be contacted:
// blocked ones first, then dead ones by SkipDeadThreshold. When every host is
// blocked the instance store is not consulted.
func (p *HostPolicy) SkippedInstances(ctx context.Context, hosts []string) ([]string, error) {
	meta, err := p.meta.ReadMeta(ctx)
	if err != nil {
		return nil, err
	}

	var skipped, rest []string
	for _, host := range hosts {
		if matchesAny(host, meta.BlockedHosts) {
			skipped = append(skipped, host)
		} else {
			rest = append(rest, host)
		}
	}

	// if possible return early and skip accessing the database
	if len(rest) == 0 {
		return hosts, nil
	}

	instances, err := p.instances.ReadInstancesByHosts(ctx, rest)
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		if p.dead(&inst, SkipDeadThreshold) {
			skipped = append(skipped, inst.Host)
		}
	}
	return skipped, nil
}

// ShouldSkipInstance is SkippedInstances for a single host.
func (p *HostPolicy) ShouldSkipInstance(ctx context.Context, host string) (bool, error) {
	skipped, err := p.SkippedInstances(ctx, []string{host})
	if err != nil {
		return false, err
	}
	return len(skipped) > 0, nil
}
