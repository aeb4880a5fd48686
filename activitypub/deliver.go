package activitypub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// InstanceStore keeps per-host delivery health.
type InstanceStore interface {
	RegisterOrFetchInstance(ctx context.Context, host string) (*domain.Instance, error)
	UpdateInstanceHealth(ctx context.Context, id uuid.UUID, h domain.InstanceHealth) error
}

// SignerSource loads the local account a job is signed with.
type SignerSource interface {
	ReadAccById(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

// MetadataRefresher updates instance software information.
type MetadataRefresher interface {
	FetchInstanceMetadata(ctx context.Context, inst *domain.Instance) error
}

// Deliverer performs single delivery jobs.
type Deliverer struct {
	policy    *HostPolicy
	instances InstanceStore
	signers   SignerSource
	poster    Poster
	metadata  MetadataRefresher
	stats     *Stats

	// DebugHook, when set, sees every payload right before it is sent.
	DebugHook func(inbox, payload string)

	now    func() time.Time
	detach func(func())
	log    *log.Logger
}

func NewDeliverer(policy *HostPolicy, instances InstanceStore, signers SignerSource, poster Poster, metadata MetadataRefresher, stats *Stats) *Deliverer {
	return &Deliverer{
		policy:    policy,
		instances: instances,
		signers:   signers,
		poster:    poster,
		metadata:  metadata,
		stats:     stats,
		now:       time.Now,
		detach:    func(f func()) { go f() },
		log:       log.WithPrefix("deliver"),
	}
}

// Process delivers one job. A returned error means the job should be retried;
// otherwise the outcome string describes why the job is done.
func (d *Deliverer) Process(ctx context.Context, job *domain.DeliveryQueueItem) (string, error) {
	host, err := hostOf(job.InboxURI)
	if err != nil || host == "" {
		return "skip (invalid inbox)", nil
	}

	meta, err := d.policy.Meta(ctx)
	if err != nil {
		return "", err
	}
	if matchesAny(host, meta.BlockedHosts) {
		d.stats.skipped("blocked")
		return "skip (blocked)", nil
	}
	if !d.policy.allowed(meta, host) {
		d.stats.skipped("not_allowed")
		return "skip (not allowed)", nil
	}
	dead, err := d.policy.IsDead(ctx, host, DeliveryDeadThreshold)
	if err != nil {
		return "", err
	}
	if dead {
		d.stats.skipped("dead")
		return "skip (suspended or dead)", nil
	}

	signer, err := d.signers.ReadAccById(ctx, job.ActorId)
	if err != nil {
		return "", fmt.Errorf("signer %s: %w", job.ActorId, err)
	}
	inst, err := d.instances.RegisterOrFetchInstance(ctx, host)
	if err != nil {
		return "", fmt.Errorf("registering instance %s: %w", host, err)
	}

	if d.DebugHook != nil {
		d.DebugHook(job.InboxURI, job.ActivityJSON)
	}

	sentAt := d.now()
	err = d.poster.Post(ctx, job.InboxURI, []byte(job.ActivityJSON), signer)
	if err == nil {
		status := 200
		d.updateHealth(ctx, inst, domain.InstanceHealth{
			LatestRequestSentAt: sentAt,
			LatestStatus:        &status,
			LastCommunicatedAt:  &sentAt,
			IsNotResponding:     false,
		})
		if d.metadata != nil {
			d.detach(func() {
				if err := d.metadata.FetchInstanceMetadata(context.Background(), inst); err != nil {
					d.log.Debug("Metadata refresh failed", "host", host, "err", err)
				}
			})
		}
		d.stats.delivered(true)
		return "Success", nil
	}

	health := domain.InstanceHealth{LatestRequestSentAt: sentAt, IsNotResponding: true}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode
		health.LatestStatus = &code
	}
	d.updateHealth(ctx, inst, health)
	d.stats.delivered(false)

	if statusErr != nil && statusErr.IsClientError() {
		d.log.Warn("Delivery rejected", "inbox", job.InboxURI, "status", statusErr.StatusCode)
		return statusErr.Error(), nil
	}
	return "", fmt.Errorf("deliver to %s: %w", job.InboxURI, err)
}

func (d *Deliverer) updateHealth(ctx context.Context, inst *domain.Instance, h domain.InstanceHealth) {
	if err := d.instances.UpdateInstanceHealth(ctx, inst.Id, h); err != nil {
		d.log.Error("Failed to update instance health", "host", inst.Host, "err", err)
	}
}
