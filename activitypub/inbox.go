package activitypub

import (
	"context"
	"strings"
	"time"

	"github.com/deemkeen/mammut/domain"
)

// StaleActorAge is how old a cached remote actor may get before an inbound
// activity triggers a refresh.
const StaleActorAge = 24 * time.Hour

// Perform records and performs one verified inbound activity. Activities
// already processed are skipped; the sending instance is registered and a
// stale actor is refreshed in the background.
func (k *Kernel) Perform(ctx context.Context, actor *domain.RemoteAccount, activity Object, raw []byte) (string, error) {
	if declared := activity.Ref("actor"); declared != "" {
		if host, err := hostOf(declared); err != nil || host != actor.Domain {
			return "skip: actor does not match signer", nil
		}
	}

	record, skip, err := k.record(ctx, actor, activity, raw)
	if err != nil || skip != "" {
		return skip, err
	}

	k.registerInstance(ctx, actor.Domain)

	outcome, err := k.PerformActivity(ctx, actor, activity)
	switch {
	case err != nil:
		k.conf.Stats.received(activity.Type(), "error")
		k.log.Warn("Activity failed", "type", activity.Type(), "actor", actor.Acct(), "err", err)
	case strings.HasPrefix(outcome, "skip"):
		k.conf.Stats.received(activity.Type(), "skip")
		k.log.Debug("Activity skipped", "type", activity.Type(), "actor", actor.Acct(), "outcome", outcome)
	default:
		k.conf.Stats.received(activity.Type(), "ok")
		k.log.Info("Activity performed", "type", activity.Type(), "actor", actor.Acct(), "outcome", outcome)
	}

	if err == nil && record != nil {
		if merr := k.store.MarkActivityProcessed(ctx, record.Id); merr != nil {
			k.log.Error("Failed to mark activity processed", "id", record.ActivityURI, "err", merr)
		}
	}

	if k.now().Sub(actor.LastFetchedAt) > StaleActorAge {
		uri := actor.ActorURI
		k.detach(func() {
			if err := k.conf.Persons.UpdatePerson(context.Background(), uri, nil, nil); err != nil {
				k.log.Debug("Actor refresh failed", "actor", uri, "err", err)
			}
		})
	}
	return outcome, err
}

// record stores the activity for deduplication. A processed duplicate yields
// a skip outcome.
func (k *Kernel) record(ctx context.Context, actor *domain.RemoteAccount, activity Object, raw []byte) (*domain.Activity, string, error) {
	id := activity.Id()
	if id == "" {
		return nil, "", nil
	}
	prev, err := k.store.ReadActivityByURI(ctx, id)
	if err == nil {
		if prev.Processed {
			return nil, "skip: already processed", nil
		}
		return prev, "", nil
	}
	if !missing(err) {
		return nil, "", err
	}

	record := &domain.Activity{
		ActivityURI:  id,
		ActivityType: activity.Type(),
		ActorURI:     actor.ActorURI,
		ObjectURI:    activity.Ref("object"),
		RawJSON:      string(raw),
	}
	if err := k.store.CreateActivity(ctx, record); err != nil {
		// a concurrent delivery of the same activity
		return nil, "skip: already received", nil
	}
	return record, "", nil
}

func (k *Kernel) registerInstance(ctx context.Context, host string) {
	inst, err := k.store.RegisterOrFetchInstance(ctx, host)
	if err != nil {
		k.log.Error("Failed to register instance", "host", host, "err", err)
		return
	}
	if k.conf.Metadata == nil {
		return
	}
	k.detach(func() {
		if err := k.conf.Metadata.FetchInstanceMetadata(context.Background(), inst); err != nil {
			k.log.Debug("Metadata refresh failed", "host", host, "err", err)
		}
	})
}
