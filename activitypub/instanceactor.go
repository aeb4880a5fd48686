package activitypub

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
)

// InstanceActorName is the local account that signs server-initiated GETs.
const InstanceActorName = "instance.actor"

type InstanceActorStore interface {
	ReadAccByUsername(ctx context.Context, username string) (*domain.Account, error)
	CreateAccount(ctx context.Context, acc *domain.Account) error
}

// InstanceActor loads or creates the instance actor once and keeps it.
type InstanceActor struct {
	store InstanceActorStore
	mu    sync.Mutex
	acc   *domain.Account
	// keys is replaceable in tests; generating a keypair is slow.
	keys func() *util.RsaKeyPair
}

func NewInstanceActor(store InstanceActorStore) *InstanceActor {
	return &InstanceActor{store: store, keys: util.GeneratePemKeypair}
}

// Get fits ResolverConfig.InstanceActor.
func (ia *InstanceActor) Get(ctx context.Context) (*domain.Account, error) {
	ia.mu.Lock()
	defer ia.mu.Unlock()
	if ia.acc != nil {
		return ia.acc, nil
	}

	acc, err := ia.store.ReadAccByUsername(ctx, InstanceActorName)
	if missing(err) {
		keys := ia.keys()
		acc = &domain.Account{
			Username:      InstanceActorName,
			WebPublicKey:  keys.Public,
			WebPrivateKey: keys.Private,
		}
		if err = ia.store.CreateAccount(ctx, acc); err != nil {
			return nil, fmt.Errorf("creating instance actor: %w", err)
		}
		log.Info("Created instance actor", "username", InstanceActorName)
	} else if err != nil {
		return nil, err
	}
	ia.acc = acc
	return acc, nil
}
