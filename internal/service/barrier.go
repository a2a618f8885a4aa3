package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/lazywriting/api/internal/model"
)

const barrierTTL = 24 * time.Hour

// Barrier tracks the brainstorm tasks of one StartAll batch that have not yet
// reached a terminal state. Only StartAll arms it; single-provider
// regenerations carry no batch id and never touch it.
type Barrier struct {
	rdb *redis.Client
}

func NewBarrier(rdb *redis.Client) *Barrier {
	return &Barrier{rdb: rdb}
}

func barrierKey(articleID, batchID string) string {
	return fmt.Sprintf("autochain:%s:%s", articleID, batchID)
}

// Arm records providers as outstanding for the batch
func (b *Barrier) Arm(ctx context.Context, articleID, batchID string, providers []model.Provider) error {
	if len(providers) == 0 {
		return errors.New("cannot arm an empty batch")
	}
	members := make([]interface{}, len(providers))
	for i, p := range providers {
		members[i] = string(p)
	}

	key := barrierKey(articleID, batchID)
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, barrierTTL)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to arm auto-chain barrier")
	}
	return nil
}

// Done marks provider terminal. It returns true for exactly one caller per
// batch: the one that removed the last outstanding provider. Repeated calls
// for the same provider are no-ops.
func (b *Barrier) Done(ctx context.Context, articleID, batchID string, provider model.Provider) (bool, error) {
	key := barrierKey(articleID, batchID)

	var removed *redis.IntCmd
	var remaining *redis.IntCmd
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, key, string(provider))
		remaining = pipe.SCard(ctx, key)
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to update auto-chain barrier")
	}
	return removed.Val() == 1 && remaining.Val() == 0, nil
}
