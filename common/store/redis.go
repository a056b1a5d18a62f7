package store

import (
	"context"
	"errors"
	"fmt"

	rediscommon "github.com/lyzr/querystore/common/redis"
)

// NewRedis returns the named collection stored as a Redis hash (id -> JSON)
// plus a sorted set that keeps insertion order. Closing the collection does
// not close client.
func NewRedis(client *rediscommon.Client, name string) *Collection {
	prefix := "querystore:" + name
	return newCollection(name, &redisDriver{
		client:   client,
		docsKey:  prefix + ":docs",
		orderKey: prefix + ":order",
		seqKey:   prefix + ":seq",
	})
}

type redisDriver struct {
	client   *rediscommon.Client
	docsKey  string
	orderKey string
	seqKey   string
}

func (d *redisDriver) list(ctx context.Context, _ map[string]any) ([]stored, error) {
	ids, err := d.client.RangeSortedSet(ctx, d.orderKey)
	if err != nil {
		return nil, err
	}

	docs, err := d.client.GetMultipleHash(ctx, d.docsKey, ids)
	if err != nil {
		return nil, err
	}

	out := make([]stored, 0, len(docs))
	for _, id := range ids {
		if raw, ok := docs[id]; ok {
			out = append(out, stored{id: id, raw: []byte(raw)})
		}
	}
	return out, nil
}

func (d *redisDriver) get(ctx context.Context, id string) ([]byte, bool, error) {
	raw, err := d.client.GetHash(ctx, d.docsKey, id)
	if errors.Is(err, rediscommon.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(raw), true, nil
}

func (d *redisDriver) insert(ctx context.Context, id string, raw []byte) error {
	seq, err := d.client.Increment(ctx, d.seqKey)
	if err != nil {
		return err
	}

	tx := d.client.NewTransaction()
	setLabel := tx.SetHashNX(ctx, d.docsKey, id, string(raw))
	tx.AddToSortedSetNX(ctx, d.orderKey, float64(seq), id)
	if err := tx.Exec(ctx); err != nil {
		return err
	}

	wasSet, err := tx.GetBoolResult(setLabel)
	if err != nil {
		return err
	}
	if !wasSet {
		return ErrConflict
	}
	return nil
}

func (d *redisDriver) put(ctx context.Context, id string, raw []byte) (bool, error) {
	seq, err := d.client.Increment(ctx, d.seqKey)
	if err != nil {
		return false, err
	}

	tx := d.client.NewTransaction()
	setLabel := tx.SetHash(ctx, d.docsKey, id, string(raw))
	tx.AddToSortedSetNX(ctx, d.orderKey, float64(seq), id)
	if err := tx.Exec(ctx); err != nil {
		return false, err
	}

	added, err := tx.GetIntResult(setLabel)
	if err != nil {
		return false, err
	}
	return added == 1, nil
}

func (d *redisDriver) delete(ctx context.Context, ids []string) (int, error) {
	tx := d.client.NewTransaction()
	delLabel := tx.DeleteHash(ctx, d.docsKey, ids...)
	tx.RemoveFromSortedSet(ctx, d.orderKey, ids...)
	if err := tx.Exec(ctx); err != nil {
		return 0, err
	}

	n, err := tx.GetIntResult(delLabel)
	if err != nil {
		return 0, fmt.Errorf("read HDEL result: %w", err)
	}
	return int(n), nil
}

func (d *redisDriver) ping(ctx context.Context) error {
	return d.client.Ping(ctx)
}

func (d *redisDriver) close() error {
	return nil
}
