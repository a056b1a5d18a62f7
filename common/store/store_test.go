package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/querystore/common/db"
	"github.com/lyzr/querystore/common/logger"
	rediscommon "github.com/lyzr/querystore/common/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectionFactory func(t *testing.T) *Collection

func backends() map[string]collectionFactory {
	return map[string]collectionFactory{
		"memory": func(t *testing.T) *Collection {
			return NewMemory("queries")
		},
		"sqlite": func(t *testing.T) *Collection {
			c, err := NewSQLite(context.Background(), ":memory:", "queries")
			require.NoError(t, err)
			t.Cleanup(func() { c.Close() })
			return c
		},
		"postgres": func(t *testing.T) *Collection {
			url := os.Getenv("TEST_POSTGRES_URL")
			if url == "" {
				t.Skip("TEST_POSTGRES_URL not set")
			}
			ctx := context.Background()
			database, err := db.NewFromURL(ctx, url, logger.Discard())
			require.NoError(t, err)
			t.Cleanup(database.Close)

			c, err := NewPostgres(ctx, database, "test-"+uuid.NewString())
			require.NoError(t, err)
			return c
		},
		"redis": func(t *testing.T) *Collection {
			addr := os.Getenv("TEST_REDIS_ADDR")
			if addr == "" {
				t.Skip("TEST_REDIS_ADDR not set")
			}
			raw := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
			client := rediscommon.NewClient(raw, logger.Discard())
			t.Cleanup(func() { client.Close() })

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			require.NoError(t, client.Ping(ctx), "Redis must be reachable at %s", addr)

			return NewRedis(client, "test-"+uuid.NewString())
		},
	}
}

func TestCollections(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			runCollectionSuite(t, factory)
		})
	}
}

func runCollectionSuite(t *testing.T, newCollection collectionFactory) {
	ctx := context.Background()

	t.Run("insert assigns id and round trips", func(t *testing.T) {
		c := newCollection(t)

		in := Document{"name": "daily signups", "tags": []any{"growth"}}
		got, err := c.Insert(ctx, in)
		require.NoError(t, err)

		id := got.ID()
		require.NotEmpty(t, id)
		assert.NotContains(t, in, IDField, "caller document must not be mutated")

		found, err := c.FindOne(ctx, ByID(id))
		require.NoError(t, err)
		assert.Equal(t, got, found)
		assert.Equal(t, []any{"growth"}, found["tags"])
	})

	t.Run("insert keeps explicit id and rejects duplicates", func(t *testing.T) {
		c := newCollection(t)

		got, err := c.Insert(ctx, Document{"id": "q-1", "name": "first"})
		require.NoError(t, err)
		assert.Equal(t, "q-1", got.ID())

		_, err = c.Insert(ctx, Document{"id": "q-1", "name": "second"})
		assert.ErrorIs(t, err, ErrConflict)

		found, err := c.FindOne(ctx, ByID("q-1"))
		require.NoError(t, err)
		assert.Equal(t, "first", found["name"])
	})

	t.Run("find one on missing id", func(t *testing.T) {
		c := newCollection(t)

		_, err := c.FindOne(ctx, ByID("missing"))
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = c.FindOne(ctx, Where(`doc.name == "nope"`))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("find returns insertion order", func(t *testing.T) {
		c := newCollection(t)

		for _, name := range []string{"c", "a", "b"} {
			_, err := c.Insert(ctx, Document{"name": name})
			require.NoError(t, err)
		}

		docs, err := c.Find(ctx, All())
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, "c", docs[0]["name"])
		assert.Equal(t, "a", docs[1]["name"])
		assert.Equal(t, "b", docs[2]["name"])
	})

	t.Run("find by match and expression", func(t *testing.T) {
		c := newCollection(t)

		seed := []Document{
			{"name": "revenue", "connectionId": "warehouse", "tags": []any{"finance", "weekly"}},
			{"name": "churn", "connectionId": "warehouse", "tags": []any{"growth"}},
			{"name": "latency", "connectionId": "metrics"},
		}
		for _, doc := range seed {
			_, err := c.Insert(ctx, doc)
			require.NoError(t, err)
		}

		docs, err := c.Find(ctx, All().Eq("connectionId", "warehouse"))
		require.NoError(t, err)
		assert.Len(t, docs, 2)

		docs, err = c.Find(ctx, Where(`"finance" in doc.tags`))
		require.NoError(t, err)
		require.Len(t, docs, 1, "documents without tags are a non-match, not an error")
		assert.Equal(t, "revenue", docs[0]["name"])

		docs, err = c.Find(ctx, Where(`doc.name.startsWith("l")`).Eq("connectionId", "metrics"))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "latency", docs[0]["name"])

		_, err = c.Find(ctx, Where(`doc.name ==`))
		assert.ErrorIs(t, err, ErrInvalidFilter)

		_, err = c.Find(ctx, Where(`"not a bool"`))
		assert.ErrorIs(t, err, ErrInvalidFilter)
	})

	t.Run("update replaces and keeps id and order", func(t *testing.T) {
		c := newCollection(t)

		first, err := c.Insert(ctx, Document{"name": "first"})
		require.NoError(t, err)
		_, err = c.Insert(ctx, Document{"name": "second"})
		require.NoError(t, err)

		res, err := c.Update(ctx, ByID(first.ID()), Document{"name": "renamed"}, UpdateOptions{})
		require.NoError(t, err)
		assert.Equal(t, UpdateResult{Matched: 1}, res)

		found, err := c.FindOne(ctx, ByID(first.ID()))
		require.NoError(t, err)
		assert.Equal(t, Document{"id": first.ID(), "name": "renamed"}, found)

		docs, err := c.Find(ctx, All())
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, first.ID(), docs[0].ID())
	})

	t.Run("update by expression replaces first match", func(t *testing.T) {
		c := newCollection(t)

		a, err := c.Insert(ctx, Document{"name": "a", "kind": "x"})
		require.NoError(t, err)
		b, err := c.Insert(ctx, Document{"name": "b", "kind": "x"})
		require.NoError(t, err)

		res, err := c.Update(ctx, Where(`doc.kind == "x"`), Document{"name": "a2", "kind": "y"}, UpdateOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Matched)

		foundA, err := c.FindOne(ctx, ByID(a.ID()))
		require.NoError(t, err)
		assert.Equal(t, "a2", foundA["name"])

		foundB, err := c.FindOne(ctx, ByID(b.ID()))
		require.NoError(t, err)
		assert.Equal(t, "b", foundB["name"])
	})

	t.Run("update cannot change id", func(t *testing.T) {
		c := newCollection(t)

		doc, err := c.Insert(ctx, Document{"name": "a"})
		require.NoError(t, err)

		_, err = c.Update(ctx, ByID(doc.ID()), Document{"id": "other", "name": "a"}, UpdateOptions{Upsert: true})
		assert.ErrorIs(t, err, ErrImmutableID)
	})

	t.Run("update without upsert on missing id writes nothing", func(t *testing.T) {
		c := newCollection(t)

		res, err := c.Update(ctx, ByID("ghost"), Document{"name": "ghost"}, UpdateOptions{})
		require.NoError(t, err)
		assert.Equal(t, UpdateResult{}, res)

		docs, err := c.Find(ctx, All())
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("upsert creates missing id", func(t *testing.T) {
		c := newCollection(t)

		res, err := c.Update(ctx, ByID("ghost"), Document{"name": "ghost"}, UpdateOptions{Upsert: true})
		require.NoError(t, err)
		assert.True(t, res.Upserted)
		assert.Equal(t, "ghost", res.UpsertedID)

		found, err := c.FindOne(ctx, ByID("ghost"))
		require.NoError(t, err)
		assert.Equal(t, Document{"id": "ghost", "name": "ghost"}, found)
	})

	t.Run("remove", func(t *testing.T) {
		c := newCollection(t)

		a, err := c.Insert(ctx, Document{"name": "a", "kind": "tmp"})
		require.NoError(t, err)
		_, err = c.Insert(ctx, Document{"name": "b", "kind": "tmp"})
		require.NoError(t, err)
		_, err = c.Insert(ctx, Document{"name": "c", "kind": "tmp"})
		require.NoError(t, err)

		n, err := c.Remove(ctx, ByID(a.ID()), RemoveOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = c.Remove(ctx, ByID(a.ID()), RemoveOptions{})
		require.NoError(t, err, "removing a missing id is not an error")
		assert.Equal(t, 0, n)

		_, err = c.FindOne(ctx, ByID(a.ID()))
		assert.ErrorIs(t, err, ErrNotFound)

		n, err = c.Remove(ctx, Where(`doc.kind == "tmp"`), RemoveOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = c.Remove(ctx, Where(`doc.kind == "tmp"`), RemoveOptions{Multi: true})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		docs, err := c.Find(ctx, All())
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("reads return copies", func(t *testing.T) {
		c := newCollection(t)

		doc, err := c.Insert(ctx, Document{"name": "a"})
		require.NoError(t, err)
		doc["name"] = "mutated"

		found, err := c.FindOne(ctx, ByID(doc.ID()))
		require.NoError(t, err)
		assert.Equal(t, "a", found["name"])
	})

	t.Run("ping", func(t *testing.T) {
		c := newCollection(t)
		assert.NoError(t, c.Ping(ctx))
	})
}

func TestMemoryCollection_Closed(t *testing.T) {
	c := NewMemory("queries")
	require.NoError(t, c.Close())

	_, err := c.Find(context.Background(), All())
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}

func TestFilter_OnlyID(t *testing.T) {
	id, ok := ByID("abc").onlyID()
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = ByID("abc").Eq("name", "x").onlyID()
	assert.False(t, ok)

	_, ok = Filter{Match: map[string]any{"id": "abc"}, Expr: "true"}.onlyID()
	assert.False(t, ok)

	_, ok = All().onlyID()
	assert.False(t, ok)
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, All().Validate())
	assert.NoError(t, Where(`has(doc.tags) && size(doc.tags) > 1`).Validate())
	assert.ErrorIs(t, Where(`doc.`).Validate(), ErrInvalidFilter)
	assert.ErrorIs(t, Where(`1 + 1`).Validate(), ErrInvalidFilter)
}

func TestFilter_EqDoesNotMutateReceiver(t *testing.T) {
	base := ByID("a")
	_ = base.Eq("name", "x")
	assert.Len(t, base.Match, 1)
}

func TestProgramCache_Bounded(t *testing.T) {
	cache := newProgramCache(4)

	for i := 0; i < 20; i++ {
		_, err := cache.get(fmt.Sprintf("doc.n == %d", i))
		require.NoError(t, err)
		assert.LessOrEqual(t, cache.len(), 4)
	}
	assert.Equal(t, 4, cache.len())

	// the newest expression is still served from the cache
	first, err := cache.get("doc.n == 19")
	require.NoError(t, err)
	second, err := cache.get("doc.n == 19")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 4, cache.len())
}

func TestFilter_CostLimit(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("queries")

	items := make([]any, 300)
	for i := range items {
		items[i] = i
	}
	_, err := c.Insert(ctx, Document{"name": "wide", "items": items})
	require.NoError(t, err)

	_, err = c.Find(ctx, Where(`doc.items.all(a, doc.items.all(b, doc.items.all(x, x >= 0.0)))`))
	assert.ErrorIs(t, err, ErrInvalidFilter)

	found, err := c.Find(ctx, Where(`doc.items.all(x, x >= 0.0)`))
	require.NoError(t, err)
	assert.Len(t, found, 1)
}
