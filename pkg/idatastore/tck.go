/*
 * Copyright (c) 2021-present unTill Pro, Ltd.
 */

package idatastore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TechnologyCompatibilityKit test suit
//
// Runs against any IDatastore implementation. Kinds are randomized so the
// suite can be re-run against shared storages (Cassandra, Postgres).
func TechnologyCompatibilityKit(t *testing.T, ds IDatastore) {
	t.Run("TestDatastore_CRUD", func(t *testing.T) { testDatastore_CRUD(t, ds) })
	t.Run("TestDatastore_ValueKinds", func(t *testing.T) { testDatastore_ValueKinds(t, ds) })
	t.Run("TestDatastore_Queries", func(t *testing.T) { testDatastore_Queries(t, ds) })
	t.Run("TestDatastore_Transactions", func(t *testing.T) { testDatastore_Transactions(t, ds) })
}

func tckKind(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func testDatastore_CRUD(t *testing.T, ds IDatastore) {
	require := require.New(t)
	ctx := context.Background()
	kind := tckKind("crud")

	t.Run("must get ErrNotFound for missing entity", func(t *testing.T) {
		_, err := ds.Get(ctx, NewKey(kind, "missing"))
		require.ErrorIs(err, ErrNotFound)
	})

	t.Run("must put and get entity back", func(t *testing.T) {
		e := NewEntity(NewKey(kind, "e1"))
		e.Set("name", "Acme")
		e.Set("rank", 42)
		require.NoError(ds.Put(ctx, e))

		stored, err := ds.Get(ctx, e.Key)
		require.NoError(err)
		require.True(stored.Key.Equal(e.Key))
		require.Equal("Acme", stored.Get("name"))
		require.Equal(int64(42), stored.Get("rank"))
	})

	t.Run("must assign generated ID on empty key ID", func(t *testing.T) {
		e := NewEntity(&Key{Kind: kind})
		e.Set("name", "autoid")
		require.NoError(ds.Put(ctx, e))
		require.NotEmpty(e.Key.ID)

		stored, err := ds.Get(ctx, e.Key)
		require.NoError(err)
		require.Equal("autoid", stored.Get("name"))
	})

	t.Run("must overwrite on repeated put", func(t *testing.T) {
		e := NewEntity(NewKey(kind, "e1"))
		e.Set("name", "Globex")
		require.NoError(ds.Put(ctx, e))

		stored, err := ds.Get(ctx, e.Key)
		require.NoError(err)
		require.Equal("Globex", stored.Get("name"))
		require.False(stored.Has("rank"))
	})

	t.Run("must isolate stored state from caller mutations", func(t *testing.T) {
		e := NewEntity(NewKey(kind, "iso"))
		e.Set("tags", []any{"a"})
		require.NoError(ds.Put(ctx, e))
		e.Set("tags", []any{"mutated"})

		stored, err := ds.Get(ctx, e.Key)
		require.NoError(err)
		require.Equal([]any{"a"}, stored.Get("tags"))

		stored.Set("tags", []any{"mutated again"})
		stored2, err := ds.Get(ctx, e.Key)
		require.NoError(err)
		require.Equal([]any{"a"}, stored2.Get("tags"))
	})

	t.Run("must get multiple entities with nil for missing", func(t *testing.T) {
		e2 := NewEntity(NewKey(kind, "e2"))
		e2.Set("name", "second")
		require.NoError(ds.PutMulti(ctx, []*Entity{e2}))

		res, err := ds.GetMulti(ctx, []*Key{NewKey(kind, "e1"), NewKey(kind, "nope"), e2.Key})
		require.NoError(err)
		require.Len(res, 3)
		require.NotNil(res[0])
		require.Nil(res[1])
		require.Equal("second", res[2].Get("name"))
	})

	t.Run("must delete and tolerate absent keys", func(t *testing.T) {
		require.NoError(ds.Delete(ctx, NewKey(kind, "e1"), NewKey(kind, "never-existed")))
		_, err := ds.Get(ctx, NewKey(kind, "e1"))
		require.ErrorIs(err, ErrNotFound)
	})

	t.Run("must reject invalid keys", func(t *testing.T) {
		e := NewEntity(&Key{Kind: "", ID: "x"})
		require.ErrorIs(ds.Put(ctx, e), ErrInvalidKey)
	})
}

func testDatastore_ValueKinds(t *testing.T, ds IDatastore) {
	require := require.New(t)
	ctx := context.Background()
	kind := tckKind("val")

	when := time.Date(2024, 11, 5, 12, 30, 45, 123e6, time.UTC)
	ref := NewKeyWithParent("doc", "d1", NewKey("folder", "f1"))

	e := NewEntity(NewKey(kind, "all"))
	e.Set("b", true)
	e.Set("i", int64(-7))
	e.Set("f", 3.25)
	e.Set("s", "text")
	e.Set("bytes", []byte{1, 2, 3})
	e.Set("t", when)
	e.Set("k", ref)
	e.Set("nothing", nil)
	e.Set("list", []any{int64(1), "two", ref})
	e.Set("doc", map[string]any{"city": "Berlin", "geo": map[string]any{"lat": 52.52}})
	require.NoError(ds.Put(ctx, e))

	stored, err := ds.Get(ctx, e.Key)
	require.NoError(err)
	require.Equal(true, stored.Get("b"))
	require.Equal(int64(-7), stored.Get("i"))
	require.Equal(3.25, stored.Get("f"))
	require.Equal("text", stored.Get("s"))
	require.Equal([]byte{1, 2, 3}, stored.Get("bytes"))
	require.Equal(when, stored.Get("t"))
	storedRef, ok := stored.Get("k").(*Key)
	require.True(ok)
	require.True(storedRef.Equal(ref))
	require.True(stored.Has("nothing"))
	require.Nil(stored.Get("nothing"))
	list, ok := stored.Get("list").([]any)
	require.True(ok)
	require.Len(list, 3)
	require.Equal(int64(1), list[0])
	require.Equal("two", list[1])
	listRef, ok := list[2].(*Key)
	require.True(ok)
	require.True(listRef.Equal(ref))
	doc, ok := stored.Get("doc").(map[string]any)
	require.True(ok)
	require.Equal("Berlin", doc["city"])
	geo, ok := doc["geo"].(map[string]any)
	require.True(ok)
	require.Equal(52.52, geo["lat"])
}

func testDatastore_Queries(t *testing.T, ds IDatastore) {
	require := require.New(t)
	ctx := context.Background()
	kind := tckKind("qry")
	parent := NewKey("group", "g1")

	seed := []struct {
		id     string
		name   string
		rank   int64
		parent *Key
		tags   []any
		doc    map[string]any
	}{
		{"a", "alice", 3, parent, []any{"red", "blue"}, map[string]any{"city": "Berlin"}},
		{"b", "bob", 1, parent, []any{"red"}, map[string]any{"city": "Paris"}},
		{"c", "carol", 2, nil, []any{"green"}, map[string]any{"city": "Berlin"}},
		{"d", "dave", 5, nil, nil, nil},
	}
	for _, s := range seed {
		var key *Key
		if s.parent != nil {
			key = NewKeyWithParent(kind, s.id, s.parent)
		} else {
			key = NewKey(kind, s.id)
		}
		e := NewEntity(key)
		e.Set("name", s.name)
		e.Set("rank", s.rank)
		if s.tags != nil {
			e.Set("tags", s.tags)
		}
		if s.doc != nil {
			e.Set("doc", s.doc)
		}
		require.NoError(ds.Put(ctx, e))
	}

	names := func(list []*Entity) []string {
		res := []string{}
		for _, e := range list {
			res = append(res, e.Key.ID)
		}
		return res
	}

	t.Run("must filter by equality", func(t *testing.T) {
		res, err := ds.Run(ctx, NewQuery(kind).Filter("name", "bob"))
		require.NoError(err)
		require.Equal([]string{"b"}, names(res))
	})

	t.Run("must filter by range", func(t *testing.T) {
		res, err := ds.Run(ctx, NewQuery(kind).Filter("rank >=", 2).Filter("rank <", 5))
		require.NoError(err)
		require.ElementsMatch([]string{"a", "c"}, names(res))
	})

	t.Run("must filter by dotted path into embedded document", func(t *testing.T) {
		res, err := ds.Run(ctx, NewQuery(kind).Filter("doc.city", "Berlin"))
		require.NoError(err)
		require.ElementsMatch([]string{"a", "c"}, names(res))
	})

	t.Run("must match list property by element", func(t *testing.T) {
		res, err := ds.Run(ctx, NewQuery(kind).Filter("tags", "red"))
		require.NoError(err)
		require.ElementsMatch([]string{"a", "b"}, names(res))
	})

	t.Run("must order ascending and descending", func(t *testing.T) {
		res, err := ds.Run(ctx, NewQuery(kind).Order("rank"))
		require.NoError(err)
		require.Equal([]string{"b", "c", "a", "d"}, names(res))

		res, err = ds.Run(ctx, NewQuery(kind).Order("-rank").Limit(2))
		require.NoError(err)
		require.Equal([]string{"d", "a"}, names(res))
	})

	t.Run("must order by two keys", func(t *testing.T) {
		res, err := ds.Run(ctx, NewQuery(kind).Filter("doc.city", "Berlin").Order("doc.city").Order("-rank"))
		require.NoError(err)
		require.Equal([]string{"a", "c"}, names(res))
	})

	t.Run("must constrain by ancestor", func(t *testing.T) {
		res, err := ds.Run(ctx, NewQuery(kind).Ancestor(parent))
		require.NoError(err)
		require.ElementsMatch([]string{"a", "b"}, names(res))
	})

	t.Run("must filter by key property", func(t *testing.T) {
		res, err := ds.Run(ctx, NewQuery(kind).Filter(KeyProperty, NewKey(kind, "c")))
		require.NoError(err)
		require.Equal([]string{"c"}, names(res))
	})

	t.Run("must return keys only", func(t *testing.T) {
		res, err := ds.Run(ctx, NewQuery(kind).Filter("name", "alice").KeysOnly())
		require.NoError(err)
		require.Len(res, 1)
		require.Equal(0, res[0].Len())
		require.Equal("a", res[0].Key.ID)
	})

	t.Run("must iterate and stop on callback error", func(t *testing.T) {
		errStop := errors.New("stop")
		seen := 0
		err := ds.Iterate(ctx, NewQuery(kind).Order("rank"), func(e *Entity) error {
			seen++
			if seen == 2 {
				return errStop
			}
			return nil
		})
		require.ErrorIs(err, errStop)
		require.Equal(2, seen)
	})

	t.Run("must surface builder errors", func(t *testing.T) {
		q := NewQuery(kind).Filter("name ~", "x")
		_, err := ds.Run(ctx, q)
		require.ErrorIs(err, ErrUnsatisfiableQuery)

		err = ds.Iterate(ctx, q, func(e *Entity) error { return nil })
		require.ErrorIs(err, ErrUnsatisfiableQuery)
	})
}

func testDatastore_Transactions(t *testing.T, ds IDatastore) {
	require := require.New(t)
	ctx := context.Background()
	kind := tckKind("tx")

	t.Run("must apply all effects on commit", func(t *testing.T) {
		err := ds.RunInTransaction(ctx, func(tx ITransaction) error {
			e1 := NewEntity(NewKey(kind, "t1"))
			e1.Set("n", 1)
			e2 := NewEntity(NewKey(kind, "t2"))
			e2.Set("n", 2)
			if err := tx.Put(e1); err != nil {
				return err
			}
			return tx.Put(e2)
		})
		require.NoError(err)

		res, err := ds.GetMulti(ctx, []*Key{NewKey(kind, "t1"), NewKey(kind, "t2")})
		require.NoError(err)
		require.NotNil(res[0])
		require.NotNil(res[1])
	})

	t.Run("must read own writes", func(t *testing.T) {
		err := ds.RunInTransaction(ctx, func(tx ITransaction) error {
			e := NewEntity(NewKey(kind, "rw"))
			e.Set("n", 7)
			if err := tx.Put(e); err != nil {
				return err
			}
			stored, err := tx.Get(e.Key)
			if err != nil {
				return err
			}
			if stored.Get("n") != int64(7) {
				return errors.New("own write invisible")
			}
			if err = tx.Delete(e.Key); err != nil {
				return err
			}
			if _, err = tx.Get(e.Key); !errors.Is(err, ErrNotFound) {
				return errors.New("own delete invisible")
			}
			return nil
		})
		require.NoError(err)
		_, err = ds.Get(ctx, NewKey(kind, "rw"))
		require.ErrorIs(err, ErrNotFound)
	})

	t.Run("must roll back all effects on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := ds.RunInTransaction(ctx, func(tx ITransaction) error {
			e := NewEntity(NewKey(kind, "rollback"))
			e.Set("n", 1)
			if err := tx.Put(e); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(err, boom)

		_, err = ds.Get(ctx, NewKey(kind, "rollback"))
		require.ErrorIs(err, ErrNotFound)
	})
}
