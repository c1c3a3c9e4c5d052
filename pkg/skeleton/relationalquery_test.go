/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 */

package skeleton

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voedger/virel/pkg/idatastore"
)

func queryFilterValue(q *idatastore.Query, field string) (any, bool) {
	for _, f := range q.Filters() {
		if f.Field == field {
			return f.Value, true
		}
	}
	return nil, false
}

func mergedQuery(t *testing.T, reg *Registry, kind string, raw map[string]any) *idatastore.Query {
	t.Helper()
	inst, err := reg.NewInstance(kind)
	require.NoError(t, err)
	q := inst.All()
	require.NoError(t, inst.MergeExternalFilter(q, raw))
	return q
}

func mergeError(t *testing.T, reg *Registry, kind string, raw map[string]any) error {
	t.Helper()
	inst, err := reg.NewInstance(kind)
	require.NoError(t, err)
	return inst.MergeExternalFilter(inst.All(), raw)
}

func TestRelationalQuery_IndexRewrite(t *testing.T) {
	require := require.New(t)
	reg, _ := newProjectRegistry(t)
	adaKey := idatastore.NewKey("person", "ada")

	t.Run("must switch the query to the relation index", func(t *testing.T) {
		q := mergedQuery(t, reg, "project", map[string]any{"assignees": adaKey.Encode()})
		require.Equal(RelationIndexKind, q.Kind())

		v, ok := queryFilterValue(q, IndexField_SrcKind)
		require.True(ok)
		require.Equal("project", v)
		v, ok = queryFilterValue(q, IndexField_DestKind)
		require.True(ok)
		require.Equal("person", v)
		v, ok = queryFilterValue(q, IndexField_SrcProperty)
		require.True(ok)
		require.Equal("assignees", v)

		// the bone reference itself became a destination-key predicate
		v, ok = queryFilterValue(q, "dest.key")
		require.True(ok)
		require.Equal(adaKey.Encode(), v)
		_, ok = queryFilterValue(q, "assignees")
		require.False(ok)
	})

	t.Run("must map destination and edge fields onto row paths", func(t *testing.T) {
		q := mergedQuery(t, reg, "project", map[string]any{
			"assignees.age$gte":  30,
			"assignees.rel.role": "lead",
		})
		v, ok := queryFilterValue(q, "dest.age")
		require.True(ok)
		require.Equal(int64(30), v)
		v, ok = queryFilterValue(q, "rel.role")
		require.True(ok)
		require.Equal("lead", v)
	})

	t.Run("must redirect replicated source fields", func(t *testing.T) {
		q := mergedQuery(t, reg, "project", map[string]any{
			"assignees.rel.role": "lead",
			"title":              "Engine",
		})
		v, ok := queryFilterValue(q, "src.title")
		require.True(ok)
		require.Equal("Engine", v)
		_, ok = queryFilterValue(q, "title")
		require.False(ok)
	})

	t.Run("must convert source identity into an ancestor constraint", func(t *testing.T) {
		projectKey := idatastore.NewKey("project", "p1")
		q := mergedQuery(t, reg, "project", map[string]any{
			"assignees": adaKey.Encode(),
			"key":       projectKey.Encode(),
		})
		require.True(projectKey.Equal(q.AncestorKey()))
		_, ok := queryFilterValue(q, idatastore.KeyProperty)
		require.False(ok)
	})

	t.Run("must switch on sort alone", func(t *testing.T) {
		q := mergedQuery(t, reg, "project", map[string]any{
			"orderby":  "assignees.name",
			"orderdir": "desc",
		})
		require.Equal(RelationIndexKind, q.Kind())
		orders := q.Orders()
		require.Len(orders, 1)
		require.Equal("dest.name", orders[0].Field)
		require.True(orders[0].Descending)
	})

	t.Run("must order by edge attributes", func(t *testing.T) {
		q := mergedQuery(t, reg, "project", map[string]any{
			"assignees": adaKey.Encode(),
			"orderby":   "assignees.rel.role",
		})
		orders := q.Orders()
		require.Len(orders, 1)
		require.Equal("rel.role", orders[0].Field)
		require.False(orders[0].Descending)
	})
}

func TestRelationalQuery_IndexRejections(t *testing.T) {
	require := require.New(t)
	reg, _ := newProjectRegistry(t)
	adaKey := idatastore.NewKey("person", "ada")

	t.Run("must reject destination fields outside refKeys", func(t *testing.T) {
		err := mergeError(t, reg, "project", map[string]any{"assignees.nickname": "x"})
		require.ErrorIs(err, idatastore.ErrUnsatisfiableQuery)
	})

	t.Run("must reject unknown edge attributes", func(t *testing.T) {
		err := mergeError(t, reg, "project", map[string]any{"assignees.rel.seniority": 3})
		require.ErrorIs(err, idatastore.ErrUnsatisfiableQuery)
	})

	t.Run("must reject own fields not replicated into the rows", func(t *testing.T) {
		err := mergeError(t, reg, "project", map[string]any{
			"assignees":    adaKey.Encode(),
			"deadline$gte": "2024-01-01",
		})
		require.ErrorIs(err, idatastore.ErrUnsatisfiableQuery)
	})

	t.Run("must reject sorting by fields not replicated into the rows", func(t *testing.T) {
		err := mergeError(t, reg, "project", map[string]any{
			"assignees": adaKey.Encode(),
			"orderby":   "deadline",
		})
		require.ErrorIs(err, idatastore.ErrUnsatisfiableQuery)
	})

	t.Run("must not let two multiple bones share one query", func(t *testing.T) {
		reg2, _ := newTestRegistry()
		reg2.Register(personSchema())
		reg2.Register(NewSchema("board").
			AddBone("reviewers", &RelationalBone{
				BaseBone: BaseBone{Indexed: true},
				Kind:     "person",
				Multiple: true,
			}).
			AddBone("watchers", &RelationalBone{
				BaseBone: BaseBone{Indexed: true},
				Kind:     "person",
				Multiple: true,
			}))
		err := mergeError(t, reg2, "board", map[string]any{
			"reviewers": adaKey.Encode(),
			"watchers":  adaKey.Encode(),
		})
		require.ErrorIs(err, idatastore.ErrUnsatisfiableQuery)
	})
}

// putAssigneeRow fabricates one relation-index row the way the reconciler
// materializes them: parented by the source key, snapshots inlined.
func putAssigneeRow(t *testing.T, reg *Registry, srcKey, destKey *idatastore.Key, destName string, destAge int64, role, title string) {
	t.Helper()
	row := idatastore.NewEntity(idatastore.NewKeyWithParent(RelationIndexKind, "", srcKey))
	row.Set(IndexField_SrcKind, srcKey.Kind)
	row.Set(IndexField_DestKind, destKey.Kind)
	row.Set(IndexField_SrcProperty, "assignees")
	row.Set(IndexField_Dest, map[string]any{KeyField: destKey, "name": destName, "age": destAge})
	row.Set(IndexField_Rel, map[string]any{"role": role})
	row.Set(IndexField_Src, map[string]any{KeyField: srcKey, "title": title})
	require.NoError(t, reg.Datastore().Put(context.Background(), row))
}

func TestRelationalQuery_IndexRows(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg, _ := newProjectRegistry(t)

	adaKey := idatastore.NewKey("person", "ada")
	graceKey := idatastore.NewKey("person", "grace")
	engineKey := idatastore.NewKey("project", "engine")
	deckKey := idatastore.NewKey("project", "deck")

	putAssigneeRow(t, reg, engineKey, adaKey, "Ada", 36, "lead", "Engine")
	putAssigneeRow(t, reg, engineKey, graceKey, "Grace", 45, "reviewer", "Engine")
	putAssigneeRow(t, reg, deckKey, adaKey, "Ada", 36, "advisor", "Deck")

	run := func(raw map[string]any) []*idatastore.Entity {
		q := mergedQuery(t, reg, "project", raw)
		res, err := reg.Datastore().Run(ctx, q)
		require.NoError(err)
		return res
	}

	t.Run("must find the rows of a destination", func(t *testing.T) {
		rows := run(map[string]any{"assignees": adaKey.Encode()})
		require.Len(rows, 2)
		parents := []string{rows[0].Key.Parent.Encode(), rows[1].Key.Parent.Encode()}
		require.Contains(parents, engineKey.Encode())
		require.Contains(parents, deckKey.Encode())
	})

	t.Run("must narrow by source identity", func(t *testing.T) {
		rows := run(map[string]any{
			"assignees": adaKey.Encode(),
			"key":       engineKey.Encode(),
		})
		require.Len(rows, 1)
		require.True(engineKey.Equal(rows[0].Key.Parent))
	})

	t.Run("must filter edge attributes", func(t *testing.T) {
		rows := run(map[string]any{"assignees.rel.role": "lead"})
		require.Len(rows, 1)
		name, ok := idatastore.PropertyValue(rows[0], "dest.name")
		require.True(ok)
		require.Equal("Ada", name)
	})

	t.Run("must filter replicated source fields", func(t *testing.T) {
		rows := run(map[string]any{
			"assignees": adaKey.Encode(),
			"title":     "Engine",
		})
		require.Len(rows, 1)
		require.True(engineKey.Equal(rows[0].Key.Parent))
	})

	t.Run("must order by destination fields", func(t *testing.T) {
		rows := run(map[string]any{
			"assignees.age$gte": 0,
			"orderby":           "assignees.age",
			"orderdir":          "desc",
		})
		require.Len(rows, 3)
		age, ok := idatastore.PropertyValue(rows[0], "dest.age")
		require.True(ok)
		require.Equal(int64(45), age)
	})
}

func TestRelationalQuery_SnapshotDelegation(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg, _ := newProjectRegistry(t)

	adaKey := savePerson(t, reg, "ada", "Ada", 36)
	graceKey := savePerson(t, reg, "grace", "Grace", 45)

	saveProject := func(title string, ownerKey *idatastore.Key) *idatastore.Key {
		inst, err := reg.NewInstance("project")
		require.NoError(err)
		require.NoError(inst.SetValue("title", title))
		if ownerKey != nil {
			require.NoError(inst.SetRelation(ctx, "owner", ownerKey, nil, false))
		}
		key, err := inst.ToDB(ctx)
		require.NoError(err)
		return key
	}
	alphaKey := saveProject("Alpha", adaKey)
	saveProject("Beta", graceKey)
	saveProject("Orphan", nil)

	run := func(raw map[string]any) []*idatastore.Entity {
		q := mergedQuery(t, reg, "project", raw)
		require.Equal("project", q.Kind())
		res, err := reg.Datastore().Run(ctx, q)
		require.NoError(err)
		return res
	}

	t.Run("must filter by destination key on the own collection", func(t *testing.T) {
		rows := run(map[string]any{"owner": adaKey.Encode()})
		require.Len(rows, 1)
		require.True(alphaKey.Equal(rows[0].Key))
	})

	t.Run("must filter by snapshot fields", func(t *testing.T) {
		rows := run(map[string]any{"owner.name": "Grace"})
		require.Len(rows, 1)
		require.Equal("Beta", rows[0].Get("title"))
	})

	t.Run("must combine with plain bone filters", func(t *testing.T) {
		require.Len(run(map[string]any{"owner.name": "Grace", "title": "Beta"}), 1)
		require.Empty(run(map[string]any{"owner.name": "Grace", "title": "Alpha"}))
	})

	t.Run("must order by snapshot fields", func(t *testing.T) {
		rows := run(map[string]any{"orderby": "owner.name"})
		// entities without the sort property are excluded
		require.Len(rows, 2)
		require.Equal("Alpha", rows[0].Get("title"))
		require.Equal("Beta", rows[1].Get("title"))
	})

	t.Run("must reject snapshot fields outside refKeys", func(t *testing.T) {
		err := mergeError(t, reg, "project", map[string]any{"owner.age": 36})
		require.ErrorIs(err, idatastore.ErrUnsatisfiableQuery)

		err = mergeError(t, reg, "project", map[string]any{"orderby": "owner.age"})
		require.ErrorIs(err, idatastore.ErrUnsatisfiableQuery)
	})

	t.Run("must reject edge attributes without a using schema", func(t *testing.T) {
		err := mergeError(t, reg, "project", map[string]any{"owner.rel.role": "lead"})
		require.ErrorIs(err, idatastore.ErrUnsatisfiableQuery)
	})
}

func TestRelationalQuery_NestedReferences(t *testing.T) {
	require := require.New(t)
	reg, _ := newTestRegistry()
	reg.Register(personSchema())
	reg.Register(NewSchema("company").
		AddBone("name", &StringBone{BaseBone: BaseBone{Indexed: true}}).
		AddBone("boss", &RelationalBone{BaseBone: BaseBone{Indexed: true}, Kind: "person"}))
	reg.Register(NewSchema("dept").
		AddBone("office", &RelationalBone{
			BaseBone: BaseBone{Indexed: true},
			Kind:     "company",
			RefKeys:  []string{"name", "boss"},
		}).
		AddBone("contact", &RelationalBone{
			BaseBone: BaseBone{Indexed: true},
			Kind:     "person",
			RefKeys:  []string{"nickname"},
		}))

	t.Run("must reject filtering a reference below another reference", func(t *testing.T) {
		err := mergeError(t, reg, "dept", map[string]any{"office.boss": "person/ada"})
		require.ErrorIs(err, idatastore.ErrUnsatisfiableQuery)
	})

	t.Run("must pass direct snapshot fields of the same bone", func(t *testing.T) {
		q := mergedQuery(t, reg, "dept", map[string]any{"office.name": "unTill"})
		v, ok := queryFilterValue(q, "office.dest.name")
		require.True(ok)
		require.Equal("unTill", v)
	})

	t.Run("must reject snapshot fields whose bone is not indexed", func(t *testing.T) {
		err := mergeError(t, reg, "dept", map[string]any{"contact.nickname": "ada"})
		require.ErrorIs(err, idatastore.ErrUnsatisfiableQuery)
	})
}
