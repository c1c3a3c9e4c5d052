/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 * @author Denis Gribanov
 */

package skeleton

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voedger/virel/pkg/coreutils"
	"github.com/voedger/virel/pkg/idatastore"
	"github.com/voedger/virel/pkg/idatastore/mem"
)

type recordingQueue struct {
	mu    sync.Mutex
	tasks []Task
}

func (q *recordingQueue) Enqueue(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

func (q *recordingQueue) byKind(kind TaskKind) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	res := []Task{}
	for _, task := range q.tasks {
		if task.Kind == kind {
			res = append(res, task)
		}
	}
	return res
}

func (q *recordingQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = nil
}

func newTestRegistry() (*Registry, *recordingQueue) {
	reg := New(mem.Provide(), coreutils.MockTime)
	queue := &recordingQueue{}
	reg.SetTaskQueue(queue)
	return reg, queue
}

func personSchema() *Schema {
	return NewSchema("person").
		AddBone("name", &StringBone{BaseBone: BaseBone{Indexed: true}}).
		AddBone("age", &NumericBone{BaseBone: BaseBone{Indexed: true}}).
		AddBone("nickname", &StringBone{BaseBone: BaseBone{Unique: true}}).
		AddBone("photo", &FileBone{})
}

func assignmentSchema() *Schema {
	return NewSchema("assignment").
		AddBone("role", &StringBone{BaseBone: BaseBone{Indexed: true}}).
		AddBone("hours", &NumericBone{BaseBone: BaseBone{Indexed: true}})
}

func projectSchema() *Schema {
	return NewSchema("project").
		AddBone("title", &StringBone{BaseBone: BaseBone{Indexed: true, Required: true}}).
		AddBone("deadline", &DateBone{BaseBone: BaseBone{Indexed: true}}).
		AddBone("notes", &StringBone{}).
		AddBone("assignees", &RelationalBone{
			BaseBone:   BaseBone{Indexed: true},
			Kind:       "person",
			Multiple:   true,
			RefKeys:    []string{"name", "age"},
			ParentKeys: []string{"title"},
			Using:      assignmentSchema(),
			Format:     "$(dest.name) ($(rel.role))",
		}).
		AddBone("owner", &RelationalBone{
			BaseBone:    BaseBone{Indexed: true},
			Kind:        "person",
			RefKeys:     []string{"name"},
			Consistency: RelationalConsistency_PreventDeletion,
		})
}

func newProjectRegistry(t *testing.T) (*Registry, *recordingQueue) {
	t.Helper()
	reg, queue := newTestRegistry()
	reg.Register(personSchema())
	reg.Register(projectSchema())
	return reg, queue
}

func savePerson(t *testing.T, reg *Registry, id, name string, age int64) *idatastore.Key {
	t.Helper()
	inst, err := reg.NewInstance("person")
	require.NoError(t, err)
	require.NoError(t, inst.SetKey(idatastore.NewKey("person", id)))
	require.NoError(t, inst.SetValue("name", name))
	require.NoError(t, inst.SetValue("age", age))
	key, err := inst.ToDB(context.Background())
	require.NoError(t, err)
	return key
}

func TestSchema_Declarations(t *testing.T) {
	require := require.New(t)

	t.Run("must panic on empty kind", func(t *testing.T) {
		require.Panics(func() { NewSchema("") })
	})
	t.Run("must panic on kind with separator", func(t *testing.T) {
		require.Panics(func() { NewSchema("a/b") })
	})
	t.Run("must panic on duplicate bone", func(t *testing.T) {
		require.Panics(func() {
			NewSchema("x").AddBone("name", &StringBone{}).AddBone("name", &StringBone{})
		})
	})
	t.Run("must panic on dotted bone name", func(t *testing.T) {
		require.Panics(func() { NewSchema("x").AddBone("a.b", &StringBone{}) })
	})
	t.Run("must panic on reserved bone names", func(t *testing.T) {
		for _, name := range []string{KeyField, orderByKey, orderDirKey, IncomingLocksProperty} {
			require.Panics(func() { NewSchema("x").AddBone(name, &StringBone{}) }, name)
		}
	})
	t.Run("must panic on bookkeeping-suffix collision", func(t *testing.T) {
		require.Panics(func() { NewSchema("x").AddBone("a"+OutgoingLocksSuffix, &StringBone{}) })
		require.Panics(func() { NewSchema("x").AddBone("a"+uniqueValuesSuffix, &StringBone{}) })
	})
	t.Run("must panic on relational bone without kind", func(t *testing.T) {
		require.Panics(func() { NewSchema("x").AddBone("ref", &RelationalBone{}) })
	})
	t.Run("must panic on unique multiple relational bone", func(t *testing.T) {
		require.Panics(func() {
			NewSchema("x").AddBone("ref", &RelationalBone{
				BaseBone: BaseBone{Unique: true},
				Kind:     "person",
				Multiple: true,
			})
		})
	})
	t.Run("must imply the key field in refKeys and parentKeys", func(t *testing.T) {
		schema := NewSchema("x").AddBone("ref", &RelationalBone{Kind: "person", RefKeys: []string{"name"}})
		rb := AsRelational(schema.Bone("ref"))
		require.Contains(rb.RefKeys, KeyField)
		require.Contains(rb.ParentKeys, KeyField)
		require.Equal(RelationalConsistency_Ignore, rb.Consistency)
		require.Equal("person", rb.Module)
	})
}

func TestRegistry(t *testing.T) {
	require := require.New(t)
	reg, _ := newTestRegistry()
	reg.Register(personSchema())

	t.Run("must panic on duplicate kind", func(t *testing.T) {
		require.Panics(func() { reg.Register(personSchema()) })
	})
	t.Run("must fail on unknown kind", func(t *testing.T) {
		_, err := reg.NewInstance("nosuchkind")
		require.ErrorIs(err, ErrUnknownKind)
	})
	t.Run("must list kinds sorted", func(t *testing.T) {
		reg.Register(NewSchema("aaa"))
		require.Equal([]string{"aaa", "person"}, reg.Kinds())
	})
	t.Run("must derive and cache referenced sub-schemas", func(t *testing.T) {
		ref1, err := reg.RefSchemaFor("person", []string{"key", "name"})
		require.NoError(err)
		require.Equal([]string{"name"}, ref1.BoneNames())

		ref2, err := reg.RefSchemaFor("person", []string{"key", "name"})
		require.NoError(err)
		require.Same(ref1, ref2)

		_, err = reg.RefSchemaFor("nosuchkind", []string{"key"})
		require.ErrorIs(err, ErrUnknownKind)
	})
}

func TestBasicUsage_Skeleton(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg, _ := newProjectRegistry(t)

	// create
	inst, err := reg.NewInstance("person")
	require.NoError(err)
	errs := inst.FromClient(ctx, url.Values{
		"name":     {"Ada Lovelace"},
		"age":      {"36"},
		"nickname": {"ada"},
	})
	require.Empty(errs)
	key, err := inst.ToDB(ctx)
	require.NoError(err)
	require.NotNil(key)

	// read back
	loaded, err := reg.NewInstance("person")
	require.NoError(err)
	require.NoError(loaded.FromDB(ctx, key))
	require.Equal("Ada Lovelace", loaded.Value("name"))
	require.Equal(int64(36), loaded.Value("age"))
	require.Equal([]string{"ada", "lovelace"}, loaded.SearchTags())

	// update
	require.NoError(loaded.SetValue("age", int64(37)))
	_, err = loaded.ToDB(ctx)
	require.NoError(err)

	again, err := reg.NewInstance("person")
	require.NoError(err)
	require.NoError(again.FromDB(ctx, key))
	require.Equal(int64(37), again.Value("age"))

	// delete
	require.NoError(again.Delete(ctx))
	_, err = reg.Datastore().Get(ctx, key)
	require.ErrorIs(err, idatastore.ErrNotFound)
}

func TestInstance_FromClient_BlockingSeverities(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg, _ := newProjectRegistry(t)

	inst, err := reg.NewInstance("project")
	require.NoError(err)

	t.Run("must block on a missing required bone", func(t *testing.T) {
		errs := inst.FromClient(ctx, url.Values{})
		require.NotEmpty(errs)
		found := false
		for _, fe := range errs {
			if fe.FieldPath() == "title" {
				require.Equal(Severity_NotSet, fe.Severity)
				found = true
			}
		}
		require.True(found)
	})

	t.Run("must not block on missing optional bones", func(t *testing.T) {
		errs := inst.FromClient(ctx, url.Values{"title": {"Alpha"}})
		require.Empty(errs)
	})

	t.Run("must block on an invalid optional bone", func(t *testing.T) {
		errs := inst.FromClient(ctx, url.Values{
			"title":    {"Alpha"},
			"deadline": {"not a date"},
		})
		require.Len(errs, 1)
		require.Equal(Severity_Invalid, errs[0].Severity)
		require.Equal("deadline", errs[0].FieldPath())
	})
}

func TestInstance_ToDB_PreservesForeignProperties(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg, _ := newProjectRegistry(t)

	key := savePerson(t, reg, "ada", "Ada", 36)

	// another writer adds a property no bone knows about
	stored, err := reg.Datastore().Get(ctx, key)
	require.NoError(err)
	stored.Set("legacyField", "kept")
	require.NoError(reg.Datastore().Put(ctx, stored))

	inst, err := reg.NewInstance("person")
	require.NoError(err)
	require.NoError(inst.FromDB(ctx, key))
	require.NoError(inst.SetValue("age", int64(40)))
	_, err = inst.ToDB(ctx)
	require.NoError(err)

	after, err := reg.Datastore().Get(ctx, key)
	require.NoError(err)
	require.Equal("kept", after.Get("legacyField"))
	require.Equal(int64(40), after.Get("age"))
}

func TestUniqueIndex(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg, _ := newProjectRegistry(t)

	first, err := reg.NewInstance("person")
	require.NoError(err)
	require.NoError(first.SetValue("nickname", "ada"))
	firstKey, err := first.ToDB(ctx)
	require.NoError(err)

	t.Run("must refuse a taken value", func(t *testing.T) {
		second, err := reg.NewInstance("person")
		require.NoError(err)
		require.NoError(second.SetValue("nickname", "ada"))
		_, err = second.ToDB(ctx)
		require.ErrorIs(err, ErrUniqueValueTaken)
	})

	t.Run("must keep the value claimable by its owner", func(t *testing.T) {
		_, err := first.ToDB(ctx)
		require.NoError(err)
	})

	t.Run("must release the value on change", func(t *testing.T) {
		require.NoError(first.SetValue("nickname", "countess"))
		_, err := first.ToDB(ctx)
		require.NoError(err)

		second, err := reg.NewInstance("person")
		require.NoError(err)
		require.NoError(second.SetValue("nickname", "ada"))
		_, err = second.ToDB(ctx)
		require.NoError(err)
	})

	t.Run("must release the value on delete", func(t *testing.T) {
		require.NoError(reg.DeleteByKey(ctx, firstKey))

		third, err := reg.NewInstance("person")
		require.NoError(err)
		require.NoError(third.SetValue("nickname", "countess"))
		_, err = third.ToDB(ctx)
		require.NoError(err)
	})
}

func TestToDB_Tasks(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg, queue := newProjectRegistry(t)

	personKey := savePerson(t, reg, "ada", "Ada", 36)
	queue.reset()

	inst, err := reg.NewInstance("project")
	require.NoError(err)
	require.NoError(inst.SetValue("title", "Engine"))
	require.NoError(inst.SetRelation(ctx, "assignees", personKey, nil, false))
	projectKey, err := inst.ToDB(ctx)
	require.NoError(err)

	t.Run("must enqueue reconcile per multiple bone and one propagation task", func(t *testing.T) {
		reconciles := queue.byKind(TaskKind_Reconcile)
		require.Len(reconciles, 1)
		require.Equal("project", reconciles[0].SrcKind)
		require.Equal("person", reconciles[0].DestKind)
		require.Equal("assignees", reconciles[0].SrcProperty)
		require.True(projectKey.Equal(reconciles[0].SrcKey))

		updates := queue.byKind(TaskKind_DestUpdated)
		require.Len(updates, 1)
		require.Equal("project", updates[0].DestKind)
		require.True(projectKey.Equal(updates[0].DestKey))
		require.Equal(coreutils.MockTime.Now().UnixMilli(), updates[0].MinTag)
	})

	t.Run("must suppress propagation on request", func(t *testing.T) {
		queue.reset()
		_, err := inst.ToDB(ctx, WithoutPropagation())
		require.NoError(err)
		require.Empty(queue.byKind(TaskKind_DestUpdated))
		require.Len(queue.byKind(TaskKind_Reconcile), 1)
	})

	t.Run("must enqueue cleanup and deletion tasks on delete", func(t *testing.T) {
		queue.reset()
		require.NoError(inst.Delete(ctx))

		cleanups := queue.byKind(TaskKind_CleanupSource)
		require.Len(cleanups, 1)
		require.Equal("assignees", cleanups[0].SrcProperty)

		deleted := queue.byKind(TaskKind_DestDeleted)
		require.Len(deleted, 1)
		require.True(projectKey.Equal(deleted[0].DestKey))
	})
}

func TestMergeExternalFilter_PlainBones(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg, _ := newProjectRegistry(t)

	savePerson(t, reg, "ada", "Ada", 36)
	savePerson(t, reg, "grace", "Grace", 45)
	savePerson(t, reg, "linus", "Linus", 28)

	inst, err := reg.NewInstance("person")
	require.NoError(err)

	t.Run("must filter and order by bone fields", func(t *testing.T) {
		q := inst.All()
		require.NoError(inst.MergeExternalFilter(q, map[string]any{
			"age$gte": 30,
			"orderby": "age",
			"orderdir": "desc",
		}))
		res, err := reg.Datastore().Run(ctx, q)
		require.NoError(err)
		require.Len(res, 2)
		require.Equal("Grace", res[0].Get("name"))
		require.Equal("Ada", res[1].Get("name"))
	})

	t.Run("must filter by entity key", func(t *testing.T) {
		q := inst.All()
		require.NoError(inst.MergeExternalFilter(q, map[string]any{
			"key": "person/ada",
		}))
		res, err := reg.Datastore().Run(ctx, q)
		require.NoError(err)
		require.Len(res, 1)
		require.Equal("Ada", res[0].Get("name"))
	})

	t.Run("must ignore raw keys matching no bone", func(t *testing.T) {
		q := inst.All()
		require.NoError(inst.MergeExternalFilter(q, map[string]any{"nosuchfield": 1}))
		res, err := reg.Datastore().Run(ctx, q)
		require.NoError(err)
		require.Len(res, 3)
	})

	t.Run("must reject filtering on an unindexed bone", func(t *testing.T) {
		projInst, err := reg.NewInstance("project")
		require.NoError(err)
		err = projInst.MergeExternalFilter(projInst.All(), map[string]any{"notes": "x"})
		require.ErrorIs(err, idatastore.ErrUnsatisfiableQuery)
	})
}
