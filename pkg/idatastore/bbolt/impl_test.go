/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author: Dmitry Molchanovsky
 * @author: Maxim Geraskin (refactoring)
 */

package bbolt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voedger/virel/pkg/idatastore"
)

func TestBasicUsage(t *testing.T) {
	require := require.New(t)

	params := prepareTestData()
	defer cleanupTestData(params)

	ds, cleanup, err := Provide(params)
	require.NoError(err)
	defer func() { require.NoError(cleanup()) }()

	// write an entity to the database
	e := idatastore.NewEntity(idatastore.NewKey("person", "p1"))
	e.Set("name", "Ada")
	require.NoError(ds.Put(context.Background(), e))

	// read it back
	stored, err := ds.Get(context.Background(), idatastore.NewKey("person", "p1"))
	require.NoError(err)
	require.Equal("Ada", stored.Get("name"))
}

func TestTCK(t *testing.T) {
	params := prepareTestData()
	defer cleanupTestData(params)

	ds, cleanup, err := Provide(params)
	require.NoError(t, err)
	defer func() { require.NoError(t, cleanup()) }()

	idatastore.TechnologyCompatibilityKit(t, ds)
}

func TestProvide_Errors(t *testing.T) {
	require := require.New(t)

	t.Run("must fail on empty path", func(t *testing.T) {
		_, _, err := Provide(ParamsType{})
		require.ErrorIs(err, ErrDBPathNotSpecified)
	})
}

func TestPersistence(t *testing.T) {
	require := require.New(t)

	params := prepareTestData()
	defer cleanupTestData(params)

	ds, cleanup, err := Provide(params)
	require.NoError(err)

	e := idatastore.NewEntity(idatastore.NewKey("doc", "d1"))
	e.Set("title", "persisted")
	require.NoError(ds.Put(context.Background(), e))
	require.NoError(cleanup())

	// reopen and read back
	ds, cleanup, err = Provide(params)
	require.NoError(err)
	defer func() { require.NoError(cleanup()) }()

	stored, err := ds.Get(context.Background(), idatastore.NewKey("doc", "d1"))
	require.NoError(err)
	require.Equal("persisted", stored.Get("title"))
}

func prepareTestData() (params ParamsType) {
	dbDir, err := os.MkdirTemp("", "bolt")
	if err != nil {
		panic(err)
	}
	params.DBPath = filepath.Join(dbDir, "datastore.db")
	return
}

func cleanupTestData(params ParamsType) {
	if params.DBPath != "" {
		os.RemoveAll(filepath.Dir(params.DBPath))
	}
}
