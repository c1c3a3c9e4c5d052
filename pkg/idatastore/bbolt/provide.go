/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author: Dmitry Molchanovsky
 */

package bbolt

import (
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/voedger/virel/pkg/coreutils"
	"github.com/voedger/virel/pkg/idatastore"
)

// Provide opens the database file, creating it (and its directory) if absent.
// cleanup closes the database.
func Provide(params ParamsType) (ds idatastore.IDatastore, cleanup func() error, err error) {
	if params.DBPath == "" {
		return nil, nil, ErrDBPathNotSpecified
	}
	if err = os.MkdirAll(filepath.Dir(params.DBPath), coreutils.FileMode_rwxrwxrwx); err != nil {
		// notest
		return nil, nil, err
	}
	db, err := bolt.Open(params.DBPath, coreutils.FileMode_rw_rw_rw_, bolt.DefaultOptions)
	if err != nil {
		return nil, nil, err
	}
	return &datastore{db: db}, db.Close, nil
}
