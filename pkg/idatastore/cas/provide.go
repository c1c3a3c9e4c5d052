/*
 * Copyright (c) 2021-present unTill Pro, Ltd.
 */

package cas

import (
	"errors"
	"html"

	"github.com/voedger/virel/pkg/idatastore"
)

// Provide connects to the cluster, creates the keyspace and the entities
// table if absent, and returns the datastore. cleanup closes the session.
func Provide(casPar CassandraParamsType) (ds idatastore.IDatastore, cleanup func(), err error) {
	if len(casPar.KeyspaceWithReplication) == 0 {
		return nil, nil, errors.New("casPar.KeyspaceWithReplication can not be empty")
	}
	casPar.KeyspaceWithReplication = html.UnescapeString(casPar.KeyspaceWithReplication) // https://dev.untill.com/projects/#!643010
	session, err := getSession(casPar)
	if err != nil {
		return nil, nil, err
	}
	return &datastore{session: session}, session.Close, nil
}
