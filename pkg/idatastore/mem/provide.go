/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author: Dmitry Molchanovsky
 */

package mem

import (
	"github.com/voedger/virel/pkg/idatastore"
)

func Provide() idatastore.IDatastore {
	return &datastore{kinds: map[string]map[string]*idatastore.Entity{}}
}
