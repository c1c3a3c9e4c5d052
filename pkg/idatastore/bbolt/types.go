/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author: Dmitry Molchanovsky
 */

package bbolt

type ParamsType struct {
	// DBPath is the path to the database file. Created on Provide if absent.
	DBPath string
}
