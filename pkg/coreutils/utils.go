/*
 * Copyright (c) 2020-present unTill Pro, Ltd.
 * @author Denis Gribanov
 */

package coreutils

import (
	"os"
	"strings"
	"testing"
)

func IsBlank(str string) bool {
	return len(strings.TrimSpace(str)) == 0
}

func IsTest() bool {
	return testing.Testing() || IsDebug()
}

func IsDebug() bool {
	return strings.Contains(os.Args[0], "__debug_bin")
}

func IsCassandraStorage() bool {
	_, ok := os.LookupEnv("CASSANDRA_TESTS_ENABLED")
	return ok
}

func IsPostgresStorage() bool {
	_, ok := os.LookupEnv("POSTGRES_TESTS_ENABLED")
	return ok
}
