/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author Dmitry Molchanovsky
 */

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/voedger/virel/pkg/idatastore"
	"github.com/voedger/virel/pkg/idatastore/bbolt"
	"github.com/voedger/virel/pkg/idatastore/cas"
	"github.com/voedger/virel/pkg/idatastore/mem"
	"github.com/voedger/virel/pkg/idatastore/pg"
	"github.com/voedger/virel/pkg/idatastorecache"
	"github.com/voedger/virel/pkg/imetrics"
)

// path to the YAML config file (flag --config)
var configPath string

const (
	driverMem   = "mem"
	driverBbolt = "bbolt"
	driverPg    = "pg"
	driverCas   = "cas"
)

// newStorageConfig reads the storage configuration. The --config flag names
// the file explicitly, otherwise viurtool.yaml of the working directory is
// picked up when present.
func newStorageConfig() (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault("storage.driver", driverBbolt)
	v.SetDefault("storage.bbolt.path", "viurtool.db")
	v.SetDefault("storage.pg.host", "localhost")
	v.SetDefault("storage.pg.port", 5432)
	v.SetDefault("storage.pg.sslmode", "disable")
	v.SetDefault("storage.cas.hosts", "localhost")
	v.SetDefault("storage.cas.port", 9042)
	v.SetDefault("storage.cas.keyspace", "viurtool")
	v.SetDefault("storage.cas.replication", "{ 'class' : 'SimpleStrategy', 'replication_factor' : 1 }")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config «%s»: %w", configPath, err)
		}
		return v, nil
	}
	v.SetConfigName("viurtool")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return v, nil
}

// provideDatastore builds the configured driver, wrapped into a read-through
// cache when storage.cache.maxbytes is set.
func provideDatastore(v *viper.Viper) (ds idatastore.IDatastore, cleanup func() error, err error) {
	driver := v.GetString("storage.driver")
	switch driver {
	case driverMem:
		ds, cleanup = mem.Provide(), func() error { return nil }
	case driverBbolt:
		ds, cleanup, err = bbolt.Provide(bbolt.ParamsType{DBPath: v.GetString("storage.bbolt.path")})
	case driverPg:
		ds, cleanup, err = pg.Provide(pgParams(v))
	case driverCas:
		var closeSession func()
		if ds, closeSession, err = cas.Provide(casParams(v)); err == nil {
			cleanup = func() error { closeSession(); return nil }
		}
	default:
		return nil, nil, fmt.Errorf("%w: «%s»", ErrUnknownStorageDriver, driver)
	}
	if err != nil {
		return nil, nil, err
	}
	if maxBytes := v.GetInt("storage.cache.maxbytes"); maxBytes > 0 {
		ds = idatastorecache.Provide(maxBytes, ds, imetrics.Provide(), driver)
	}
	return ds, cleanup, nil
}

func pgParams(v *viper.Viper) pg.ParamsType {
	return pg.ParamsType{
		Host:     v.GetString("storage.pg.host"),
		Port:     v.GetInt("storage.pg.port"),
		User:     v.GetString("storage.pg.user"),
		Pwd:      v.GetString("storage.pg.pwd"),
		Database: v.GetString("storage.pg.database"),
		SSLMode:  v.GetString("storage.pg.sslmode"),
	}
}

func casParams(v *viper.Viper) cas.CassandraParamsType {
	return cas.CassandraParamsType{
		Hosts:                   v.GetString("storage.cas.hosts"),
		Port:                    v.GetInt("storage.cas.port"),
		Username:                v.GetString("storage.cas.username"),
		Pwd:                     v.GetString("storage.cas.pwd"),
		NumRetries:              v.GetInt("storage.cas.numretries"),
		DC:                      v.GetString("storage.cas.dc"),
		Keyspace:                v.GetString("storage.cas.keyspace"),
		KeyspaceWithReplication: v.GetString("storage.cas.replication"),
	}
}
