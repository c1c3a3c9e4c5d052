/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author Dmitry Molchanovsky
 */

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voedger/virel/pkg/idatastore/pg"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the pg storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newStorageConfig()
			if err != nil {
				return err
			}
			if driver := v.GetString("storage.driver"); driver != driverPg {
				return fmt.Errorf("%w, configured driver is «%s»", ErrPgStorageRequired, driver)
			}
			// pg.Provide applies pending migrations on connect
			_, cleanup, err := pg.Provide(pgParams(v))
			if err != nil {
				return err
			}
			if err = cleanup(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
