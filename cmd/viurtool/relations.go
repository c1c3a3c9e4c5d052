/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/untillpro/goutils/logger"

	"github.com/voedger/virel/pkg/coreutils"
	"github.com/voedger/virel/pkg/idatastore"
	"github.com/voedger/virel/pkg/relindex"
	"github.com/voedger/virel/pkg/skeleton"
)

func newRelationsCmd() *cobra.Command {
	flt := rowFilter{}
	prune := false

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List relation index rows",
		RunE: withDatastore(func(cmd *cobra.Command, ds idatastore.IDatastore) error {
			return listRelations(cmd.Context(), ds, flt, cmd.OutOrStdout())
		}),
	}

	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Refresh the dest snapshots of relation index rows from the live entities",
		RunE: withDatastore(func(cmd *cobra.Command, ds idatastore.IDatastore) error {
			stats, err := rebuildRelations(cmd.Context(), ds, coreutils.NewITime(), flt, prune)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d, orphaned %d, undecodable %d, pruned %d\n",
				stats.refreshed, stats.orphans, stats.corrupt, stats.pruned)
			return nil
		}),
	}
	rebuildCmd.Flags().BoolVar(&prune, "prune", false, "Delete orphaned and undecodable rows")

	relationsCmd := &cobra.Command{
		Use:   "relations",
		Short: "Inspect and repair the relation index",
	}
	relationsCmd.PersistentFlags().StringVar(&flt.srcKind, "src-kind", "", "Filter by source kind")
	relationsCmd.PersistentFlags().StringVar(&flt.destKind, "dest-kind", "", "Filter by destination kind")
	relationsCmd.PersistentFlags().StringVar(&flt.srcProperty, "src-property", "", "Filter by source property")
	relationsCmd.AddCommand(listCmd, rebuildCmd)

	return relationsCmd
}

// withDatastore opens the configured storage around the command run.
func withDatastore(f func(cmd *cobra.Command, ds idatastore.IDatastore) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		v, err := newStorageConfig()
		if err != nil {
			return err
		}
		ds, cleanup, err := provideDatastore(v)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := cleanup(); closeErr != nil {
				logger.Error("failed to close the storage:", closeErr.Error())
			}
		}()
		return f(cmd, ds)
	}
}

// rowFilter narrows the relation index scan, empty fields match everything.
type rowFilter struct {
	srcKind     string
	destKind    string
	srcProperty string
}

func (f rowFilter) query() *idatastore.Query {
	q := idatastore.NewQuery(skeleton.RelationIndexKind)
	if f.srcKind != "" {
		q.Filter(skeleton.IndexField_SrcKind+" =", f.srcKind)
	}
	if f.destKind != "" {
		q.Filter(skeleton.IndexField_DestKind+" =", f.destKind)
	}
	if f.srcProperty != "" {
		q.Filter(skeleton.IndexField_SrcProperty+" =", f.srcProperty)
	}
	return q
}

func listRelations(ctx context.Context, ds idatastore.IDatastore, flt rowFilter, out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SRC\tPROPERTY\tDEST\tLEVEL\tCONSISTENCY\tTAG")
	err := ds.Iterate(ctx, flt.query(), func(row *idatastore.Entity) error {
		entry, decodeErr := relindex.DecodeRow(row)
		if decodeErr != nil {
			fmt.Fprintf(w, "%s\t(undecodable)\t\t\t\t\n", row.Key.Encode())
			return nil
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			entry.SrcKey().Encode(), entry.SrcProperty, entry.DestKey.Encode(),
			entry.UpdateLevel, entry.Consistency, entry.UpdateTag)
		return nil
	})
	if err != nil {
		return err
	}
	return w.Flush()
}

type rebuildStats struct {
	refreshed int
	orphans   int
	corrupt   int
	pruned    int
}

// rebuildRelations refreshes the dest snapshot of every matching index row
// from the live referenced entity, restricted to the foreignKeys stored in
// the row. Rows referencing gone entities and undecodable rows are counted,
// prune deletes them.
//
// The src snapshots are left as written, rebuilding those takes the schema
// and is the job of the embedded full reindex.
func rebuildRelations(ctx context.Context, ds idatastore.IDatastore, iTime coreutils.ITime, flt rowFilter, prune bool) (stats rebuildStats, err error) {
	tag := iTime.Now().UnixMilli()
	puts := []*idatastore.Entity{}
	deletes := []*idatastore.Key{}
	err = ds.Iterate(ctx, flt.query(), func(row *idatastore.Entity) error {
		entry, decodeErr := relindex.DecodeRow(row)
		if decodeErr != nil {
			stats.corrupt++
			if prune {
				deletes = append(deletes, row.Key)
			}
			return nil
		}
		live, getErr := ds.Get(ctx, entry.DestKey)
		switch {
		case getErr == nil:
			entry.RefreshDest(live, tag)
			puts = append(puts, entry.Row())
			stats.refreshed++
		case errors.Is(getErr, idatastore.ErrNotFound):
			stats.orphans++
			if prune {
				deletes = append(deletes, row.Key)
			}
		default:
			return getErr
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	if err = ds.PutMulti(ctx, puts); err != nil {
		return stats, err
	}
	if err = ds.Delete(ctx, deletes...); err != nil {
		return stats, err
	}
	stats.pruned = len(deletes)
	return stats, nil
}
