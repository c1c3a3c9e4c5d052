/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 */

package skeleton

import (
	"errors"
	"fmt"

	"github.com/voedger/virel/pkg/idatastore"
)

// PreventDeletion lock maintenance.
//
// Each relational bone keeps the destination keys it currently locks on the
// sibling property «bone_outgoingRelationalLocks» of the source entity, and
// each destination entity lists its holders in
// «viur_incomming_relational_locks». Both sides change inside the save or
// delete transaction, so the lists can only disagree through out-of-band
// writes. Such disagreement is never repaired silently: it reports
// ErrLockInconsistency and aborts the transaction.

// syncOutgoingLocks recomputes the outgoing lock list of every relational
// bone on entity and applies the diff against the previously stored one to
// the referenced entities.
func syncOutgoingLocks(tx idatastore.ITransaction, inst *Instance, old, entity *idatastore.Entity) error {
	src := entity.Key.Encode()
	for _, name := range inst.schema.names {
		rb := AsRelational(inst.schema.bones[name])
		if rb == nil {
			continue
		}
		var oldLocks []string
		if old != nil {
			oldLocks = stringList(old.Get(name + OutgoingLocksSuffix))
		}
		newLocks := rb.currentLocks(inst, name)
		entity.Set(name+OutgoingLocksSuffix, newLocks)
		if err := applyLockDiff(tx, src, oldLocks, newLocks); err != nil {
			return fmt.Errorf("bone «%s»: %w", name, err)
		}
	}
	return nil
}

// releaseOutgoingLocks drops every lock held by the stored entity e, called
// on delete.
func releaseOutgoingLocks(tx idatastore.ITransaction, schema *Schema, e *idatastore.Entity) error {
	src := e.Key.Encode()
	for _, name := range schema.names {
		if AsRelational(schema.bones[name]) == nil {
			continue
		}
		oldLocks := stringList(e.Get(name + OutgoingLocksSuffix))
		if err := applyLockDiff(tx, src, oldLocks, nil); err != nil {
			return fmt.Errorf("bone «%s»: %w", name, err)
		}
	}
	return nil
}

// applyLockDiff acquires the locks in newLocks but not in oldLocks and
// releases those in oldLocks but not in newLocks. Unchanged locks are not
// touched.
func applyLockDiff(tx idatastore.ITransaction, src string, oldLocks, newLocks []string) error {
	oldSet := map[string]bool{}
	for _, dest := range oldLocks {
		oldSet[dest] = true
	}
	newSet := map[string]bool{}
	for _, dest := range newLocks {
		newSet[dest] = true
	}
	for _, dest := range newLocks {
		if oldSet[dest] {
			continue
		}
		if err := acquireLock(tx, src, dest); err != nil {
			return err
		}
	}
	for _, dest := range oldLocks {
		if newSet[dest] {
			continue
		}
		if err := releaseLock(tx, src, dest); err != nil {
			return err
		}
	}
	return nil
}

func acquireLock(tx idatastore.ITransaction, src, dest string) error {
	e, err := lockTarget(tx, dest)
	if err != nil {
		return err
	}
	incoming := stringList(e.Get(IncomingLocksProperty))
	if containsString(incoming, src) {
		return fmt.Errorf("lock of «%s» on «%s» is already recorded: %w", src, dest, ErrLockInconsistency)
	}
	e.Set(IncomingLocksProperty, append(incoming, src))
	return tx.Put(e)
}

func releaseLock(tx idatastore.ITransaction, src, dest string) error {
	e, err := lockTarget(tx, dest)
	if err != nil {
		return err
	}
	incoming := stringList(e.Get(IncomingLocksProperty))
	if !containsString(incoming, src) {
		return fmt.Errorf("lock of «%s» on «%s» is not recorded: %w", src, dest, ErrLockInconsistency)
	}
	kept := make([]string, 0, len(incoming)-1)
	for _, holder := range incoming {
		if holder != src {
			kept = append(kept, holder)
		}
	}
	e.Set(IncomingLocksProperty, kept)
	return tx.Put(e)
}

func lockTarget(tx idatastore.ITransaction, dest string) (*idatastore.Entity, error) {
	key, err := idatastore.DecodeKey(dest)
	if err != nil {
		return nil, fmt.Errorf("undecodable lock target «%s»: %w", dest, ErrLockInconsistency)
	}
	e, err := tx.Get(key)
	if errors.Is(err, idatastore.ErrNotFound) {
		return nil, fmt.Errorf("lock target «%s» is missing: %w", dest, ErrLockInconsistency)
	}
	return e, err
}
