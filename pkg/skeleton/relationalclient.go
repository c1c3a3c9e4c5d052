/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 * @author Denis Gribanov
 */

package skeleton

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/voedger/virel/pkg/idatastore"
)

// Client input of relational bones.
//
// Two submission shapes are accepted. The short one lists destination keys
// under the bare bone name:
//
//	assignee=person/7&assignee=person/9
//
// The full one indexes candidates and addresses edge attributes with dotted
// names, «key» selects the destination:
//
//	assignee.0.key=person/7&assignee.0.role=lead&assignee.1.key=person/9
//
// When dotted names are present the bare values are ignored, the full form
// wins. «assignee.0» alone is shorthand for «assignee.0.key», an undotted
// «assignee.role» addresses candidate 0.

type relationCandidate struct {
	index string
	key   string
	using url.Values
}

func (b *RelationalBone) FromClient(ctx context.Context, inst *Instance, name string, data url.Values) []FieldError {
	candidates, present := parseCandidates(name, data)
	if !present {
		return []FieldError{NewFieldError(Severity_NotSet, "field not submitted", name)}
	}
	errs := []FieldError{}
	accepted := []*RelationValue{}
	for _, cand := range candidates {
		value, candErrs, fatal := b.resolveCandidate(ctx, inst, name, cand)
		errs = append(errs, candErrs...)
		if fatal {
			// the value keeps its previous content
			return errs
		}
		if value == nil {
			continue
		}
		if b.EntryCheck != nil {
			if msg := b.EntryCheck(value); msg != "" {
				errs = append(errs, NewFieldError(Severity_Invalid, msg, b.errPath(name, cand)...))
				continue
			}
		}
		accepted = append(accepted, value)
	}
	if b.Multiple {
		inst.values[name] = accepted
		if len(accepted) == 0 {
			errs = append(errs, NewFieldError(Severity_Empty, "no value selected", name))
		}
		return errs
	}
	if len(accepted) == 0 {
		inst.values[name] = nil
		errs = append(errs, NewFieldError(Severity_Empty, "no value selected", name))
		return errs
	}
	inst.values[name] = accepted[0]
	return errs
}

// parseCandidates collects the submitted candidates in index order. present
// is false when neither the bare name nor any dotted name occurs in data.
func parseCandidates(name string, data url.Values) (candidates []relationCandidate, present bool) {
	prefix := name + "."
	byIndex := map[string]*relationCandidate{}
	dotted := false
	for k, vals := range data {
		if !strings.HasPrefix(k, prefix) || len(vals) == 0 {
			continue
		}
		dotted = true
		idx, sub := splitCandidateKey(k[len(prefix):])
		cand := byIndex[idx]
		if cand == nil {
			cand = &relationCandidate{index: idx, using: url.Values{}}
			byIndex[idx] = cand
		}
		if sub == KeyField {
			cand.key = strings.TrimSpace(vals[0])
		} else {
			cand.using[sub] = vals
		}
	}
	if !dotted {
		bare, ok := data[name]
		if !ok {
			return nil, false
		}
		for i, raw := range bare {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			idx := strconv.Itoa(i)
			byIndex[idx] = &relationCandidate{index: idx, key: raw, using: url.Values{}}
		}
	}
	indexes := make([]string, 0, len(byIndex))
	for idx := range byIndex {
		indexes = append(indexes, idx)
	}
	sortCandidateIndexes(indexes)
	for _, idx := range indexes {
		candidates = append(candidates, *byIndex[idx])
	}
	return candidates, true
}

// splitCandidateKey splits the part after «bone.» into candidate index and
// sub-field. A missing leading index addresses candidate 0, a missing
// sub-field addresses the destination key.
func splitCandidateKey(rest string) (idx, sub string) {
	head, tail, found := strings.Cut(rest, ".")
	if !isDigits(head) {
		return "0", rest
	}
	if !found {
		return head, KeyField
	}
	return head, tail
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// sortCandidateIndexes orders numeric indexes numerically, anything else
// lexicographically after them.
func sortCandidateIndexes(indexes []string) {
	sort.Slice(indexes, func(i, j int) bool {
		ni, ierr := strconv.Atoi(indexes[i])
		nj, jerr := strconv.Atoi(indexes[j])
		switch {
		case ierr == nil && jerr == nil:
			return ni < nj
		case ierr == nil:
			return true
		case jerr == nil:
			return false
		}
		return indexes[i] < indexes[j]
	})
}

// resolveCandidate turns one submitted candidate into an accepted value.
//
// A destination that no longer exists falls back to the matching snapshot of
// the previously stored value. Without a fallback a multiple bone drops the
// candidate silently, a single bone fails the whole input and keeps its
// previous value (fatal). A resolved or recovered destination of the wrong
// kind is dropped with a recorded error, never fatal.
func (b *RelationalBone) resolveCandidate(ctx context.Context, inst *Instance, name string, cand relationCandidate) (value *RelationValue, errs []FieldError, fatal bool) {
	path := b.errPath(name, cand)
	if cand.key == "" {
		// candidates without a destination are discarded
		return nil, nil, false
	}
	destKey, err := idatastore.DecodeKey(cand.key)
	if err != nil {
		return nil, []FieldError{NewFieldError(Severity_Invalid, fmt.Sprintf("undecodable key «%s»", cand.key), path...)}, !b.Multiple
	}
	live, err := inst.registry.ds.Get(ctx, destKey)
	switch {
	case errors.Is(err, idatastore.ErrNotFound):
		prev := b.previousValue(inst, name, destKey)
		if prev == nil {
			if b.Multiple {
				return nil, nil, false
			}
			return nil, []FieldError{NewFieldError(Severity_Invalid, fmt.Sprintf("entity «%s» does not exist", cand.key), path...)}, true
		}
		value = prev.Clone()
	case err != nil:
		return nil, []FieldError{NewFieldError(Severity_Invalid, err.Error(), path...)}, !b.Multiple
	default:
		value = &RelationValue{Dest: Snapshot(live, b.RefKeys)}
	}
	if value.Dest.Key == nil || value.Dest.Key.Kind != b.Kind {
		return nil, []FieldError{NewFieldError(Severity_Invalid,
			fmt.Sprintf("entity «%s» is not of kind «%s»", cand.key, b.Kind), path...)}, false
	}
	if b.Using != nil {
		relInst := inst.registry.InstanceOf(b.Using)
		if value.Rel != nil {
			// recovered values keep their stored edge attributes as defaults
			for _, n := range b.Using.names {
				_ = b.Using.bones[n].Unserialize(relInst, n, value.Rel)
			}
		}
		errs = prefixPaths(relInst.FromClient(ctx, cand.using), name, cand.index)
		value.Rel = relEntityOf(relInst)
	}
	return value, errs, false
}

// previousValue finds the stored snapshot of destKey in the value the
// instance was loaded with.
func (b *RelationalBone) previousValue(inst *Instance, name string, destKey *idatastore.Key) *RelationValue {
	for _, v := range b.Relations(inst, name) {
		if v.Dest.Key != nil && v.Dest.Key.Equal(destKey) {
			return v
		}
	}
	return nil
}

func (b *RelationalBone) errPath(name string, cand relationCandidate) []string {
	if b.Multiple {
		return []string{name, cand.index}
	}
	return []string{name}
}
