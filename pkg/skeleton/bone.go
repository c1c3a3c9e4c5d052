/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 */

package skeleton

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/voedger/virel/pkg/idatastore"
)

// BaseBone carries the declaration flags shared by all bone types and
// implements the plain single string value behaviour. Concrete bones embed it
// and override what differs.
type BaseBone struct {
	Descr    string
	Required bool
	Indexed  bool
	Unique   bool
	ReadOnly bool
}

func (b *BaseBone) IsRequired() bool { return b.Required }
func (b *BaseBone) IsIndexed() bool  { return b.Indexed }
func (b *BaseBone) IsUnique() bool   { return b.Unique }
func (b *BaseBone) IsReadOnly() bool { return b.ReadOnly }

func (b *BaseBone) Serialize(inst *Instance, name string, entity *idatastore.Entity) error {
	entity.Set(name, inst.Value(name))
	return nil
}

func (b *BaseBone) Unserialize(inst *Instance, name string, entity *idatastore.Entity) error {
	inst.values[name] = entity.Get(name)
	return nil
}

func (b *BaseBone) FromClient(_ context.Context, inst *Instance, name string, data url.Values) []FieldError {
	return scalarFromClient(inst, name, data, func(raw string) (any, error) {
		return raw, nil
	})
}

// scalarFromClient implements the single-value client-input convention:
// absent field reports NotSet and leaves the value untouched, a blank value
// clears it and reports Empty, otherwise parse decides.
func scalarFromClient(inst *Instance, name string, data url.Values, parse func(raw string) (any, error)) []FieldError {
	vals, ok := data[name]
	if !ok {
		return []FieldError{NewFieldError(Severity_NotSet, "field not submitted", name)}
	}
	raw := ""
	if len(vals) > 0 {
		raw = strings.TrimSpace(vals[0])
	}
	if raw == "" {
		inst.values[name] = nil
		return []FieldError{NewFieldError(Severity_Empty, "no value entered", name)}
	}
	value, err := parse(raw)
	if err != nil {
		return []FieldError{NewFieldError(Severity_Invalid, err.Error(), name)}
	}
	inst.values[name] = value
	return nil
}

var rawFilterOps = []struct {
	suffix string
	op     idatastore.Op
}{
	{"", idatastore.OpEqual},
	{"$lt", idatastore.OpLess},
	{"$lte", idatastore.OpLessEq},
	{"$gt", idatastore.OpGreater},
	{"$gte", idatastore.OpGreaterEq},
}

func (b *BaseBone) BuildDBFilter(name string, inst *Instance, q *idatastore.Query, rawFilter map[string]any, prefix string) error {
	touched := false
	for _, fo := range rawFilterOps {
		value, ok := rawFilter[name+fo.suffix]
		if !ok {
			continue
		}
		touched = true
		if !b.Indexed {
			break
		}
		q.Filter(prefix+name+" "+string(fo.op), value)
	}
	if touched && !b.Indexed {
		return fmt.Errorf("bone «%s» is not indexed, filtering is unsatisfiable: %w", prefix+name, idatastore.ErrUnsatisfiableQuery)
	}
	return nil
}

func (b *BaseBone) BuildDBSort(name string, inst *Instance, q *idatastore.Query, rawFilter map[string]any) error {
	orderBy, ok := rawFilter[orderByKey].(string)
	if !ok || orderBy != name {
		return nil
	}
	if !b.Indexed {
		return fmt.Errorf("bone «%s» is not indexed, ordering is unsatisfiable: %w", name, idatastore.ErrUnsatisfiableQuery)
	}
	if descendingOrder(rawFilter) {
		q.Order("-" + name)
	} else {
		q.Order(name)
	}
	return nil
}

func descendingOrder(rawFilter map[string]any) bool {
	switch dir := rawFilter[orderDirKey].(type) {
	case string:
		return dir == "1" || strings.EqualFold(dir, orderDesc)
	case int:
		return dir == 1
	case bool:
		return dir
	}
	return false
}

func (b *BaseBone) SearchTags(inst *Instance, name string) []string {
	value, _ := inst.Value(name).(string)
	return searchTokens(value)
}

func searchTokens(value string) []string {
	tags := []string{}
	for _, token := range strings.Fields(strings.ToLower(value)) {
		tags = append(tags, token)
	}
	return tags
}

func (b *BaseBone) ReferencedBlobs(inst *Instance, name string) []string {
	return nil
}

func (b *BaseBone) UniqueValues(inst *Instance, name string) []string {
	if !b.Unique {
		return nil
	}
	value := inst.Value(name)
	if b.IsEmpty(value) {
		return nil
	}
	return []string{strings.ToLower(fmt.Sprint(value))}
}

func (b *BaseBone) Refresh(_ context.Context, _ *Instance, _ string) error {
	return nil
}

func (b *BaseBone) IsEmpty(value any) bool {
	return value == nil || value == ""
}
