/*
 * Copyright (c) 2021-present unTill Pro, Ltd.
 * @author Maxim Geraskin
 */

package idatastore

import (
	"sort"
	"strings"
	"time"
)

// Entity is a schemaless property bag.
//
// Property value domain: nil, bool, int64, float64, string, []byte, time.Time,
// *Key, []any (elements from the same domain) and map[string]any (embedded
// document). Set normalizes the common narrower Go types into this domain.
type Entity struct {
	Key   *Key
	props map[string]any
}

func NewEntity(key *Key) *Entity {
	return &Entity{Key: key, props: map[string]any{}}
}

func (e *Entity) Get(name string) any {
	return e.props[name]
}

func (e *Entity) Has(name string) bool {
	_, ok := e.props[name]
	return ok
}

func (e *Entity) Set(name string, value any) {
	e.props[name] = normalizeValue(value)
}

func (e *Entity) Delete(name string) {
	delete(e.props, name)
}

func (e *Entity) Len() int {
	return len(e.props)
}

// Properties returns the property names sorted alphabetically.
func (e *Entity) Properties() []string {
	names := make([]string, 0, len(e.props))
	for name := range e.props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy. Key values are shared, they are immutable by convention.
func (e *Entity) Clone() *Entity {
	c := NewEntity(e.Key)
	for name, value := range e.props {
		c.props[name] = cloneValue(value)
	}
	return c
}

// PropertyValue resolves a possibly dotted property path. An exact property
// name wins over path traversal, so flattened legacy properties like
// «address.city» stay addressable next to embedded documents.
func PropertyValue(e *Entity, path string) (any, bool) {
	if v, ok := e.props[path]; ok {
		return v, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}
	head, rest, _ := strings.Cut(path, ".")
	v, ok := e.props[head]
	if !ok {
		return nil, false
	}
	return documentValue(v, rest)
}

// documentValue resolves a dotted path inside an embedded document value.
func documentValue(v any, path string) (any, bool) {
	for {
		doc, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		if dv, ok := doc[path]; ok {
			return dv, true
		}
		head, rest, found := strings.Cut(path, ".")
		if !found {
			return nil, false
		}
		if v, ok = doc[head]; !ok {
			return nil, false
		}
		path = rest
	}
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case nil, bool, int64, float64, string, []byte, time.Time, *Key, map[string]any:
		return v
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case float32:
		return float64(v)
	case []any:
		res := make([]any, len(v))
		for i := range v {
			res[i] = normalizeValue(v[i])
		}
		return res
	case []string:
		res := make([]any, len(v))
		for i := range v {
			res[i] = v[i]
		}
		return res
	default:
		// left as is, the codec rejects it at write time
		return v
	}
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return append([]byte(nil), v...)
	case []any:
		res := make([]any, len(v))
		for i := range v {
			res[i] = cloneValue(v[i])
		}
		return res
	case map[string]any:
		res := make(map[string]any, len(v))
		for name, mv := range v {
			res[name] = cloneValue(mv)
		}
		return res
	default:
		return v
	}
}
