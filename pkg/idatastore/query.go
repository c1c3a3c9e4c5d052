/*
 * Copyright (c) 2021-present unTill Pro, Ltd.
 * @author Maxim Geraskin
 */

package idatastore

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Op string

const (
	OpEqual     Op = "="
	OpLess      Op = "<"
	OpLessEq    Op = "<="
	OpGreater   Op = ">"
	OpGreaterEq Op = ">="
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

type Order struct {
	Field      string
	Descending bool
}

// FilterHook rewrites a filter entry before it is recorded.
// Returning an empty field drops the entry. The hook may instead mutate q
// directly, e.g. convert a key equality into an ancestor constraint.
type FilterHook func(q *Query, field string, op Op, value any) (newField string, newOp Op, newValue any, err error)

// OrderHook is the FilterHook counterpart for sort keys.
type OrderHook func(q *Query, field string, descending bool) (newField string, newDescending bool, err error)

// Query describes a kind scan with AND-composed predicates.
//
// Builder calls latch the first error instead of returning it, Run/Iterate
// surface it. A rejected filter therefore can never be silently dropped:
// the whole query fails.
type Query struct {
	kind       string
	filters    []Filter
	orders     []Order
	ancestor   *Key
	limit      int
	keysOnly   bool
	filterHook FilterHook
	orderHook  OrderHook
	err        error
}

func NewQuery(kind string) *Query {
	return &Query{kind: kind}
}

func (q *Query) Kind() string {
	return q.kind
}

// SetKind retargets the query to another collection, keeping everything else.
func (q *Query) SetKind(kind string) *Query {
	q.kind = kind
	return q
}

// Filter adds a predicate. Spec is a field path with an optional trailing
// operator, e.g. «name =», «price <», «dest.name >=»; bare field means equality.
func (q *Query) Filter(spec string, value any) *Query {
	field, op, err := parseFilterSpec(spec)
	if err != nil {
		q.setErr(err)
		return q
	}
	value = normalizeValue(value)
	if q.filterHook != nil {
		field, op, value, err = q.filterHook(q, field, op, value)
		if err != nil {
			q.setErr(err)
			return q
		}
		if field == "" {
			return q
		}
	}
	q.filters = append(q.filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// Order adds a sort key, «-field» for descending.
func (q *Query) Order(spec string) *Query {
	field := strings.TrimSpace(spec)
	descending := false
	if strings.HasPrefix(field, "-") {
		descending = true
		field = field[1:]
	}
	if field == "" {
		q.setErr(fmt.Errorf("empty order field: %w", ErrUnsatisfiableQuery))
		return q
	}
	if q.orderHook != nil {
		var err error
		field, descending, err = q.orderHook(q, field, descending)
		if err != nil {
			q.setErr(err)
			return q
		}
		if field == "" {
			return q
		}
	}
	q.orders = append(q.orders, Order{Field: field, Descending: descending})
	return q
}

func (q *Query) Ancestor(key *Key) *Query {
	q.ancestor = key
	return q
}

// AncestorKey returns the ancestor constraint, nil when not set.
func (q *Query) AncestorKey() *Key {
	return q.ancestor
}

// Filters returns the recorded predicates. The slice is shared, callers must
// not mutate it.
func (q *Query) Filters() []Filter {
	return q.filters
}

// Orders returns the recorded sort keys. The slice is shared, callers must
// not mutate it.
func (q *Query) Orders() []Order {
	return q.orders
}

func (q *Query) Limit(limit int) *Query {
	q.limit = limit
	return q
}

func (q *Query) KeysOnly() *Query {
	q.keysOnly = true
	return q
}

// SetFilterHook installs h for all subsequent Filter calls. Passing the
// previous hook is the caller's job when chaining.
func (q *Query) SetFilterHook(h FilterHook) *Query {
	q.filterHook = h
	return q
}

func (q *Query) SetOrderHook(h OrderHook) *Query {
	q.orderHook = h
	return q
}

// Err returns the first builder error, checked by drivers before running.
func (q *Query) Err() error {
	return q.err
}

func (q *Query) setErr(err error) {
	if q.err == nil {
		q.err = err
	}
}

func parseFilterSpec(spec string) (field string, op Op, err error) {
	field = strings.TrimSpace(spec)
	op = OpEqual
	if idx := strings.IndexByte(field, ' '); idx >= 0 {
		opStr := strings.TrimSpace(field[idx+1:])
		field = field[:idx]
		switch Op(opStr) {
		case OpEqual, OpLess, OpLessEq, OpGreater, OpGreaterEq:
			op = Op(opStr)
		default:
			return "", "", fmt.Errorf("filter operator «%s»: %w", opStr, ErrUnsatisfiableQuery)
		}
	}
	if field == "" {
		return "", "", fmt.Errorf("empty filter field: %w", ErrUnsatisfiableQuery)
	}
	return field, op, nil
}

// Match reports whether e satisfies every predicate of q.
// Used by drivers that evaluate predicates client-side.
func Match(q *Query, e *Entity) bool {
	if q.kind != e.Key.Kind {
		return false
	}
	if q.ancestor != nil && !e.Key.HasAncestor(q.ancestor) {
		return false
	}
	for i := range q.filters {
		if !matchFilter(&q.filters[i], e) {
			return false
		}
	}
	return true
}

func matchFilter(f *Filter, e *Entity) bool {
	if f.Field == KeyProperty {
		return opMatches(f.Op, compareKeys(e.Key, f.Value))
	}
	v, ok := PropertyValue(e, f.Field)
	if !ok {
		return false
	}
	// a list property matches when any element does
	if list, isList := v.([]any); isList {
		for i := range list {
			if c, comparable := compareValues(list[i], f.Value); comparable && opMatches(f.Op, c) {
				return true
			}
		}
		return false
	}
	c, comparable := compareValues(v, f.Value)
	return comparable && opMatches(f.Op, c)
}

func opMatches(op Op, c int) bool {
	switch op {
	case OpEqual:
		return c == 0
	case OpLess:
		return c < 0
	case OpLessEq:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEq:
		return c >= 0
	}
	// notest
	return false
}

func compareKeys(k *Key, value any) int {
	switch v := value.(type) {
	case *Key:
		return strings.Compare(k.Encode(), v.Encode())
	case string:
		return strings.Compare(k.Encode(), v)
	default:
		return -1
	}
}

// compareValues orders two property values of compatible types.
// Numeric values compare across int64/float64.
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return cmpOrdered(av, bv), true
		case float64:
			return cmpOrdered(float64(av), bv), true
		}
	case float64:
		switch bv := b.(type) {
		case int64:
			return cmpOrdered(av, float64(bv)), true
		case float64:
			return cmpOrdered(av, bv), true
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return cmpBool(av, bv), true
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), true
		}
	case *Key:
		switch bv := b.(type) {
		case *Key:
			return strings.Compare(av.Encode(), bv.Encode()), true
		case string:
			return strings.Compare(av.Encode(), bv), true
		}
	case []byte:
		if bv, ok := b.([]byte); ok {
			return bytes.Compare(av, bv), true
		}
	case nil:
		if b == nil {
			return 0, true
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case b:
		return -1
	default:
		return 1
	}
}

// ApplyOrderLimit sorts, limits and optionally strips matched entities per q.
// Entities missing any of the sort properties are excluded from the result.
func ApplyOrderLimit(q *Query, list []*Entity) []*Entity {
	if len(q.orders) > 0 {
		filtered := list[:0]
		for _, e := range list {
			if hasOrderProperties(q, e) {
				filtered = append(filtered, e)
			}
		}
		list = filtered
		sort.SliceStable(list, func(i, j int) bool {
			return orderLess(q, list[i], list[j])
		})
	} else {
		// deterministic default ordering by key
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Key.Encode() < list[j].Key.Encode()
		})
	}
	if q.limit > 0 && len(list) > q.limit {
		list = list[:q.limit]
	}
	if q.keysOnly {
		res := make([]*Entity, len(list))
		for i := range list {
			res[i] = NewEntity(list[i].Key)
		}
		return res
	}
	return list
}

func hasOrderProperties(q *Query, e *Entity) bool {
	for i := range q.orders {
		if q.orders[i].Field == KeyProperty {
			continue
		}
		if _, ok := PropertyValue(e, q.orders[i].Field); !ok {
			return false
		}
	}
	return true
}

func orderLess(q *Query, a, b *Entity) bool {
	for i := range q.orders {
		o := &q.orders[i]
		var c int
		if o.Field == KeyProperty {
			c = strings.Compare(a.Key.Encode(), b.Key.Encode())
		} else {
			av, _ := PropertyValue(a, o.Field)
			bv, _ := PropertyValue(b, o.Field)
			var comparable bool
			c, comparable = compareValues(av, bv)
			if !comparable {
				continue
			}
		}
		if c != 0 {
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
	}
	return a.Key.Encode() < b.Key.Encode()
}
