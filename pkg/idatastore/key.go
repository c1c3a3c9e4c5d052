/*
 * Copyright (c) 2021-present unTill Pro, Ltd.
 * @author Maxim Geraskin
 */

package idatastore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Key is a hierarchical entity identity: kind, string ID and an optional parent.
// Keys encode to «kind/id» path strings, parent segments first.
type Key struct {
	Kind   string
	ID     string
	Parent *Key
}

// NewKey returns a key for kind. Empty id is replaced with a generated UUID.
func NewKey(kind, id string) *Key {
	if id == "" {
		id = uuid.NewString()
	}
	return &Key{Kind: kind, ID: id}
}

func NewKeyWithParent(kind, id string, parent *Key) *Key {
	k := NewKey(kind, id)
	k.Parent = parent
	return k
}

// Encode renders the full key path, e.g. «person/42» or «person/42/address/home».
func (k *Key) Encode() string {
	if k == nil {
		return ""
	}
	b := strings.Builder{}
	k.encode(&b)
	return b.String()
}

func (k *Key) encode(b *strings.Builder) {
	if k.Parent != nil {
		k.Parent.encode(b)
		b.WriteString(keyPathSeparator)
	}
	b.WriteString(k.Kind)
	b.WriteString(keyPathSeparator)
	b.WriteString(k.ID)
}

func (k *Key) String() string {
	return k.Encode()
}

func (k *Key) Equal(o *Key) bool {
	for {
		if k == nil || o == nil {
			return k == o
		}
		if k.Kind != o.Kind || k.ID != o.ID {
			return false
		}
		k, o = k.Parent, o.Parent
	}
}

// HasAncestor reports whether a equals k or any of k's parents.
func (k *Key) HasAncestor(a *Key) bool {
	for cur := k; cur != nil; cur = cur.Parent {
		if cur.Equal(a) {
			return true
		}
	}
	return false
}

// Validate checks that each path segment is non-empty and separator-free.
func (k *Key) Validate() error {
	if k == nil {
		return fmt.Errorf("nil key: %w", ErrInvalidKey)
	}
	for cur := k; cur != nil; cur = cur.Parent {
		if cur.Kind == "" || cur.ID == "" {
			return fmt.Errorf("key «%s»: empty path segment: %w", k.Encode(), ErrInvalidKey)
		}
		if strings.Contains(cur.Kind, keyPathSeparator) || strings.Contains(cur.ID, keyPathSeparator) {
			return fmt.Errorf("key «%s»: separator in path segment: %w", k.Encode(), ErrInvalidKey)
		}
	}
	return nil
}

// CompleteKey fills a missing leaf ID in and validates the entity key.
// Drivers call it before every write.
func CompleteKey(e *Entity) error {
	if e == nil || e.Key == nil {
		return fmt.Errorf("nil entity key: %w", ErrInvalidKey)
	}
	if e.Key.ID == "" {
		e.Key.ID = uuid.NewString()
	}
	return e.Key.Validate()
}

// DecodeKey parses a key path produced by Key.Encode.
func DecodeKey(s string) (*Key, error) {
	parts := strings.Split(s, keyPathSeparator)
	if len(parts) == 0 || len(parts)%2 != 0 {
		return nil, fmt.Errorf("key path «%s»: %w", s, ErrInvalidKey)
	}
	var k *Key
	for i := 0; i < len(parts); i += 2 {
		if parts[i] == "" || parts[i+1] == "" {
			return nil, fmt.Errorf("key path «%s»: empty path segment: %w", s, ErrInvalidKey)
		}
		k = &Key{Kind: parts[i], ID: parts[i+1], Parent: k}
	}
	return k, nil
}
