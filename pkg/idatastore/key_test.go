/*
 * Copyright (c) 2021-present unTill Pro, Ltd.
 * @author Maxim Geraskin
 */

package idatastore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKey_EncodeDecode(t *testing.T) {
	require := require.New(t)

	t.Run("flat key", func(t *testing.T) {
		k := NewKey("person", "42")
		require.Equal("person/42", k.Encode())

		d, err := DecodeKey("person/42")
		require.NoError(err)
		require.True(k.Equal(d))
	})

	t.Run("key with ancestors", func(t *testing.T) {
		k := NewKeyWithParent("page", "home", NewKeyWithParent("site", "s1", NewKey("tenant", "t1")))
		require.Equal("tenant/t1/site/s1/page/home", k.Encode())

		d, err := DecodeKey(k.Encode())
		require.NoError(err)
		require.True(k.Equal(d))
		require.Equal("site", d.Parent.Kind)
		require.Equal("tenant", d.Parent.Parent.Kind)
	})

	t.Run("generated ID on empty", func(t *testing.T) {
		k := NewKey("person", "")
		require.NotEmpty(k.ID)
		require.NoError(k.Validate())
	})

	t.Run("must reject malformed paths", func(t *testing.T) {
		for _, s := range []string{"", "person", "person/", "/42", "person/42/orphan", "person//x/1"} {
			_, err := DecodeKey(s)
			require.ErrorIs(err, ErrInvalidKey, s)
		}
	})
}

func TestKey_Relations(t *testing.T) {
	require := require.New(t)

	root := NewKey("folder", "root")
	child := NewKeyWithParent("doc", "d1", root)
	other := NewKeyWithParent("doc", "d1", NewKey("folder", "other"))

	require.True(child.HasAncestor(root))
	require.True(child.HasAncestor(child))
	require.False(root.HasAncestor(child))
	require.False(other.HasAncestor(root))

	require.True(child.Equal(&Key{Kind: "doc", ID: "d1", Parent: &Key{Kind: "folder", ID: "root"}}))
	require.False(child.Equal(other))
	require.False(child.Equal(nil))
}

func TestKey_Validate(t *testing.T) {
	require := require.New(t)

	require.ErrorIs((*Key)(nil).Validate(), ErrInvalidKey)
	require.ErrorIs((&Key{Kind: "person"}).Validate(), ErrInvalidKey)
	require.ErrorIs((&Key{Kind: "per/son", ID: "1"}).Validate(), ErrInvalidKey)
	require.ErrorIs(NewKeyWithParent("doc", "d", &Key{Kind: "", ID: "x"}).Validate(), ErrInvalidKey)
	require.NoError(NewKey("person", "1").Validate())
}
