/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Nikolay Nikitin
 */

package skeleton

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voedger/virel/pkg/idatastore"
)

// clientValue feeds one raw value through the bone's client-input parsing
// and returns the resulting bone value with the reported errors.
func clientValue(t *testing.T, bone Bone, raw string) (any, []FieldError) {
	t.Helper()
	reg, _ := newTestRegistry()
	schema := NewSchema("t").AddBone("v", bone)
	inst := reg.InstanceOf(schema)
	errs := schema.Bone("v").FromClient(context.Background(), inst, "v", url.Values{"v": {raw}})
	return inst.Value("v"), errs
}

func TestStringBone_FromClient(t *testing.T) {
	require := require.New(t)

	t.Run("must accept and trim a value", func(t *testing.T) {
		v, errs := clientValue(t, &StringBone{}, "  Ada  ")
		require.Empty(errs)
		require.Equal("Ada", v)
	})

	t.Run("must clear on blank input", func(t *testing.T) {
		v, errs := clientValue(t, &StringBone{}, "   ")
		require.Len(errs, 1)
		require.Equal(Severity_Empty, errs[0].Severity)
		require.Nil(v)
	})

	t.Run("must enforce the length limit", func(t *testing.T) {
		_, errs := clientValue(t, &StringBone{MaxLength: 3}, "Lovelace")
		require.Len(errs, 1)
		require.Equal(Severity_Invalid, errs[0].Severity)
	})
}

func TestNumericBone_FromClient(t *testing.T) {
	require := require.New(t)

	t.Run("must parse integers", func(t *testing.T) {
		v, errs := clientValue(t, &NumericBone{}, "42")
		require.Empty(errs)
		require.Equal(int64(42), v)
	})

	t.Run("must reject fractions on integer bones", func(t *testing.T) {
		_, errs := clientValue(t, &NumericBone{}, "4.2")
		require.Len(errs, 1)
		require.Equal(Severity_Invalid, errs[0].Severity)
	})

	t.Run("must truncate to the declared precision", func(t *testing.T) {
		v, errs := clientValue(t, &NumericBone{Precision: 2}, "3.14159")
		require.Empty(errs)
		require.Equal(3.14, v)
	})

	t.Run("must accept the decimal comma", func(t *testing.T) {
		v, errs := clientValue(t, &NumericBone{Precision: 1}, "2,5")
		require.Empty(errs)
		require.Equal(2.5, v)
	})

	t.Run("must enforce the default bounds", func(t *testing.T) {
		_, errs := clientValue(t, &NumericBone{}, "1073741825")
		require.Len(errs, 1)
		require.Equal(Severity_Invalid, errs[0].Severity)
	})

	t.Run("must enforce declared bounds", func(t *testing.T) {
		_, errs := clientValue(t, &NumericBone{Min: 1, Max: 10}, "11")
		require.Len(errs, 1)
		require.Equal(Severity_Invalid, errs[0].Severity)
	})

	t.Run("must reject garbage", func(t *testing.T) {
		_, errs := clientValue(t, &NumericBone{}, "many")
		require.Len(errs, 1)
		require.Equal(Severity_Invalid, errs[0].Severity)
	})
}

func TestBoolBone_FromClient(t *testing.T) {
	require := require.New(t)

	for _, raw := range []string{"true", "1", "yes", "on", "TRUE", "Yes"} {
		v, errs := clientValue(t, &BoolBone{}, raw)
		require.Empty(errs, raw)
		require.Equal(true, v, raw)
	}
	for _, raw := range []string{"false", "0", "no", "off", ""} {
		v, errs := clientValue(t, &BoolBone{}, raw)
		require.Empty(errs, raw)
		require.Equal(false, v, raw)
	}
}

func TestDateBone_FromClient(t *testing.T) {
	require := require.New(t)

	t.Run("must normalize zoned stamps to UTC", func(t *testing.T) {
		v, errs := clientValue(t, &DateBone{}, "2023-07-04T10:00:00+02:00")
		require.Empty(errs)
		stamp, ok := v.(time.Time)
		require.True(ok)
		require.Equal(time.UTC, stamp.Location())
		require.Equal(time.Date(2023, 7, 4, 8, 0, 0, 0, time.UTC), stamp)
	})

	t.Run("must accept date-only input", func(t *testing.T) {
		v, errs := clientValue(t, &DateBone{}, "2023-07-04")
		require.Empty(errs)
		require.Equal(time.Date(2023, 7, 4, 0, 0, 0, 0, time.UTC), v)
	})

	t.Run("must accept the space-separated layout", func(t *testing.T) {
		v, errs := clientValue(t, &DateBone{}, "2023-07-04 10:30:00")
		require.Empty(errs)
		require.Equal(time.Date(2023, 7, 4, 10, 30, 0, 0, time.UTC), v)
	})

	t.Run("must reject unparsable input", func(t *testing.T) {
		_, errs := clientValue(t, &DateBone{}, "tomorrow")
		require.Len(errs, 1)
		require.Equal(Severity_Invalid, errs[0].Severity)
	})
}

func TestKeyBone_FromClient(t *testing.T) {
	require := require.New(t)

	t.Run("must decode a key path", func(t *testing.T) {
		v, errs := clientValue(t, &KeyBone{}, "person/ada")
		require.Empty(errs)
		key, ok := v.(*idatastore.Key)
		require.True(ok)
		require.Equal("person/ada", key.Encode())
	})

	t.Run("must enforce the kind restriction", func(t *testing.T) {
		_, errs := clientValue(t, &KeyBone{Kind: "person"}, "project/p1")
		require.Len(errs, 1)
		require.Equal(Severity_Invalid, errs[0].Severity)
	})

	t.Run("must reject malformed paths", func(t *testing.T) {
		_, errs := clientValue(t, &KeyBone{}, "notakey")
		require.Len(errs, 1)
		require.Equal(Severity_Invalid, errs[0].Severity)
	})
}

func TestTreeDirBone_Declaration(t *testing.T) {
	require := require.New(t)

	t.Run("must derive the root-node kind from the module name", func(t *testing.T) {
		schema := NewSchema("page").AddBone("dir", &TreeDirBone{RelationalBone{Kind: "pages"}})
		rb := AsRelational(schema.Bone("dir"))
		require.Equal("pages"+TreeDirKindSuffix, rb.Kind)
		require.Equal("pages", rb.Module)
	})

	t.Run("must keep an explicit root-node kind", func(t *testing.T) {
		schema := NewSchema("page").AddBone("dir", &TreeDirBone{RelationalBone{Kind: "docs" + TreeDirKindSuffix}})
		rb := AsRelational(schema.Bone("dir"))
		require.Equal("docs"+TreeDirKindSuffix, rb.Kind)
		require.Equal("docs", rb.Module)
	})
}
