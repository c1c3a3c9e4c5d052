/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author: Nikolay Nikitin
 */

package idatastore

import (
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"
)

func TestEntityCodec_RoundTrip(t *testing.T) {
	require := require.New(t)

	when := time.Date(2025, 3, 14, 15, 9, 26, 535e6, time.UTC)
	ref := NewKeyWithParent("doc", "d1", NewKey("folder", "f1"))

	e := NewEntity(NewKeyWithParent("person", "42", NewKey("tenant", "t1")))
	e.Set("name", "Acme")
	e.Set("rank", int64(-3))
	e.Set("score", 1.75)
	e.Set("active", true)
	e.Set("blob", []byte{0, 1, 255})
	e.Set("seen", when)
	e.Set("ref", ref)
	e.Set("none", nil)
	e.Set("tags", []any{"a", int64(2), ref})
	e.Set("address", map[string]any{"city": "Berlin", "geo": map[string]any{"lat": 52.52, "home": ref}})

	data, err := MarshalEntity(e)
	require.NoError(err)

	d, err := UnmarshalEntity(data)
	require.NoError(err)
	require.True(d.Key.Equal(e.Key))
	require.Equal(e.Properties(), d.Properties())
	require.Equal("Acme", d.Get("name"))
	require.Equal(int64(-3), d.Get("rank"))
	require.Equal(1.75, d.Get("score"))
	require.Equal(true, d.Get("active"))
	require.Equal([]byte{0, 1, 255}, d.Get("blob"))
	require.Equal(when, d.Get("seen"))
	require.True(d.Get("ref").(*Key).Equal(ref))
	require.Nil(d.Get("none"))
	tags := d.Get("tags").([]any)
	require.Equal("a", tags[0])
	require.Equal(int64(2), tags[1])
	require.True(tags[2].(*Key).Equal(ref))
	address := d.Get("address").(map[string]any)
	require.Equal("Berlin", address["city"])
	geo := address["geo"].(map[string]any)
	require.Equal(52.52, geo["lat"])
	require.True(geo["home"].(*Key).Equal(ref))
}

func TestEntityCodec_RoundTripFuzzed(t *testing.T) {
	require := require.New(t)
	f := fuzz.New().NumElements(0, 5)

	type scalars struct {
		S  string
		I  int64
		F  float64
		B  bool
		By []byte
	}

	var src scalars
	for i := 0; i < 500; i++ {
		f.Fuzz(&src)

		e := NewEntity(NewKey("fuzzed", "1"))
		e.Set("s", src.S)
		e.Set("i", src.I)
		e.Set("f", src.F)
		e.Set("b", src.B)
		if src.By != nil {
			e.Set("by", src.By)
		}
		// millisecond precision is the storage contract for time values
		e.Set("t", time.UnixMilli(src.I%4102444800000).UTC())
		e.Set("list", []any{src.S, src.I, map[string]any{"f": src.F}})

		data, err := MarshalEntity(e)
		require.NoError(err)
		d, err := UnmarshalEntity(data)
		require.NoError(err)

		require.Equal(e.Get("s"), d.Get("s"))
		require.Equal(e.Get("i"), d.Get("i"))
		require.Equal(e.Get("f"), d.Get("f"))
		require.Equal(e.Get("b"), d.Get("b"))
		require.Equal(e.Get("by"), d.Get("by"))
		require.Equal(e.Get("t"), d.Get("t"))
		require.Equal(e.Get("list"), d.Get("list"))
	}
}

func TestEntityCodec_Errors(t *testing.T) {
	require := require.New(t)

	t.Run("must reject invalid key", func(t *testing.T) {
		e := NewEntity(&Key{Kind: "x"})
		_, err := MarshalEntity(e)
		require.ErrorIs(err, ErrInvalidKey)
	})

	t.Run("must reject unsupported value type", func(t *testing.T) {
		e := NewEntity(NewKey("person", "1"))
		e.Set("bad", struct{ X int }{1})
		_, err := MarshalEntity(e)
		require.ErrorIs(err, ErrUnsupportedValue)
	})

	t.Run("must reject garbage input", func(t *testing.T) {
		_, err := UnmarshalEntity([]byte{1, 2, 3})
		require.Error(err)
	})
}
