/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 * @author Nikolay Nikitin
 */

package skeleton

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/voedger/virel/pkg/idatastore"
)

// StringBone holds one string value.
type StringBone struct {
	BaseBone

	// MaxLength limits the accepted input, 0 means unlimited.
	MaxLength int
}

func (b *StringBone) FromClient(_ context.Context, inst *Instance, name string, data url.Values) []FieldError {
	return scalarFromClient(inst, name, data, func(raw string) (any, error) {
		if b.MaxLength > 0 && len(raw) > b.MaxLength {
			return nil, fmt.Errorf("value exceeds %d characters", b.MaxLength)
		}
		return raw, nil
	})
}

const defaultNumericBound = 1 << 30

// NumericBone holds one int64 (Precision 0) or float64 value within
// [Min, Max]. Zero bounds default to -2^30 and 2^30.
type NumericBone struct {
	BaseBone

	// Precision is the number of accepted decimal places, 0 makes the bone
	// integer-valued.
	Precision int
	Min       float64
	Max       float64
}

func (b *NumericBone) prepare(string, string) {
	if b.Min == 0 && b.Max == 0 {
		b.Min = -defaultNumericBound
		b.Max = defaultNumericBound
	}
}

func (b *NumericBone) FromClient(_ context.Context, inst *Instance, name string, data url.Values) []FieldError {
	return scalarFromClient(inst, name, data, func(raw string) (any, error) {
		raw = strings.ReplaceAll(raw, ",", ".")
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %s", raw)
		}
		if value < b.Min || value > b.Max {
			return nil, fmt.Errorf("value is out of range [%v, %v]", b.Min, b.Max)
		}
		if b.Precision == 0 {
			if value != float64(int64(value)) {
				return nil, fmt.Errorf("not an integer: %s", raw)
			}
			return int64(value), nil
		}
		shift := 1.0
		for i := 0; i < b.Precision; i++ {
			shift *= 10
		}
		return float64(int64(value*shift)) / shift, nil
	})
}

func (b *NumericBone) IsEmpty(value any) bool {
	return value == nil
}

// BoolBone holds one bool value.
type BoolBone struct {
	BaseBone
}

func (b *BoolBone) FromClient(_ context.Context, inst *Instance, name string, data url.Values) []FieldError {
	vals, ok := data[name]
	if !ok {
		return []FieldError{NewFieldError(Severity_NotSet, "field not submitted", name)}
	}
	raw := ""
	if len(vals) > 0 {
		raw = strings.TrimSpace(vals[0])
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "on":
		inst.values[name] = true
	default:
		inst.values[name] = false
	}
	return nil
}

func (b *BoolBone) IsEmpty(value any) bool {
	return value == nil
}

// DateBone holds one time.Time value, stored in UTC.
type DateBone struct {
	BaseBone
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func (b *DateBone) FromClient(_ context.Context, inst *Instance, name string, data url.Values) []FieldError {
	return scalarFromClient(inst, name, data, func(raw string) (any, error) {
		for _, layout := range dateLayouts {
			if value, err := time.Parse(layout, raw); err == nil {
				return value.UTC(), nil
			}
		}
		return nil, fmt.Errorf("invalid date: %s", raw)
	})
}

func (b *DateBone) IsEmpty(value any) bool {
	return value == nil
}

// KeyBone holds one entity key, optionally restricted to a kind. No
// denormalization and no integrity policies, unlike RelationalBone.
type KeyBone struct {
	BaseBone

	Kind string
}

func (b *KeyBone) FromClient(_ context.Context, inst *Instance, name string, data url.Values) []FieldError {
	return scalarFromClient(inst, name, data, func(raw string) (any, error) {
		key, err := idatastore.DecodeKey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid key: %s", raw)
		}
		if b.Kind != "" && key.Kind != b.Kind {
			return nil, fmt.Errorf("key of kind «%s» expected, got «%s»", b.Kind, key.Kind)
		}
		return key, nil
	})
}

func (b *KeyBone) IsEmpty(value any) bool {
	return value == nil
}

func (b *KeyBone) SearchTags(*Instance, string) []string {
	return nil
}

// FileBone holds one uploaded blob identifier.
type FileBone struct {
	BaseBone
}

func (b *FileBone) ReferencedBlobs(inst *Instance, name string) []string {
	value, _ := inst.Value(name).(string)
	if value == "" {
		return nil
	}
	return []string{value}
}

func (b *FileBone) SearchTags(*Instance, string) []string {
	return nil
}
