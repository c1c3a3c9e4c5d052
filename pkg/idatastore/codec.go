/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author: Nikolay Nikitin
 */

package idatastore

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Entities travel to drivers as BSON documents.
//
// time.Time round-trips with millisecond precision and comes back in UTC.
// *Key values are wrapped into single-entry marker documents.
const keyMarker = "$virelkey"

func MarshalEntity(e *Entity) ([]byte, error) {
	if err := e.Key.Validate(); err != nil {
		return nil, err
	}
	props := bson.M{}
	for name, value := range e.props {
		ev, err := encodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("property «%s»: %w", name, err)
		}
		props[name] = ev
	}
	return bson.Marshal(bson.D{
		{Key: "key", Value: e.Key.Encode()},
		{Key: "props", Value: props},
	})
}

func UnmarshalEntity(data []byte) (*Entity, error) {
	var raw struct {
		Key   string `bson:"key"`
		Props bson.M `bson:"props"`
	}
	if err := bson.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	key, err := DecodeKey(raw.Key)
	if err != nil {
		return nil, err
	}
	e := NewEntity(key)
	for name, value := range raw.Props {
		dv, err := decodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("property «%s»: %w", name, err)
		}
		e.props[name] = dv
	}
	return e, nil
}

func encodeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil, bool, int64, float64, string, []byte:
		return v, nil
	case time.Time:
		return primitive.NewDateTimeFromTime(v), nil
	case *Key:
		if v == nil {
			return nil, nil
		}
		return bson.M{keyMarker: v.Encode()}, nil
	case []any:
		res := bson.A{}
		for i := range v {
			ev, err := encodeValue(v[i])
			if err != nil {
				return nil, err
			}
			res = append(res, ev)
		}
		return res, nil
	case map[string]any:
		res := bson.M{}
		for name, mv := range v {
			ev, err := encodeValue(mv)
			if err != nil {
				return nil, err
			}
			res[name] = ev
		}
		return res, nil
	default:
		return nil, fmt.Errorf("%T: %w", value, ErrUnsupportedValue)
	}
}

func decodeValue(value any) (any, error) {
	switch v := value.(type) {
	case primitive.A:
		res := make([]any, len(v))
		for i := range v {
			dv, err := decodeValue(v[i])
			if err != nil {
				return nil, err
			}
			res[i] = dv
		}
		return res, nil
	case bson.M:
		if enc, ok := v[keyMarker].(string); ok && len(v) == 1 {
			return DecodeKey(enc)
		}
		res := make(map[string]any, len(v))
		for name, mv := range v {
			dv, err := decodeValue(mv)
			if err != nil {
				return nil, err
			}
			res[name] = dv
		}
		return res, nil
	case primitive.D:
		// the default registry decodes nested documents into primitive.D
		if len(v) == 1 && v[0].Key == keyMarker {
			if enc, ok := v[0].Value.(string); ok {
				return DecodeKey(enc)
			}
		}
		res := make(map[string]any, len(v))
		for i := range v {
			dv, err := decodeValue(v[i].Value)
			if err != nil {
				return nil, err
			}
			res[v[i].Key] = dv
		}
		return res, nil
	case primitive.DateTime:
		return v.Time().UTC(), nil
	case primitive.Binary:
		return v.Data, nil
	case int32:
		return int64(v), nil
	default:
		return v, nil
	}
}
