// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"fmt"
	"sort"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// Value kinds of the row envelope.
const (
	kindNil byte = iota
	kindBool
	kindInt
	kindFloat
	kindString
)

// MarshalRow serializes an encoded row to bytes. Keys are written in
// sorted order so equal rows produce equal bytes.
func MarshalRow(row Row) ([]byte, error) {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	size := varint.Uint64.Size(uint64(len(keys)))
	for _, k := range keys {
		n, err := valueSize(row[k])
		if err != nil {
			return nil, fmt.Errorf("%w: column %q: %w", ErrSerializationFailed, k, err)
		}
		size += ord.String.Size(k) + n
	}

	buf := make([]byte, size)
	n := varint.Uint64.Marshal(uint64(len(keys)), buf)
	for _, k := range keys {
		n += ord.String.Marshal(k, buf[n:])
		n += marshalValue(row[k], buf[n:])
	}
	return buf[:n], nil
}

// UnmarshalRow deserializes a row written by MarshalRow.
func UnmarshalRow(data []byte) (Row, error) {
	count, n, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	if count > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, ErrTruncatedData)
	}
	row := make(Row, count)
	for i := uint64(0); i < count; i++ {
		key, kn, err := ord.String.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
		}
		n += kn
		v, vn, err := unmarshalValue(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: column %q: %w", ErrSerializationFailed, key, err)
		}
		n += vn
		row[key] = v
	}
	return row, nil
}

// MarshalValue serializes a single encoded value. Index entries use it as
// the canonical form of an indexed value.
func MarshalValue(v any) ([]byte, error) {
	size, err := valueSize(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	buf := make([]byte, size)
	marshalValue(v, buf)
	return buf, nil
}

func valueSize(v any) (int, error) {
	switch t := canonical(v).(type) {
	case nil:
		return 1, nil
	case bool:
		return 1 + ord.Bool.Size(t), nil
	case int64:
		return 1 + varint.Int64.Size(t), nil
	case float64:
		return 1 + varint.Float64.Size(t), nil
	case string:
		return 1 + ord.String.Size(t), nil
	}
	return 0, fmt.Errorf("unsupported value %T", v)
}

func marshalValue(v any, bs []byte) int {
	switch t := canonical(v).(type) {
	case bool:
		bs[0] = kindBool
		return 1 + ord.Bool.Marshal(t, bs[1:])
	case int64:
		bs[0] = kindInt
		return 1 + varint.Int64.Marshal(t, bs[1:])
	case float64:
		bs[0] = kindFloat
		return 1 + varint.Float64.Marshal(t, bs[1:])
	case string:
		bs[0] = kindString
		return 1 + ord.String.Marshal(t, bs[1:])
	}
	bs[0] = kindNil
	return 1
}

func unmarshalValue(bs []byte) (any, int, error) {
	if len(bs) == 0 {
		return nil, 0, ErrTruncatedData
	}
	var (
		v   any
		n   int
		err error
	)
	switch bs[0] {
	case kindNil:
		return nil, 1, nil
	case kindBool:
		v, n, err = ord.Bool.Unmarshal(bs[1:])
	case kindInt:
		v, n, err = varint.Int64.Unmarshal(bs[1:])
	case kindFloat:
		v, n, err = varint.Float64.Unmarshal(bs[1:])
	case kindString:
		v, n, err = ord.String.Unmarshal(bs[1:])
	default:
		return nil, 0, fmt.Errorf("unknown value kind %d", bs[0])
	}
	if err != nil {
		return nil, 0, err
	}
	return v, n + 1, nil
}

// canonical folds numeric kinds onto int64 and float64.
func canonical(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint32:
		return int64(t)
	case float32:
		return float64(t)
	}
	return v
}
