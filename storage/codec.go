package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/shepsii/dbproxies/core"
)

// Row is a storage-ready record: column name to encoded value. Encoded
// values are nil, bool, int64, float64 or string.
type Row map[string]any

// Encode converts record data to a storage row covering every persisted
// column of the schema.
func (s *Schema) Encode(data core.Data) (Row, error) {
	row := make(Row, len(s.Columns))
	for _, c := range s.Columns {
		if c.Implicit {
			v, err := s.EncodeImplicit(data)
			if err != nil {
				return nil, err
			}
			row[c.Name] = v
			continue
		}
		v, err := encodeValue(c, data[c.Name])
		if err != nil {
			return nil, err
		}
		row[c.Name] = v
	}
	return row, nil
}

// EncodeValue encodes one value for the named column. Values for names
// that are not persisted columns are returned unchanged.
func (s *Schema) EncodeValue(name string, v any) (any, error) {
	c, ok := s.Column(name)
	if !ok || c.Implicit {
		return v, nil
	}
	return encodeValue(c, v)
}

// Normalize converts a value to the logical form Decode produces for the
// named column so it compares equal to decoded data.
func (s *Schema) Normalize(name string, v any) (any, error) {
	c, ok := s.Column(name)
	if !ok || c.Implicit {
		return v, nil
	}
	enc, err := encodeValue(c, v)
	if err != nil {
		return nil, err
	}
	return decodeValue(c, enc)
}

// EncodeImplicit folds every field of data that the model does not declare
// into one JSON document. No implicit fields encode to an empty string.
func (s *Schema) EncodeImplicit(data core.Data) (any, error) {
	implicit := s.ImplicitFields(data)
	if len(implicit) == 0 {
		return "", nil
	}
	bs, err := json.Marshal(implicit)
	if err != nil {
		return nil, fmt.Errorf("%w: implicit fields: %w", ErrSerializationFailed, err)
	}
	return string(bs), nil
}

// ImplicitFields returns the fields of data that the model does not declare.
func (s *Schema) ImplicitFields(data core.Data) map[string]any {
	if !s.ImplicitEnabled() {
		return nil
	}
	out := make(map[string]any)
	for k, v := range data {
		if k == s.ImplicitColumn || s.IsExplicit(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// Decode converts a storage row back to record data. The implicit column,
// when present, is merged flat into the result.
func (s *Schema) Decode(row Row) (core.Data, error) {
	data := make(core.Data, len(row))
	for name, raw := range row {
		c, ok := s.Column(name)
		if !ok {
			data[name] = normalizeDriverValue(raw)
			continue
		}
		if c.Implicit {
			implicit, err := decodeImplicit(raw)
			if err != nil {
				return nil, err
			}
			for k, v := range implicit {
				if !s.IsExplicit(k) {
					data[k] = v
				}
			}
			continue
		}
		v, err := decodeValue(c, raw)
		if err != nil {
			return nil, err
		}
		data[name] = v
	}
	return data, nil
}

func encodeValue(c Column, v any) (any, error) {
	switch c.Type {
	case core.FieldTypeDate:
		return encodeDate(c, v)
	case core.FieldTypeArray, core.FieldTypeObject:
		return encodeStructured(c, v)
	case core.FieldTypeAuto:
		if isStructured(v) {
			return encodeStructured(c, v)
		}
		if t, ok := asTime(v); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
		return encodeScalar(c, v)
	case core.FieldTypeInt:
		if v == nil {
			return nil, nil
		}
		if n, ok := core.ToInt(v); ok {
			return n, nil
		}
		if str, ok := v.(string); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64); err == nil {
				return n, nil
			}
		}
		return nil, fmt.Errorf("%w: column %q: %T is not an integer", ErrSerializationFailed, c.Name, v)
	case core.FieldTypeFloat:
		if v == nil {
			return nil, nil
		}
		if f, ok := core.ToFloat(v); ok {
			return f, nil
		}
		if str, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
				return f, nil
			}
		}
		return nil, fmt.Errorf("%w: column %q: %T is not a number", ErrSerializationFailed, c.Name, v)
	case core.FieldTypeBool:
		if v == nil {
			return nil, nil
		}
		if b, ok := asBool(v); ok {
			return b, nil
		}
		return nil, fmt.Errorf("%w: column %q: %T is not a boolean", ErrSerializationFailed, c.Name, v)
	}
	if v == nil {
		return "", nil
	}
	if str, ok := v.(string); ok {
		return str, nil
	}
	return fmt.Sprint(v), nil
}

func encodeScalar(c Column, v any) (any, error) {
	switch n := v.(type) {
	case nil:
		return "", nil
	case string, bool, int64, float64:
		return n, nil
	}
	if i, ok := core.ToInt(v); ok && !isFloat(v) {
		return i, nil
	}
	if f, ok := core.ToFloat(v); ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: column %q: unsupported value %T", ErrSerializationFailed, c.Name, v)
}

func encodeStructured(c Column, v any) (any, error) {
	if isEmpty(v) {
		return "", nil
	}
	bs, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: column %q: %w", ErrSerializationFailed, c.Name, err)
	}
	return string(bs), nil
}

func encodeDate(c Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if str, ok := v.(string); ok && strings.TrimSpace(str) == "" {
		return nil, nil
	}
	t, ok := asTime(v)
	if !ok {
		switch raw := v.(type) {
		case string:
			parsed, err := parseDate(c.DateFormat, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: column %q: %w", ErrSerializationFailed, c.Name, err)
			}
			t = parsed
		default:
			// already in storage units
			if i, ok := core.ToInt(raw); ok && c.DateFormat != DateFormatTimestamp {
				return i, nil
			}
			if f, ok := core.ToFloat(raw); ok {
				return f, nil
			}
			return nil, fmt.Errorf("%w: column %q: %T is not a date", ErrSerializationFailed, c.Name, v)
		}
	}
	switch c.DateFormat {
	case DateFormatTimestamp:
		return float64(t.UnixMilli()) / 1000, nil
	case DateFormatTime, "":
		return t.UnixMilli(), nil
	}
	return t.UTC().Format(c.DateFormat), nil
}

func parseDate(format, s string) (time.Time, error) {
	if format != DateFormatTime && format != DateFormatTimestamp && format != "" {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	dt, err := strfmt.ParseDateTime(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Time(dt), nil
}

func decodeValue(c Column, raw any) (any, error) {
	raw = normalizeDriverValue(raw)
	switch c.Type {
	case core.FieldTypeDate:
		return decodeDate(c, raw)
	case core.FieldTypeArray, core.FieldTypeObject:
		str, ok := raw.(string)
		if !ok {
			return raw, nil
		}
		if str == "" {
			return nil, nil
		}
		return decodeJSON(c.Name, str)
	case core.FieldTypeAuto:
		str, ok := raw.(string)
		if !ok {
			return raw, nil
		}
		if str == "" {
			return nil, nil
		}
		if str[0] == '[' || str[0] == '{' {
			// plain text that only looks like JSON stays text
			if v, err := DecodeJSON(str); err == nil {
				return v, nil
			}
		}
		return str, nil
	case core.FieldTypeInt:
		switch n := raw.(type) {
		case string:
			if n == "" {
				return nil, nil
			}
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: column %q: %w", ErrSerializationFailed, c.Name, err)
			}
			return i, nil
		case float64:
			if i, ok := core.ToInt(n); ok {
				return i, nil
			}
		}
		return raw, nil
	case core.FieldTypeFloat:
		switch n := raw.(type) {
		case string:
			if n == "" {
				return nil, nil
			}
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: column %q: %w", ErrSerializationFailed, c.Name, err)
			}
			return f, nil
		case int64:
			return float64(n), nil
		}
		return raw, nil
	case core.FieldTypeBool:
		if raw == nil {
			return nil, nil
		}
		if str, ok := raw.(string); ok && str == "" {
			return nil, nil
		}
		if b, ok := asBool(raw); ok {
			return b, nil
		}
		return nil, fmt.Errorf("%w: column %q: %T is not a boolean", ErrSerializationFailed, c.Name, raw)
	}
	return raw, nil
}

func decodeDate(c Column, raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v.UTC(), nil
	case string:
		if v == "" {
			return nil, nil
		}
		if c.DateFormat == DateFormatTime || c.DateFormat == DateFormatTimestamp || c.DateFormat == "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return decodeDate(c, f)
			}
		}
		t, err := parseDate(c.DateFormat, v)
		if err != nil {
			return nil, fmt.Errorf("%w: column %q: %w", ErrSerializationFailed, c.Name, err)
		}
		return t.UTC(), nil
	}
	if c.DateFormat == DateFormatTimestamp {
		f, _ := core.ToFloat(raw)
		return time.UnixMilli(int64(math.Round(f * 1000))).UTC(), nil
	}
	if ms, ok := core.ToInt(raw); ok {
		return time.UnixMilli(ms).UTC(), nil
	}
	if f, ok := core.ToFloat(raw); ok {
		return time.UnixMilli(int64(math.Round(f))).UTC(), nil
	}
	return nil, fmt.Errorf("%w: column %q: %T is not a date", ErrSerializationFailed, c.Name, raw)
}

func decodeImplicit(raw any) (map[string]any, error) {
	raw = normalizeDriverValue(raw)
	str, ok := raw.(string)
	if !ok || str == "" {
		return nil, nil
	}
	v, err := decodeJSON("implicit", str)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: implicit column holds %T", ErrSerializationFailed, v)
	}
	return m, nil
}

func decodeJSON(column, s string) (any, error) {
	v, err := DecodeJSON(s)
	if err != nil {
		return nil, fmt.Errorf("%w: column %q: %w", ErrSerializationFailed, column, err)
	}
	return v, nil
}

// DecodeJSON decodes a single JSON value. Numbers become int64 when
// integral and float64 otherwise. Trailing data is an error.
func DecodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingJSON
	}
	return NormalizeJSON(v), nil
}

var errTrailingJSON = errors.New("trailing data after JSON value")

// NormalizeJSON replaces json.Number with int64 where the number is
// integral and float64 otherwise. Maps and slices are rewritten in place.
func NormalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = NormalizeJSON(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = NormalizeJSON(e)
		}
		return t
	}
	return v
}

func normalizeDriverValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	}
	return v
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	case strfmt.DateTime:
		return time.Time(t), true
	case *strfmt.DateTime:
		if t != nil {
			return time.Time(*t), true
		}
	}
	return time.Time{}, false
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(b) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
		return false, false
	}
	if i, ok := core.ToInt(v); ok {
		return i != 0, true
	}
	return false, false
}

func isFloat(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return false
}

func isStructured(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		_, isTime := asTime(v)
		return !isTime
	case reflect.Pointer:
		rv := reflect.ValueOf(v)
		if rv.IsNil() {
			return false
		}
		return isStructured(rv.Elem().Interface())
	}
	return false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
