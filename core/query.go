package core

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// Filter restricts a read to records whose property equals Value, or,
// with AnyMatch, contains Value as a case-insensitive substring.
type Filter struct {
	Property string
	Value    any
	AnyMatch bool
}

// Match reports whether data passes the filter. A filter without a
// property matches everything.
func (f Filter) Match(data Data) bool {
	if f.Property == "" {
		return true
	}
	v := data[f.Property]
	if f.AnyMatch {
		if v == nil {
			return false
		}
		return strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(fmt.Sprint(f.Value)))
	}
	return ValuesEqual(v, f.Value)
}

// Sorter orders reads by one property.
type Sorter struct {
	Property  string
	Direction Direction
}

// Dir returns the normalized direction, defaulting to ascending.
func (s Sorter) Dir() Direction {
	if strings.EqualFold(string(s.Direction), string(Descending)) {
		return Descending
	}
	return Ascending
}

// SortData sorts rows in place by the sorters in declared order. The sort
// is stable so rows comparing equal keep their storage order.
func SortData(rows []Data, sorters []Sorter) {
	if len(sorters) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, s := range sorters {
			if s.Property == "" {
				continue
			}
			c := CompareValues(rows[i][s.Property], rows[j][s.Property])
			if c == 0 {
				continue
			}
			if s.Dir() == Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// ValuesEqual compares two field values, treating all numeric kinds as
// numbers and times by instant.
func ValuesEqual(a, b any) bool {
	return CompareValues(a, b) == 0
}

// CompareValues orders two field values: nil first, then bools, numbers,
// times and strings; values of the same class compare naturally and
// anything else compares by its printed form.
func CompareValues(a, b any) int {
	ca, cb := valueClass(a), valueClass(b)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}
	switch ca {
	case classNil:
		return 0
	case classBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case classNumber:
		af, _ := ToFloat(a)
		bf, _ := ToFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case classTime:
		return a.(time.Time).Compare(b.(time.Time))
	case classString:
		return strings.Compare(a.(string), b.(string))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

const (
	classNil = iota
	classBool
	classNumber
	classTime
	classString
	classOther
)

func valueClass(v any) int {
	switch v.(type) {
	case nil:
		return classNil
	case bool:
		return classBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return classNumber
	case time.Time:
		return classTime
	case string:
		return classString
	}
	return classOther
}

// ToFloat converts any numeric kind to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// ToInt converts any integral numeric kind, or a float without a
// fractional part, to int64.
func ToInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
