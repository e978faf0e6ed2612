package usersync

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
)

// ParseFieldValues flattens the values of record custom fields.
// A value may be a string or a list of strings, each possibly comma or newline separated.
func ParseFieldValues(fields []map[string]any) (values []string) {
	var add = func(s string) {
		for _, x := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
			if x = strings.TrimSpace(x); len(x) > 0 {
				values = append(values, x)
			}
		}
	}
	for _, field := range fields {
		var v any
		var ok bool
		if v, ok = field["value"]; ok {
			if v == nil {
				continue
			}
			switch vt := v.(type) {
			case []any:
				for _, v = range vt {
					var s string
					if s, ok = v.(string); ok {
						add(s)
					}
				}
			case string:
				add(vt)
			}
		}
	}
	return
}

func toBoolean(intf any) (result bool, ok bool) {
	if intf == nil {
		return
	}
	var supportedValue any
	switch fv := intf.(type) {
	case bool, string:
		supportedValue = fv
	case []any:
		if len(fv) > 0 {
			switch fv[0].(type) {
			case bool, string:
				supportedValue = fv[0]
			}
		}
	}
	if supportedValue != nil {
		switch fv := supportedValue.(type) {
		case bool:
			result = fv
			ok = true
		case string:
			switch strings.ToLower(strings.TrimSpace(fv)) {
			case "1", "true", "ok", "yes":
				result = true
				ok = true
			case "0", "false", "no":
				result = false
				ok = true
			}
		}
	}
	return
}

func toString(intf any) (result string, ok bool) {
	if intf == nil {
		return
	}
	result, ok = intf.(string)
	return
}

func toInt64(intf any) (result int64, ok bool) {
	if intf == nil {
		return
	}
	ok = true
	switch iv := intf.(type) {
	case int:
		result = int64(iv)
	case int32:
		result = int64(iv)
	case int64:
		result = iv
	case float64:
		result = int64(iv)
	case string:
		if irv, err := strconv.Atoi(strings.TrimSpace(iv)); err == nil {
			result = int64(irv)
		} else {
			ok = false
		}
	case []any:
		if len(iv) > 0 {
			return toInt64(iv[0])
		}
		ok = false
	default:
		ok = false
	}
	return
}

type Set[K comparable] map[K]struct{}

func NewSet[K comparable]() Set[K] {
	return make(Set[K])
}
func MakeSet[K comparable](keys []K) Set[K] {
	var ns = NewSet[K]()
	for _, k := range keys {
		ns.Add(k)
	}
	return ns
}
func (s Set[K]) Has(key K) (ok bool) {
	_, ok = s[key]
	return
}
func (s Set[K]) Add(key K) {
	s[key] = struct{}{}
}
func (s Set[K]) ToArray() (result []K) {
	for k := range s {
		result = append(result, k)
	}
	return
}
func (s Set[K]) Difference(other []K) {
	for _, k := range other {
		if s.Has(k) {
			delete(s, k)
		}
	}
}

// SortedKeys returns the set members in ascending order.
func SortedKeys[K cmp.Ordered](s Set[K]) (result []K) {
	result = s.ToArray()
	slices.Sort(result)
	return
}
