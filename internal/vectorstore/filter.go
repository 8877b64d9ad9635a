package vectorstore

import (
	"fmt"
	"sort"
	"strings"
)

const (
	filterOpAnd = "$and"
	filterOpOr  = "$or"
	filterOpNot = "$not"
	filterOpEq  = "$eq"
	filterOpNe  = "$ne"
	filterOpIn  = "$in"
)

// translateFilter converts the driver's filter mini-language into a
// Qdrant filter object (must/should/must_not condition lists). A plain
// {"field": value} entry is shorthand for {"field": {"$eq": value}}.
func translateFilter(filter map[string]any) (map[string]any, error) {
	var must, should, mustNot []any

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := filter[key]
		k := strings.TrimSpace(key)
		if k == "" {
			continue
		}

		if strings.HasPrefix(k, "$") {
			switch strings.ToLower(k) {
			case filterOpAnd, filterOpOr:
				items, ok := value.([]any)
				if !ok {
					return nil, opErr("filter_translate", OperationErrorValidation,
						fmt.Sprintf("operator %s expects an array of objects", k), nil)
				}
				for _, item := range items {
					sub, ok := item.(map[string]any)
					if !ok {
						return nil, opErr("filter_translate", OperationErrorValidation,
							fmt.Sprintf("operator %s expects objects, got %T", k, item), nil)
					}
					translated, err := translateFilter(sub)
					if err != nil {
						return nil, err
					}
					if strings.EqualFold(k, filterOpAnd) {
						must = append(must, translated)
					} else {
						should = append(should, translated)
					}
				}
			case filterOpNot:
				sub, ok := value.(map[string]any)
				if !ok {
					return nil, opErr("filter_translate", OperationErrorValidation,
						fmt.Sprintf("operator %s expects an object", k), nil)
				}
				translated, err := translateFilter(sub)
				if err != nil {
					return nil, err
				}
				mustNot = append(mustNot, translated)
			default:
				return nil, opErr("filter_translate", OperationErrorUnsupportedFilter,
					fmt.Sprintf("unsupported top-level operator %q", k), nil)
			}
			continue
		}

		ops, isOpMap := value.(map[string]any)
		if !isOpMap {
			must = append(must, matchCondition(k, value))
			continue
		}
		opNames := make([]string, 0, len(ops))
		for op := range ops {
			opNames = append(opNames, op)
		}
		sort.Strings(opNames)
		for _, op := range opNames {
			opVal := ops[op]
			switch strings.ToLower(strings.TrimSpace(op)) {
			case filterOpEq:
				must = append(must, matchCondition(k, opVal))
			case filterOpNe:
				mustNot = append(mustNot, matchCondition(k, opVal))
			case filterOpIn:
				values, err := scalarSlice(opVal)
				if err != nil {
					return nil, opErr("filter_translate", OperationErrorValidation,
						fmt.Sprintf("operator %s for field %q expects a scalar array", filterOpIn, k), err)
				}
				must = append(must, map[string]any{
					"key":   k,
					"match": map[string]any{"any": values},
				})
			default:
				return nil, opErr("filter_translate", OperationErrorUnsupportedFilter,
					fmt.Sprintf("unsupported operator %q for field %q", op, k), nil)
			}
		}
	}

	out := map[string]any{}
	if len(must) > 0 {
		out["must"] = must
	}
	if len(should) > 0 {
		out["should"] = should
	}
	if len(mustNot) > 0 {
		out["must_not"] = mustNot
	}
	return out, nil
}

func matchCondition(key string, value any) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func scalarSlice(value any) ([]any, error) {
	switch typed := value.(type) {
	case []any:
		return typed, nil
	case []string:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = v
		}
		return out, nil
	case []int:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = v
		}
		return out, nil
	case []float64:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected scalar array, got %T", value)
	}
}

// matchesFilter evaluates the same mini-language in-process for the
// embedded store. Unsupported shapes simply do not match.
func matchesFilter(payload map[string]any, filter map[string]any) bool {
	for key, value := range filter {
		k := strings.TrimSpace(key)
		switch strings.ToLower(k) {
		case filterOpAnd:
			items, ok := value.([]any)
			if !ok {
				return false
			}
			for _, item := range items {
				sub, ok := item.(map[string]any)
				if !ok || !matchesFilter(payload, sub) {
					return false
				}
			}
		case filterOpOr:
			items, ok := value.([]any)
			if !ok {
				return false
			}
			matched := false
			for _, item := range items {
				if sub, ok := item.(map[string]any); ok && matchesFilter(payload, sub) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case filterOpNot:
			sub, ok := value.(map[string]any)
			if !ok || matchesFilter(payload, sub) {
				return false
			}
		default:
			if !matchesField(payload[k], value) {
				return false
			}
		}
	}
	return true
}

func matchesField(have any, want any) bool {
	ops, isOpMap := want.(map[string]any)
	if !isOpMap {
		return scalarEqual(have, want)
	}
	for op, opVal := range ops {
		switch strings.ToLower(strings.TrimSpace(op)) {
		case filterOpEq:
			if !scalarEqual(have, opVal) {
				return false
			}
		case filterOpNe:
			if scalarEqual(have, opVal) {
				return false
			}
		case filterOpIn:
			values, err := scalarSlice(opVal)
			if err != nil {
				return false
			}
			found := false
			for _, v := range values {
				if scalarEqual(have, v) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// scalarEqual compares payload values loosely: numbers compare by value
// regardless of int/float representation, everything else by formatting.
func scalarEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch typed := v.(type) {
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	default:
		return 0, false
	}
}
