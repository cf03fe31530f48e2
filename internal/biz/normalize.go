package biz

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// numberLiteral matches the decoder's number type when UseNumber is set.
type numberLiteral interface {
	Float64() (float64, error)
	String() string
}

// isoMillis is the canonical timestamp form used for comparisons.
const isoMillis = "2006-01-02T15:04:05.000Z"

// 自动维护的时间戳字段，对账时永远忽略
var timestampFields = map[string]struct{}{
	"createdAt":  {},
	"updatedAt":  {},
	"created_at": {},
	"updated_at": {},
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// normalize renders v in the canonical string form compared between cache and
// database: nil is "null", timestamps are UTC ISO-8601 with milliseconds,
// numbers drop trailing zeros, objects and arrays are compact JSON with sorted keys.
func normalize(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return normalizeString(t)
	case []byte:
		return normalizeString(string(t))
	case time.Time:
		return t.UTC().Format(isoMillis)
	case *time.Time:
		if t == nil {
			return "null"
		}
		return t.UTC().Format(isoMillis)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case numberLiteral:
		// 整数先按整数解析，超过 2^53 的 id 与金额不能经过 float64
		lit := t.String()
		if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return strconv.FormatInt(n, 10)
		}
		if n, err := strconv.ParseUint(lit, 10, 64); err == nil {
			return strconv.FormatUint(n, 10)
		}
		if f, err := t.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return lit
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t)
	default:
		return canonicalJSON(t)
	}
}

func normalizeString(s string) string {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC().Format(isoMillis)
		}
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) > 1 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var decoded interface{}
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return canonicalJSON(decoded)
		}
	}
	return s
}

func canonicalJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// decodeCacheValue parses a cached JSON object. Numbers keep their literal form.
func decodeCacheValue(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("cache value is not a JSON object")
	}
	return obj, nil
}

// compareFields returns the sorted list of fields that differ after normalization.
// Empty fields means every database column except the timestamp fields.
func compareFields(cached map[string]interface{}, row EntityRow, fields []string) []string {
	if len(fields) == 0 {
		fields = make([]string, 0, len(row))
		for k := range row {
			fields = append(fields, k)
		}
	}

	var diff []string
	for _, f := range fields {
		if _, skip := timestampFields[f]; skip {
			continue
		}
		if normalize(cached[f]) != normalize(row[f]) {
			diff = append(diff, f)
		}
	}
	sort.Strings(diff)
	return diff
}

// cacheable converts a database row to the JSON written to the cache.
// Raw byte columns become strings so they are not base64 encoded.
func cacheable(row EntityRow) ([]byte, error) {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			out[k] = string(b)
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}
