package duckgrid

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// QuoteIdent double-quotes an identifier. A dotted name is quoted per part.
func QuoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// quoteColumn quotes a single column name; dots are part of the name
func quoteColumn(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteString renders a string literal with single quotes doubled
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z07",
	"2006-01-02 15:04:05 -0700 MST",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// timestampLayout renders wall-clock timestamps at microsecond precision,
// the finest the engines store
const timestampLayout = "2006-01-02 15:04:05.999999"

func parseDate(v interface{}) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case *time.Time:
		if d == nil {
			return time.Time{}, false
		}
		return *d, true
	case string:
		s := strings.TrimSpace(d)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// dateLiteral renders an engine-native date literal
func dateLiteral(v interface{}) (string, bool) {
	t, ok := parseDate(v)
	if !ok {
		return "", false
	}
	return "DATE '" + t.Format("2006-01-02") + "'", true
}

// temporalText is the canonical text of a DATE-family value
func temporalText(t SemanticType, d time.Time) string {
	switch t {
	case TypeTimestamp:
		return d.Format(timestampLayout)
	case TypeTimestampTZ:
		return d.UTC().Format(time.RFC3339Nano)
	default:
		return d.Format("2006-01-02")
	}
}

// timestampLiteral keeps the time of day. Zoned values are compared as
// instants, so they are rendered in UTC with an explicit offset.
func timestampLiteral(t SemanticType, v interface{}) (string, bool) {
	d, ok := parseDate(v)
	if !ok {
		return "", false
	}
	if t == TypeTimestampTZ {
		return "TIMESTAMPTZ '" + d.UTC().Format(timestampLayout) + "+00'", true
	}
	return "TIMESTAMP '" + d.Format(timestampLayout) + "'", true
}

// maxFractionDigits bounds the scale of rendered decimal operands
const maxFractionDigits = 38

// exactNumber parses decimal text without going through float64, so large
// integers and DECIMAL operands keep every digit.
func exactNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	// bounds the exponent before the exact parse
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return floatLiteral(f)
	}
	if r.IsInt() {
		return r.Num().String(), true
	}
	x := new(big.Rat).Set(r)
	ten := big.NewRat(10, 1)
	for n := 1; n <= maxFractionDigits; n++ {
		if x.Mul(x, ten); x.IsInt() {
			return r.FloatString(n), true
		}
	}
	return r.FloatString(maxFractionDigits), true
}

// numberLiteral re-formats a parsed number so no operand text reaches SQL verbatim
func numberLiteral(v interface{}) (string, bool) {
	switch n := v.(type) {
	case json.Number:
		return exactNumber(n.String())
	case string:
		return exactNumber(n)
	case int:
		return strconv.Itoa(n), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case uint32:
		return strconv.FormatUint(uint64(n), 10), true
	case uint64:
		return strconv.FormatUint(n, 10), true
	case *big.Int:
		if n == nil {
			return "", false
		}
		return n.String(), true
	case float32:
		return floatLiteral(float64(n))
	case float64:
		return floatLiteral(n)
	default:
		return "", false
	}
}

func floatLiteral(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

func stringOf(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case time.Time:
		return s.Format("2006-01-02")
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// literalFor renders v as a literal matching the column's semantic type
func literalFor(t SemanticType, v interface{}) (string, bool) {
	if v == nil {
		return "", false
	}
	switch t {
	case TypeDouble, TypeInteger:
		return numberLiteral(v)
	case TypeDate:
		return dateLiteral(v)
	case TypeTimestamp, TypeTimestampTZ:
		return timestampLiteral(t, v)
	default:
		return QuoteString(stringOf(v)), true
	}
}

// setKey is the comparison key used to match a selected set value against
// the prefetched list
func setKey(t SemanticType, v interface{}) string {
	if t.IsTemporal() {
		if d, ok := parseDate(v); ok {
			return temporalText(t, d)
		}
	}
	if t.IsNumeric() {
		if lit, ok := numberLiteral(v); ok {
			return lit
		}
	}
	return stringOf(v)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern builds an ILIKE operand. The ESCAPE clause is only added when
// the value carried wildcard characters.
func likePattern(prefix, value, suffix string) string {
	escaped := likeEscaper.Replace(value)
	pattern := QuoteString(prefix + escaped + suffix)
	if escaped != value {
		pattern += ` ESCAPE '\'`
	}
	return pattern
}
