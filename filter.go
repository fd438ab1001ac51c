package duckgrid

import (
	"sort"
	"strings"
)

// BuildWhere turns the request's filter model into a WHERE fragment.
// Entries for unknown columns, unknown operators or unusable operands are
// dropped; the remaining column predicates are joined with AND.
func BuildWhere(req *RowRequest, cols ColumnMetadata, sets SetValues) Fragment {
	frag := Fragment{Kind: WhereKind}
	if req == nil || len(req.FilterModel) == 0 {
		return frag
	}

	names := make([]string, 0, len(req.FilterModel))
	for name := range req.FilterModel {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t, ok := cols[name]
		if !ok {
			continue
		}
		if pred, ok := columnPredicate(name, t, req.FilterModel[name], sets[name]); ok {
			frag.Terms = append(frag.Terms, pred)
		}
	}

	if len(frag.Terms) > 0 {
		frag.SQL = "WHERE " + strings.Join(frag.Terms, " AND ")
	}
	return frag
}

func columnPredicate(col string, t SemanticType, spec FilterSpec, known []interface{}) (string, bool) {
	conds := spec.conditions()
	if len(conds) == 0 {
		return conditionPredicate(col, t, spec, known)
	}

	join := " AND "
	if strings.EqualFold(spec.Operator, "OR") {
		join = " OR "
	}

	var parts []string
	for _, c := range conds {
		if c.FilterType == "" {
			c.FilterType = spec.FilterType
		}
		if p, ok := conditionPredicate(col, t, c, known); ok {
			parts = append(parts, p)
		}
	}
	switch len(parts) {
	case 0:
		return "", false
	case 1:
		return parts[0], true
	default:
		return "(" + strings.Join(parts, join) + ")", true
	}
}

func conditionPredicate(col string, t SemanticType, spec FilterSpec, known []interface{}) (string, bool) {
	filterType := strings.ToLower(spec.FilterType)
	if filterType == "" {
		filterType = inferFilterType(t, spec)
	}

	switch filterType {
	case "text":
		return textPredicate(col, t, spec)
	case "number":
		return numberPredicate(col, spec)
	case "date":
		return datePredicate(col, t, spec)
	case "set":
		return setPredicate(col, t, spec, known)
	default:
		return "", false
	}
}

func inferFilterType(t SemanticType, spec FilterSpec) string {
	if spec.operator() == "" && spec.Values != nil {
		return "set"
	}
	switch {
	case t.IsTemporal():
		return "date"
	case t.IsNumeric():
		return "number"
	default:
		return "text"
	}
}

func blankPredicate(ident string, op string, text bool) (string, bool) {
	switch op {
	case "blank":
		if text {
			return "(" + ident + " IS NULL OR " + ident + " = '')", true
		}
		return ident + " IS NULL", true
	case "notBlank":
		if text {
			return "(" + ident + " IS NOT NULL AND " + ident + " <> '')", true
		}
		return ident + " IS NOT NULL", true
	}
	return "", false
}

var comparisonOps = map[string]string{
	"equals":             "=",
	"notEqual":           "<>",
	"lessThan":           "<",
	"lessThanOrEqual":    "<=",
	"greaterThan":        ">",
	"greaterThanOrEqual": ">=",
}

func textPredicate(col string, t SemanticType, spec FilterSpec) (string, bool) {
	ident := quoteColumn(col)
	if t != TypeVarchar {
		ident = "CAST(" + ident + " AS VARCHAR)"
	}

	op := spec.operator()
	if p, ok := blankPredicate(ident, op, true); ok {
		return p, true
	}

	operand := spec.operand()
	if operand == nil {
		return "", false
	}
	value := stringOf(operand)

	switch op {
	case "equals":
		return ident + " = " + QuoteString(value), true
	case "notEqual":
		return ident + " <> " + QuoteString(value), true
	case "contains":
		return ident + " ILIKE " + likePattern("%", value, "%"), true
	case "notContains":
		return ident + " NOT ILIKE " + likePattern("%", value, "%"), true
	case "startsWith":
		return ident + " ILIKE " + likePattern("", value, "%"), true
	case "endsWith":
		return ident + " ILIKE " + likePattern("%", value, ""), true
	}
	return "", false
}

func numberPredicate(col string, spec FilterSpec) (string, bool) {
	ident := quoteColumn(col)
	op := spec.operator()
	if p, ok := blankPredicate(ident, op, false); ok {
		return p, true
	}

	from, ok := numberLiteral(spec.operand())
	if !ok {
		return "", false
	}
	if op == "inRange" {
		to, ok := numberLiteral(spec.FilterTo)
		if !ok {
			return "", false
		}
		return ident + " BETWEEN " + from + " AND " + to, true
	}
	if sqlOp, ok := comparisonOps[op]; ok {
		return ident + " " + sqlOp + " " + from, true
	}
	return "", false
}

// datePredicate compares at day granularity; timestamp columns are cast
// to DATE so that "equals 2024-01-01" matches every time of that day.
func datePredicate(col string, t SemanticType, spec FilterSpec) (string, bool) {
	ident := quoteColumn(col)
	op := spec.operator()
	if p, ok := blankPredicate(ident, op, false); ok {
		return p, true
	}
	if t == TypeTimestamp || t == TypeTimestampTZ {
		ident = "CAST(" + ident + " AS DATE)"
	}

	var operand interface{} = spec.DateFrom
	if spec.DateFrom == "" {
		operand = spec.operand()
	}
	from, ok := dateLiteral(operand)
	if !ok {
		return "", false
	}

	switch op {
	case "inRange":
		to, ok := dateLiteral(spec.DateTo)
		if !ok {
			return "", false
		}
		return ident + " BETWEEN " + from + " AND " + to, true
	case "equals", "notEqual", "lessThan", "greaterThan":
		return ident + " " + comparisonOps[op] + " " + from, true
	}
	return "", false
}

// setPredicate renders an IN list. Selected values missing from the
// prefetched list are dropped; an empty selection matches nothing.
func setPredicate(col string, t SemanticType, spec FilterSpec, known []interface{}) (string, bool) {
	if spec.Values == nil {
		return "", false
	}
	ident := quoteColumn(col)

	var allowed map[string]bool
	if known != nil {
		allowed = make(map[string]bool, len(known))
		for _, k := range known {
			if k != nil {
				allowed[setKey(t, k)] = true
			}
		}
	}

	var literals []string
	hasNull := false
	seen := make(map[string]bool)
	for _, v := range spec.Values {
		if v == nil {
			hasNull = true
			continue
		}
		if allowed != nil && !allowed[setKey(t, v)] {
			continue
		}
		lit, ok := literalFor(t, v)
		if !ok || seen[lit] {
			continue
		}
		seen[lit] = true
		literals = append(literals, lit)
	}

	switch {
	case len(literals) == 0 && !hasNull:
		return "1 = 0", true
	case len(literals) == 0:
		return ident + " IS NULL", true
	case hasNull:
		return "(" + ident + " IN (" + strings.Join(literals, ", ") + ") OR " + ident + " IS NULL)", true
	default:
		return ident + " IN (" + strings.Join(literals, ", ") + ")", true
	}
}
