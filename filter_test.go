package duckgrid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

var ordersCols = ColumnMetadata{
	"id":         TypeInteger,
	"region":     TypeVarchar,
	"name":       TypeVarchar,
	"amount":     TypeDouble,
	"order_date": TypeDate,
}

var ordersSets = SetValues{
	"region": {"east", "north", "west"},
}

func TestBuildWhere_Empty(t *testing.T) {
	for _, req := range []*RowRequest{nil, {}, {FilterModel: FilterModel{}}} {
		frag := BuildWhere(req, ordersCols, ordersSets)
		assert.True(t, frag.Empty())
		assert.Empty(t, frag.Terms)
		assert.Equal(t, WhereKind, frag.Kind)
	}
}

func TestBuildWhere(t *testing.T) {
	tests := []struct {
		name  string
		model FilterModel
		want  string
	}{
		{
			name:  "text equals",
			model: FilterModel{"region": {FilterType: "text", Type: "equals", Filter: "west"}},
			want:  `WHERE "region" = 'west'`,
		},
		{
			name:  "short aliases infer text",
			model: FilterModel{"region": {Op: "equals", Value: "west"}},
			want:  `WHERE "region" = 'west'`,
		},
		{
			name:  "quotes are doubled",
			model: FilterModel{"name": {FilterType: "text", Type: "contains", Filter: "o'b"}},
			want:  `WHERE "name" ILIKE '%o''b%'`,
		},
		{
			name:  "wildcards are escaped",
			model: FilterModel{"name": {FilterType: "text", Type: "contains", Filter: "50%"}},
			want:  `WHERE "name" ILIKE '%50\%%' ESCAPE '\'`,
		},
		{
			name:  "starts with",
			model: FilterModel{"name": {FilterType: "text", Type: "startsWith", Filter: "Ac"}},
			want:  `WHERE "name" ILIKE 'Ac%'`,
		},
		{
			name:  "text blank",
			model: FilterModel{"name": {FilterType: "text", Type: "blank"}},
			want:  `WHERE ("name" IS NULL OR "name" = '')`,
		},
		{
			name:  "text filter on numeric column",
			model: FilterModel{"amount": {FilterType: "text", Type: "equals", Filter: "5"}},
			want:  `WHERE CAST("amount" AS VARCHAR) = '5'`,
		},
		{
			name:  "number comparison",
			model: FilterModel{"amount": {FilterType: "number", Type: "greaterThanOrEqual", Filter: 12.5}},
			want:  `WHERE "amount" >= 12.5`,
		},
		{
			name:  "number range is inclusive",
			model: FilterModel{"amount": {FilterType: "number", Type: "inRange", Filter: 10, FilterTo: 20}},
			want:  `WHERE "amount" BETWEEN 10 AND 20`,
		},
		{
			name:  "number text is reformatted",
			model: FilterModel{"amount": {FilterType: "number", Type: "equals", Filter: " 007 "}},
			want:  `WHERE "amount" = 7`,
		},
		{
			name:  "number not blank",
			model: FilterModel{"amount": {FilterType: "number", Type: "notBlank"}},
			want:  `WHERE "amount" IS NOT NULL`,
		},
		{
			name:  "date before",
			model: FilterModel{"order_date": {FilterType: "date", Type: "lessThan", DateFrom: "2024-03-01 00:00:00"}},
			want:  `WHERE "order_date" < DATE '2024-03-01'`,
		},
		{
			name:  "date range",
			model: FilterModel{"order_date": {FilterType: "date", Type: "inRange", DateFrom: "2024-01-01", DateTo: "2024-01-31T00:00:00Z"}},
			want:  `WHERE "order_date" BETWEEN DATE '2024-01-01' AND DATE '2024-01-31'`,
		},
		{
			name:  "set selection",
			model: FilterModel{"region": {FilterType: "set", Values: []interface{}{"west", "east"}}},
			want:  `WHERE "region" IN ('west', 'east')`,
		},
		{
			name:  "set drops unknown and duplicate values",
			model: FilterModel{"region": {FilterType: "set", Values: []interface{}{"west", "south", "west"}}},
			want:  `WHERE "region" IN ('west')`,
		},
		{
			name:  "set with null",
			model: FilterModel{"region": {FilterType: "set", Values: []interface{}{"west", nil}}},
			want:  `WHERE ("region" IN ('west') OR "region" IS NULL)`,
		},
		{
			name:  "empty set matches nothing",
			model: FilterModel{"region": {FilterType: "set", Values: []interface{}{}}},
			want:  `WHERE 1 = 0`,
		},
		{
			name:  "set without prefetched values keeps selection",
			model: FilterModel{"name": {FilterType: "set", Values: []interface{}{"Acme"}}},
			want:  `WHERE "name" IN ('Acme')`,
		},
		{
			name: "or conditions",
			model: FilterModel{"name": {
				FilterType: "text",
				Operator:   "OR",
				Conditions: []FilterSpec{{Type: "contains", Filter: "a"}, {Type: "startsWith", Filter: "b"}},
			}},
			want: `WHERE ("name" ILIKE '%a%' OR "name" ILIKE 'b%')`,
		},
		{
			name: "legacy condition pair",
			model: FilterModel{"amount": {
				FilterType: "number",
				Operator:   "AND",
				Condition1: &FilterSpec{Type: "greaterThan", Filter: 1},
				Condition2: &FilterSpec{Type: "lessThan", Filter: 9},
			}},
			want: `WHERE ("amount" > 1 AND "amount" < 9)`,
		},
		{
			name: "columns are combined with and",
			model: FilterModel{
				"region": {FilterType: "text", Type: "equals", Filter: "west"},
				"amount": {FilterType: "number", Type: "greaterThan", Filter: 5},
			},
			want: `WHERE "amount" > 5 AND "region" = 'west'`,
		},
		{
			name:  "unknown column is dropped",
			model: FilterModel{"nope": {FilterType: "text", Type: "equals", Filter: "x"}, "region": {FilterType: "text", Type: "equals", Filter: "west"}},
			want:  `WHERE "region" = 'west'`,
		},
		{
			name:  "unknown operator is dropped",
			model: FilterModel{"name": {FilterType: "text", Type: "regex", Filter: ".*"}},
			want:  ``,
		},
		{
			name:  "unparsable number is dropped",
			model: FilterModel{"amount": {FilterType: "number", Type: "equals", Filter: "abc"}},
			want:  ``,
		},
		{
			name:  "unparsable date is dropped",
			model: FilterModel{"order_date": {FilterType: "date", Type: "equals", DateFrom: "yesterday"}},
			want:  ``,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag := BuildWhere(&RowRequest{FilterModel: tt.model}, ordersCols, ordersSets)
			assert.Equal(t, tt.want, frag.SQL)
		})
	}
}

func TestBuildWhere_TimestampsAndExactNumbers(t *testing.T) {
	cols := ColumnMetadata{
		"ts":    TypeTimestamp,
		"tz":    TypeTimestampTZ,
		"id":    TypeInteger,
		"price": TypeDouble,
	}
	sets := SetValues{
		"ts": {"2024-01-01 10:30:00.123456", "2024-01-01 18:00:00"},
		"tz": {"2024-01-01T10:30:00Z"},
	}

	tests := []struct {
		name  string
		model FilterModel
		want  string
	}{
		{
			name:  "date equals compares the day of a timestamp",
			model: FilterModel{"ts": {FilterType: "date", Type: "equals", DateFrom: "2024-01-01"}},
			want:  `WHERE CAST("ts" AS DATE) = DATE '2024-01-01'`,
		},
		{
			name:  "date range on a zoned timestamp",
			model: FilterModel{"tz": {FilterType: "date", Type: "inRange", DateFrom: "2024-01-01", DateTo: "2024-01-31"}},
			want:  `WHERE CAST("tz" AS DATE) BETWEEN DATE '2024-01-01' AND DATE '2024-01-31'`,
		},
		{
			name:  "timestamp columns infer date filters",
			model: FilterModel{"ts": {Op: "lessThan", Value: "2024-02-01"}},
			want:  `WHERE CAST("ts" AS DATE) < DATE '2024-02-01'`,
		},
		{
			name:  "timestamp set keeps the time of day",
			model: FilterModel{"ts": {FilterType: "set", Values: []interface{}{"2024-01-01 10:30:00.123456"}}},
			want:  `WHERE "ts" IN (TIMESTAMP '2024-01-01 10:30:00.123456')`,
		},
		{
			name:  "timestamp set matches the json form of a prefetched value",
			model: FilterModel{"ts": {FilterType: "set", Values: []interface{}{"2024-01-01T18:00:00Z"}}},
			want:  `WHERE "ts" IN (TIMESTAMP '2024-01-01 18:00:00')`,
		},
		{
			name:  "timestamp set drops values at another time",
			model: FilterModel{"ts": {FilterType: "set", Values: []interface{}{"2024-01-01 10:30:00"}}},
			want:  `WHERE 1 = 0`,
		},
		{
			name:  "zoned set value is compared as an instant",
			model: FilterModel{"tz": {FilterType: "set", Values: []interface{}{"2024-01-01 12:30:00+02:00"}}},
			want:  `WHERE "tz" IN (TIMESTAMPTZ '2024-01-01 10:30:00+00')`,
		},
		{
			name:  "integers above 2^53 keep every digit",
			model: FilterModel{"id": {FilterType: "number", Type: "equals", Filter: json.Number("9007199254740993")}},
			want:  `WHERE "id" = 9007199254740993`,
		},
		{
			name:  "decimal operands keep every digit",
			model: FilterModel{"price": {FilterType: "number", Type: "inRange", Filter: json.Number("12345678901234567.891"), FilterTo: "1e3"}},
			want:  `WHERE "price" BETWEEN 12345678901234567.891 AND 1000`,
		},
		{
			name:  "fractions are not numbers",
			model: FilterModel{"price": {FilterType: "number", Type: "equals", Filter: "1/3"}},
			want:  ``,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildWhere(&RowRequest{FilterModel: tt.model}, cols, sets).SQL)
		})
	}
}
