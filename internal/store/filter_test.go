package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	doc := Document{
		"id":                  "m1",
		"name":                "Paracetamol 500",
		"stock_quantity":      float64(4),
		"minimum_stock_level": float64(10),
		"created_at":          "2024-03-15T10:00:00.000000Z",
		"is_active":           true,
		"clinic":              map[string]any{"city": "Pune"},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"eq id", ByID("m1"), true},
		{"eq mixes int and float", Where(Eq("stock_quantity", 4)), true},
		{"ne missing field", Where(Ne("deleted", true)), true},
		{"eq bool", Where(Eq("is_active", true)), true},
		{"timestamp range", Where(Gte("created_at", "2024-03-01T00:00:00.000000Z"), Lte("created_at", "2024-03-31T23:59:59.999999Z")), true},
		{"timestamp outside", Where(Gt("created_at", "2024-03-16T00:00:00.000000Z")), false},
		{"gt on missing field", Where(Gt("consultation_fee", 0)), false},
		{"in", Where(In("id", "x", "m1")), true},
		{"contains case insensitive", Where(Contains("name", "PARA")), true},
		{"field comparison", Where(LtField("stock_quantity", "minimum_stock_level")), true},
		{"dotted path", Where(Eq("clinic.city", "Pune")), true},
		{"or group none match", Filter{}.Or(Eq("id", "x"), Eq("id", "y")), false},
		{"and with or", ByID("m1").Or(Eq("id", "x"), Contains("name", "500")), true},
		{"string vs number", Where(Eq("name", 1)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(doc, tt.filter))
		})
	}
}

func TestSortDocuments(t *testing.T) {
	docs := []Document{
		{"id": "a", "created_at": "2024-01-02"},
		{"id": "b", "created_at": "2024-01-03"},
		{"id": "c", "created_at": "2024-01-01"},
	}
	out := SortDocuments(docs, FindOptions{SortField: "created_at", SortDesc: true, Limit: 2})
	assert.Equal(t, []string{"b", "a"}, []string{out[0].ID(), out[1].ID()})
	assert.Len(t, out, 2)

	out = SortDocuments(out, FindOptions{Skip: 5})
	assert.Empty(t, out)
}

func TestEncodeDropsNilPointers(t *testing.T) {
	name := "Ibuprofen"
	patch, err := Encode(struct {
		Name  *string  `json:"name,omitempty"`
		Price *float64 `json:"selling_price,omitempty"`
	}{Name: &name})
	assert.NoError(t, err)
	assert.Equal(t, Document{"name": "Ibuprofen"}, patch)
}
