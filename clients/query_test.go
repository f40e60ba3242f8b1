package clients

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_Encode(t *testing.T) {
	tests := []struct {
		name     string
		query    *Query
		expected url.Values
	}{
		{
			name:     "empty",
			query:    NewQuery(),
			expected: url.Values{},
		},
		{
			name:  "select eq order limit",
			query: NewQuery().Select("id,brand").Eq("category", "driver").Order("brand", true).Order("model", false).Limit(10).Offset(20),
			expected: url.Values{
				"select":   {"id,brand"},
				"category": {"eq.driver"},
				"order":    {"brand.asc,model.desc"},
				"limit":    {"10"},
				"offset":   {"20"},
			},
		},
		{
			name:     "is and not",
			query:    NewQuery().Is("image_url", "null").Not("status", "eq", "rejected"),
			expected: url.Values{"image_url": {"is.null"}, "status": {"not.eq.rejected"}},
		},
		{
			name:     "in quotes reserved characters",
			query:    NewQuery().In("model", "Pro V1", "Chrome,Soft", "TP5"),
			expected: url.Values{"model": {`in.("Pro V1","Chrome,Soft",TP5)`}},
		},
		{
			name:     "range on one column",
			query:    NewQuery().Gte("msrp", 100.5).Lt("msrp", 600),
			expected: url.Values{"msrp": {"gte.100.5", "lt.600"}},
		},
		{
			name:     "ilike",
			query:    NewQuery().ILike("brand", "taylormade"),
			expected: url.Values{"brand": {"ilike.taylormade"}},
		},
		{
			name:     "not in",
			query:    NewQuery().Not("id", "in", []interface{}{"a", "b"}),
			expected: url.Values{"id": {"not.in.(a,b)"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := tt.query.Encode()
			if len(tt.expected) == 0 {
				assert.Equal(t, "", enc)
				return
			}
			got, err := url.ParseQuery(enc[1:])
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuery_HasFilter(t *testing.T) {
	assert.False(t, NewQuery().Select("id").Limit(5).HasFilter())
	assert.True(t, NewQuery().Eq("id", "x").HasFilter())
	var nilQuery *Query
	assert.False(t, nilQuery.HasFilter())
}

func TestQuery_CloneIsIndependent(t *testing.T) {
	q := NewQuery().Eq("a", 1)
	c := q.clone()
	c.Eq("b", 2).Limit(1)

	assert.NotContains(t, q.Encode(), "b=")
	assert.NotContains(t, q.Encode(), "limit")
	assert.Contains(t, c.Encode(), "b=eq.2")
}

func TestParseContentRange(t *testing.T) {
	n, err := parseContentRange("0-0/42")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = parseContentRange("*/0")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = parseContentRange("0-9/*")
	assert.Error(t, err)

	_, err = parseContentRange("")
	assert.Error(t, err)
}
