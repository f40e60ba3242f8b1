package models

import (
	"encoding/json"
	"testing"

	"github.com/guregu/null/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		parts    []string
		expected string
	}{
		{[]string{"TaylorMade", "Qi10 Max"}, "taylormade-qi10-max"},
		{[]string{"Titleist", "Pro V1x"}, "titleist-pro-v1x"},
		{[]string{"Scotty Cameron", "Phantom 7.5"}, "scotty-cameron-phantom-7-5"},
		{[]string{"  Ping ", "G430 / LST!"}, "ping-g430-lst"},
		{[]string{""}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, Slugify(tt.parts...))
		})
	}
}

func TestEquipment_SlugAndName(t *testing.T) {
	e := Equipment{Brand: "Callaway", Model: "Paradym Ai Smoke"}
	assert.Equal(t, "callaway-paradym-ai-smoke", e.Slug())
	assert.Equal(t, "Callaway Paradym Ai Smoke", e.DisplayName())
}

func TestEquipment_NullColumns(t *testing.T) {
	var e Equipment
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","brand":"Ping","model":"G430","category":"driver","msrp":null,"image_url":null}`), &e))
	assert.False(t, e.MSRP.Valid)
	assert.False(t, e.ImageURL.Valid)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","msrp":599.99,"image_url":"https://x/y.jpg"}`), &e))
	assert.Equal(t, 599.99, e.MSRP.Float64)
	assert.Equal(t, "https://x/y.jpg", e.ImageURL.String)
}

func TestEquipmentPhoto_InsertPayload(t *testing.T) {
	p := EquipmentPhoto{
		EquipmentID: "eq-1",
		PhotoURL:    "https://cdn/eq.jpg",
		ContentHash: null.StringFrom("abc"),
		Width:       null.IntFrom(1200),
	}
	b, err := json.Marshal(p)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	_, hasID := m["id"]
	assert.False(t, hasID)
	assert.Nil(t, m["source_url"])
	assert.Equal(t, "abc", m["content_hash"])
	assert.Equal(t, float64(1200), m["width"])
}

func TestInviteCode_Exhausted(t *testing.T) {
	assert.False(t, InviteCode{MaxUses: 2, Uses: 1}.Exhausted())
	assert.True(t, InviteCode{MaxUses: 1, Uses: 1}.Exhausted())
}
