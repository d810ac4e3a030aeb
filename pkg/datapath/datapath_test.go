package datapath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected []string
		wantErr  bool
	}{
		{name: "root", path: "$", expected: nil},
		{name: "single field", path: "$.statusCode", expected: []string{"statusCode"}},
		{name: "nested", path: "$.Payload.teamEmail", expected: []string{"Payload", "teamEmail"}},
		{name: "missing prefix", path: "statusCode", wantErr: true},
		{name: "empty segment", path: "$.a..b", wantErr: true},
		{name: "trailing dot", path: "$.", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments, err := Parse(tt.path)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPath)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, segments)
		})
	}
}

func TestGet(t *testing.T) {
	data := map[string]any{
		"Payload": map[string]any{
			"insuranceProductId": 58305195,
			"teamEmail":          "team@example.com",
		},
		"list": []any{1, 2},
	}

	value, err := Get(data, "$.Payload.teamEmail")
	require.NoError(t, err)
	assert.Equal(t, "team@example.com", value)

	value, err = Get(data, "")
	require.NoError(t, err)
	assert.Equal(t, data, value)

	_, err = Get(data, "$.Payload.missing")
	require.ErrorIs(t, err, ErrPathNotFound)

	_, err = Get(data, "$.list.first")
	require.ErrorIs(t, err, ErrPathNotFound)

	assert.True(t, Exists(data, "$.Payload"))
	assert.False(t, Exists(data, "$.nothing"))
}

func TestSet(t *testing.T) {
	data := map[string]any{"existing": "kept"}

	require.NoError(t, Set(data, "$.forward.result", map[string]any{"statusCode": 200}))
	assert.Equal(t, "kept", data["existing"])

	value, err := Get(data, "$.forward.result.statusCode")
	require.NoError(t, err)
	assert.Equal(t, 200, value)

	require.NoError(t, Set(data, "$.forward.other", true))
	assert.Len(t, data["forward"], 2)
}

func TestSet_Rejections(t *testing.T) {
	data := map[string]any{"scalar": 1}

	require.ErrorIs(t, Set(data, "$", map[string]any{}), ErrRootWrite)
	require.ErrorIs(t, Set(data, "$.scalar.child", 2), ErrNotAnObject)
	require.ErrorIs(t, Set(data, "scalar", 2), ErrInvalidPath)
	assert.Equal(t, 1, data["scalar"])
}
