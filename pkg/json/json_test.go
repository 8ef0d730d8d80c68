package json

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalKeepsNumbers(t *testing.T) {
	var v map[string]interface{}
	require.NoError(t, Unmarshal([]byte(`{"id": 12345678901234567890, "price": 1.10}`), &v))

	assert.Equal(t, Number("12345678901234567890"), v["id"])
	assert.Equal(t, Number("1.10"), v["price"])
}

func TestMarshalLine(t *testing.T) {
	line, err := MarshalLine(map[string]interface{}{"name": "<Ann>"})
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(line, []byte("\n")))
	assert.Equal(t, 1, bytes.Count(line, []byte("\n")))
}

func TestObjectKeys(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{
			name:  "insertion order",
			input: `{"zeta": 1, "alpha": {"nested": [1, 2]}, "mid": "x"}`,
			want:  []string{"zeta", "alpha", "mid"},
		},
		{
			name:  "empty object",
			input: `{}`,
			want:  nil,
		},
		{
			name:    "array",
			input:   `[1, 2]`,
			wantErr: true,
		},
		{
			name:    "truncated",
			input:   `{"a": `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ObjectKeys([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnmarshalTrailingData(t *testing.T) {
	var v map[string]interface{}
	assert.Error(t, Unmarshal([]byte(`{"a": 1} x`), &v))
	assert.NoError(t, Unmarshal([]byte("{\"a\": 1}\n"), &v))
}
