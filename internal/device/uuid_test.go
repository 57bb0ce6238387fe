package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestKey(t *testing.T) {
	tests := []struct {
		name           string
		service, char  string
		expected       RequestKey
		expectedString string
	}{
		{
			name:           "short form is lowercased",
			service:        "180F",
			char:           "2A19",
			expected:       RequestKey{ServiceID: "180f", CharacteristicID: "2a19"},
			expectedString: "180f/2a19",
		},
		{
			name:           "SIG base UUIDs collapse to short form",
			service:        "0000180d-0000-1000-8000-00805F9B34FB",
			char:           "0x2A37",
			expected:       RequestKey{ServiceID: "180d", CharacteristicID: "2a37"},
			expectedString: "180d/2a37",
		},
		{
			name:           "vendor UUIDs keep all 128 bits",
			service:        "6E400001-B5A3-F393-E0A9-E50E24DCCA9E",
			char:           "6e400003-b5a3-f393-e0a9-e50e24dcca9e",
			expected:       RequestKey{ServiceID: "6e400001b5a3f393e0a9e50e24dcca9e", CharacteristicID: "6e400003b5a3f393e0a9e50e24dcca9e"},
			expectedString: "6e400001b5a3f393e0a9e50e24dcca9e/6e400003b5a3f393e0a9e50e24dcca9e",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewRequestKey(tt.service, tt.char)
			assert.Equal(t, tt.expected, key)
			assert.Equal(t, tt.expectedString, key.String())
			assert.True(t, key.Matches(tt.service, tt.char), "key MUST match its own raw UUIDs")
			assert.Equal(t, key, RequestKey{ServiceID: tt.service, CharacteristicID: tt.char}.Normalized())
		})
	}
}

func TestNoneKey(t *testing.T) {
	assert.True(t, NoneKey.IsNone())
	assert.Equal(t, "none", NoneKey.String())
	assert.Equal(t, NoneKey, NoneKey.Normalized())
	assert.False(t, NoneKey.Matches("", ""), "NoneKey MUST never match a target")
	assert.False(t, NewRequestKey("180f", "2a19").IsNone())
}

func TestValidateUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
		errMsg   string
	}{
		{name: "16-bit", input: []string{"180F"}, expected: []string{"180f"}},
		{name: "mixed forms", input: []string{"0x2a19", "00002A29-0000-1000-8000-00805f9b34fb"}, expected: []string{"2a19", "2a29"}},
		{name: "32-bit", input: []string{"0000fef5"}, expected: []string{"0000fef5"}},
		{name: "no input", errMsg: "none given"},
		{name: "empty entry", input: []string{"180f", ""}, errMsg: "argument 2 is blank"},
		{name: "blank entry", input: []string{"  "}, errMsg: "argument 1 is blank"},
		{name: "not hex", input: []string{"zz19"}, errMsg: `argument 1: "zz19"`},
		{name: "wrong length", input: []string{"180f", "2a1"}, errMsg: `argument 2: "2a1"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateUUID(tt.input...)
			if tt.errMsg != "" {
				require.ErrorIs(t, err, ErrInvalidUUID)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestKnownName(t *testing.T) {
	assert.Equal(t, "Battery Service", KnownName("180F"))
	assert.Equal(t, "Battery Level", KnownName("00002a19-0000-1000-8000-00805f9b34fb"))
	assert.Empty(t, KnownName("ffe1"))
}
