package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"192.168.1.47", "192.168.1.0"},
		{"10.0.0.0", "10.0.0.0"},
		{"::ffff:192.168.1.47", "192.168.1.0"},
		{"2001:db8:85a3::8a2e:370:7334", "2001:0db8:85a3::"},
		{"", "unknown"},
		{"unknown", "unknown"},
		{"not-an-ip", "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, AnonymizeIP(tt.input))
		})
	}
}

func TestMaskIdentifier(t *testing.T) {
	assert.Equal(t, "*******890", MaskIdentifier("1234567890"))
	assert.Equal(t, "***", MaskIdentifier("123"))
	assert.Equal(t, "", MaskIdentifier(""))
}

func TestMaskDestination(t *testing.T) {
	assert.Equal(t, "j***@example.org", MaskDestination("jane@example.org"))
	assert.Equal(t, "*@example.org", MaskDestination("@example.org"))
	assert.Equal(t, "*********4567", MaskDestination("+447700904567"))
}
