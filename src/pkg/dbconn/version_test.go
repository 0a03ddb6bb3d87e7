package dbconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerVersion(t *testing.T) {
	tests := []struct {
		raw     string
		version string
		flavor  string
	}{
		{"8.0.34", "8.0.34", "mysql"},
		{"8.0.34-0ubuntu0.22.04.1", "8.0.34", "mysql"},
		{"5.7.44-log", "5.7.44", "mysql"},
		{"10.11.6-MariaDB-1:10.11.6+maria~ubu2204", "10.11.6", "mariadb"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v, flavor, err := ParseServerVersion(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.version, v.String())
			assert.Equal(t, tt.flavor, flavor)
		})
	}

	_, _, err := ParseServerVersion("not-a-version")
	assert.Error(t, err)
}

func TestCheckCompatibility(t *testing.T) {
	c, err := CheckCompatibility("8.0.34", "5.7.44-log")
	require.NoError(t, err)
	assert.True(t, c.TargetOlder)
	assert.Len(t, c.Warnings(), 1)

	c, err = CheckCompatibility("5.7.44", "8.0.34")
	require.NoError(t, err)
	assert.False(t, c.TargetOlder)
	assert.Empty(t, c.Warnings())

	c, err = CheckCompatibility("8.0.34", "10.11.6-MariaDB")
	require.NoError(t, err)
	assert.True(t, c.Mismatch)
	assert.False(t, c.TargetOlder)
	assert.Len(t, c.Warnings(), 1)
}
