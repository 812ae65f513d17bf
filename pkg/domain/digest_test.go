package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "custodia/pkg/domain-errors"
)

func TestParseDigest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"empty string", "", true},
		{"too short", "abcd", true},
		{"not hex", strings.Repeat("z", 64), true},
		{"zero sentinel", strings.Repeat("0", 64), true},
		{"valid", strings.Repeat("ab", 32), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDigest(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, d.String())
			assert.False(t, d.IsZero())
		})
	}
}

func TestDigestOf_RoundTrip(t *testing.T) {
	d := DigestOf([]byte("lot-42 harvest record"))
	require.False(t, d.IsZero())

	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestStageOrdering(t *testing.T) {
	assert.Equal(t, StageProduced, StageRegistered.Next())
	assert.False(t, StageRegistered.IsTerminal())
	assert.True(t, TerminalStage.IsTerminal())

	_, err := ParseStage(int(TerminalStage) + 1)
	require.Error(t, err)

	s, err := ParseStage(2)
	require.NoError(t, err)
	assert.Equal(t, StageProcessed, s)
}
