package pluginapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	t.Parallel()

	want := MustParseID("11111111-1111-1111-1111-111111111111")

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "canonical", in: "11111111-1111-1111-1111-111111111111"},
		{name: "no hyphens", in: "11111111111111111111111111111111"},
		{name: "padded", in: "  11111111-1111-1111-1111-111111111111\n"},
		{name: "too short", in: "1111", wantErr: true},
		{name: "not hex", in: "1111111111111111111111111111111z", wantErr: true},
		{name: "zero", in: "00000000-0000-0000-0000-000000000000", wantErr: true},
		{name: "empty", in: "", wantErr: true},
		{name: "scattered hyphens", in: "1-1-1-1-1111111111111111111111111111", wantErr: true},
		{name: "shifted hyphens", in: "1111111-11111-1111-1111-111111111111", wantErr: true},
		{name: "partial hyphens", in: "11111111-1111-1111-1111111111111111", wantErr: true},
		{name: "hyphen in bare form", in: "1111111111111111111111111111111-", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseID(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseIDCaseInsensitive(t *testing.T) {
	t.Parallel()

	lower, err := ParseID("abcdefab-cdef-abcd-efab-cdefabcdefab")
	require.NoError(t, err)
	upper, err := ParseID("ABCDEFABCDEFABCDEFABCDEFABCDEFAB")
	require.NoError(t, err)
	assert.Equal(t, lower, upper)
}

func TestSessionDirty(t *testing.T) {
	t.Parallel()

	s := NewSession("abc")
	assert.False(t, s.Dirty())

	s.Delete("missing")
	assert.False(t, s.Dirty())

	s.Set("user", "alice")
	v, ok := s.Get("user")
	assert.True(t, ok)
	assert.Equal(t, "alice", v)
	assert.True(t, s.Dirty())
}
