package versioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input   string
		want    APIVersion
		wantErr bool
	}{
		{input: "1.2.3", want: APIVersion{Major: 1, Minor: 2, Patch: 3}},
		{input: "1", want: APIVersion{Major: 1}},
		{input: "1.4", want: APIVersion{Major: 1, Minor: 4}},
		{input: "2.0.0-beta.1", want: APIVersion{Major: 2, Prerelease: "beta.1"}},
		{input: "1-rc1", want: APIVersion{Major: 1, Prerelease: "rc1"}},
		{input: "", wantErr: true},
		{input: "one", wantErr: true},
		{input: "1.2.3.4", wantErr: true},
		{input: "1.2.x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseVersion(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAPIVersion_String(t *testing.T) {
	assert.Equal(t, "1.0.0", V1_0_0.String())
	assert.Equal(t, "1.2.3-beta", APIVersion{Major: 1, Minor: 2, Patch: 3, Prerelease: "beta"}.String())
}

func TestAPIVersion_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"equal", "1.0.0", "1.0.0", 0},
		{"major", "2.0.0", "1.9.9", 1},
		{"minor", "1.1.0", "1.2.0", -1},
		{"patch", "1.0.2", "1.0.1", 1},
		{"release after prerelease", "1.0.0", "1.0.0-rc1", 1},
		{"prerelease before release", "1.0.0-rc1", "1.0.0", -1},
		{"prerelease ordering", "1.0.0-alpha", "1.0.0-beta", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseVersion(tt.a)
			require.NoError(t, err)
			b, err := ParseVersion(tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Compare(b))
		})
	}
}

func TestCheckCompatibility(t *testing.T) {
	compat := CheckCompatibility(APIVersion{Major: 1, Minor: 3})
	assert.True(t, compat.Compatible)
	assert.Empty(t, compat.Reason)

	compat = CheckCompatibility(APIVersion{Major: 2})
	assert.False(t, compat.Compatible)
	assert.Contains(t, compat.Reason, "not available")

	compat = CheckCompatibility(APIVersion{Major: 0, Minor: 9})
	assert.False(t, compat.Compatible)
	assert.Contains(t, compat.Reason, "no longer supported")
}

func TestNewInfo(t *testing.T) {
	info := NewInfo("1.4.0", "abc123", "2026-10-01T00:00:00Z")
	assert.Equal(t, CurrentVersion, info.API)
	assert.Equal(t, "abc123", info.Commit)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.String(), "build 1.4.0")
}
