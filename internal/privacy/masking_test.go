package privacy

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestMaskID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"12345", "*****"},
		{"184467440737095516", "************095516"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskID(tt.in))
	}
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "t*****@example.com", MaskEmail("trader@example.com"))
	assert.Equal(t, "***", MaskEmail("@ab"))
	assert.Equal(t, "****", MaskEmail("none"))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", MaskToken(""))
	assert.Equal(t, "Bearer ***", MaskToken("Bearer abc.def.ghi"))
	assert.Equal(t, "***", MaskToken("raw-secret"))
}

func TestMaskFields(t *testing.T) {
	in := logrus.Fields{
		"user_id":         "user-000123456",
		"discord_user_id": "184467440737095516",
		"email":           "a@b.io",
		"authorization":   "Bearer secret",
		"attempt":         3,
		"queue":           "mirror",
	}
	out := MaskFields(in)

	assert.Equal(t, "********123456", out["user_id"])
	assert.Equal(t, "************095516", out["discord_user_id"])
	assert.Equal(t, "a@b.io", out["email"])
	assert.Equal(t, "Bearer ***", out["authorization"])
	assert.Equal(t, 3, out["attempt"])
	assert.Equal(t, "mirror", out["queue"])
	assert.Equal(t, "user-000123456", in["user_id"], "input is not modified")
	assert.Nil(t, MaskFields(nil))
}
