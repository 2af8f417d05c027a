package keys

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretDecodesBase64Variants(t *testing.T) {
	want := []byte{0xfb, 0xff, 0x01, 0x02, 0x03, 0xfe, 0x7f}
	for name, enc := range map[string]*base64.Encoding{
		"std":     base64.StdEncoding,
		"raw std": base64.RawStdEncoding,
		"url":     base64.URLEncoding,
		"raw url": base64.RawURLEncoding,
	} {
		t.Run(name, func(t *testing.T) {
			var req struct {
				Secret Secret `json:"secret"`
			}
			body := fmt.Sprintf(`{"secret":%q}`, enc.EncodeToString(want))
			require.NoError(t, json.Unmarshal([]byte(body), &req))
			assert.Equal(t, want, []byte(req.Secret))

			req.Secret.Wipe()
			assert.Equal(t, make([]byte, len(want)), []byte(req.Secret))
		})
	}
}

func TestSecretRejectsNonBase64(t *testing.T) {
	var req struct {
		Secret Secret `json:"secret"`
	}
	err := json.Unmarshal([]byte(`{"secret":"not base64!"}`), &req)
	assert.ErrorIs(t, err, ErrSecretEncoding)
	err = json.Unmarshal([]byte(`{"secret":42}`), &req)
	assert.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`{"secret":null}`), &req))
	assert.Empty(t, req.Secret)
}

func TestSecretIsRedactedWhenFormatted(t *testing.T) {
	s := Secret("hunter2hunter2")
	assert.NotContains(t, fmt.Sprintf("%v %s %#v", s, s, s), "hunter2")
}
