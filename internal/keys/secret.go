package keys

import (
	"encoding/base64"
	"errors"
)

// ErrSecretEncoding is returned for a secret that is not a base64 JSON string.
var ErrSecretEncoding = errors.New("secret must be a base64 string")

// Secret is authenticator-issued key material as it arrives in a request. It
// decodes from base64 JSON text straight into its own buffer so the caller
// can Wipe it; no Go string copy of the bytes is ever made.
type Secret []byte

// UnmarshalJSON accepts standard or URL-safe base64, padded or not.
func (s *Secret) UnmarshalJSON(data []byte) error {
	if len(data) == 4 && data[0] == 'n' && data[1] == 'u' && data[2] == 'l' && data[3] == 'l' {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return ErrSecretEncoding
	}
	raw := data[1 : len(data)-1]

	urlSafe, padded := false, len(raw) > 0 && raw[len(raw)-1] == '='
	for _, c := range raw {
		if c == '-' || c == '_' {
			urlSafe = true
			break
		}
	}
	var enc *base64.Encoding
	switch {
	case urlSafe && padded:
		enc = base64.URLEncoding
	case urlSafe:
		enc = base64.RawURLEncoding
	case padded:
		enc = base64.StdEncoding
	default:
		enc = base64.RawStdEncoding
	}

	buf := make([]byte, enc.DecodedLen(len(raw)))
	n, err := enc.Decode(buf, raw)
	if err != nil {
		Wipe(buf)
		return ErrSecretEncoding
	}
	Wipe(*s)
	*s = buf[:n]
	return nil
}

// Wipe zeroes the secret in place.
func (s Secret) Wipe() { Wipe(s) }

func (s Secret) String() string   { return "keys.Secret(REDACTED)" }
func (s Secret) GoString() string { return "keys.Secret(REDACTED)" }
