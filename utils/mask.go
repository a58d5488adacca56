package utils

import "encoding/hex"

// MaskSecret renders a redacted preview of secret material: the first four
// bytes hex-encoded plus an ellipsis. Full material must never leave the
// key store.
func MaskSecret(material []byte) string {
	if len(material) == 0 {
		return ""
	}
	n := 4
	if len(material) < n {
		n = len(material)
	}
	return hex.EncodeToString(material[:n]) + "…"
}
