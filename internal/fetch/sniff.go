package fetch

// sniff implements spec.md §4.5's purely magic-byte sniffing over the first
// up-to-1024 bytes of a response body. The upstream Content-Type header is
// never consulted; the sniff result is authoritative.
func sniff(b []byte) (contentType string, ok bool) {
	switch {
	case hasPrefix(b, 0x89, 0x50, 0x4E, 0x47):
		return "image/png", true
	case hasPrefix(b, 0x47, 0x49, 0x46, 0x38):
		return "image/gif", true
	case hasPrefix(b, 0x42, 0x4D):
		return "image/bmp", true
	case hasPrefix(b, 0xFF, 0xD8):
		return "image/jpeg", true
	case len(b) >= 4 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47:
		// Legacy/BOM-prefixed PNG variant: signature shifted one byte in.
		return "image/png", true
	default:
		return "", false
	}
}

func hasPrefix(b []byte, prefix ...byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if b[i] != p {
			return false
		}
	}
	return true
}
