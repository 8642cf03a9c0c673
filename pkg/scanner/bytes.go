package scanner

// ParseUint reads an unsigned decimal integer from the start of payload.
// Returns false when payload is empty or starts with a non-digit.
func ParseUint(payload []byte) (uint64, bool) {
	if len(payload) == 0 || payload[0] < '0' || payload[0] > '9' {
		return 0, false
	}
	var v uint64
	for i := 0; i < len(payload); i++ {
		b := payload[i]
		if b < '0' || b > '9' {
			return 0, false
		}
		v = v*10 + uint64(b-'0')
	}
	return v, true
}

// IndexOf returns the first position of needle in haystack, -1 when absent.
func IndexOf(haystack []byte, needle []byte) int {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return -1
	}
outer:
	for i := 0; i <= len(haystack)-len(needle); i++ {
		for j := 0; j < len(needle); j++ {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

// IndexByteFrom returns the first position of b at or after start, -1 when absent.
func IndexByteFrom(haystack []byte, b byte, start int) int {
	for i := start; i < len(haystack); i++ {
		if haystack[i] == b {
			return i
		}
	}
	return -1
}

// AppendUint appends the decimal representation of v to dst.
func AppendUint(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(dst, tmp[i:]...)
}
