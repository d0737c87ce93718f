// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink

package gaskit

// ParseDecimalField reads a fixed-width ASCII decimal field from a reply
// buffer. It reports false when the field extends past the buffer or when any
// character is not a digit; partial or padded numbers are never accepted.
func ParseDecimalField(buf []byte, offset, width int) (uint32, bool) {
	if offset < 0 || width <= 0 || offset+width > len(buf) {
		return 0, false
	}
	var v uint32
	for _, b := range buf[offset : offset+width] {
		if b < '0' || b > '9' {
			return 0, false
		}
		v = v*10 + uint32(b-'0')
	}
	return v, true
}

// StatusCode extracts the two-digit status code from a status-bearing reply.
// The empty string is returned when the buffer is too short.
func StatusCode(buf []byte) string {
	if len(buf) < StatusCodeOffset+2 {
		return ""
	}
	return string(buf[StatusCodeOffset : StatusCodeOffset+2])
}
