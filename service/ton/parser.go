package ton

import (
	"encoding/base64"
	"encoding/binary"
	"unicode/utf8"
)

// TON message body conventions. A structured body starts with a 32-bit
// big-endian opcode; opcode zero marks a plain text comment, anything else a
// contract call.
const textCommentOpcode = uint32(0)

// decodeBody decodes a base64 message body as delivered by the HTTP APIs.
// Returns nil, false when the payload is not valid base64 in either standard
// or URL-safe alphabet.
func decodeBody(s string) ([]byte, bool) {
	if s == "" {
		return nil, true
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, true
	}
	return nil, false
}

// bodyOpcode extracts the leading 32-bit opcode from a structured body.
// Returns nil for bodies too short to carry one and for text comments.
func bodyOpcode(body []byte) *uint32 {
	if len(body) < 4 {
		return nil
	}
	op := binary.BigEndian.Uint32(body[:4])
	if op == textCommentOpcode {
		return nil
	}
	return &op
}

// commentBody wraps a plain text comment in the on-chain body layout
// (zero opcode prefix followed by UTF-8 text).
func commentBody(text string) []byte {
	body := make([]byte, 4+len(text))
	copy(body[4:], text)
	return body
}

// ExtractComment returns the human-readable comment carried by a message
// body, if any. A body is a comment when it starts with the zero opcode and
// the remainder is valid UTF-8, or when the whole body is already plain
// UTF-8 text (some providers hand the comment through pre-decoded). The
// second return is false when the body is present but cannot be read as
// text, which downstream classification treats as an undecodable body.
func ExtractComment(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", true
	}
	if len(body) >= 4 && binary.BigEndian.Uint32(body[:4]) == textCommentOpcode {
		rest := body[4:]
		if utf8.Valid(rest) {
			return string(rest), true
		}
		return "", false
	}
	if utf8.Valid(body) && printable(body) {
		return string(body), true
	}
	return "", false
}

// printable reports whether the bytes look like text rather than a binary
// cell that happens to be UTF-8 clean.
func printable(b []byte) bool {
	for _, c := range b {
		if c < 0x09 {
			return false
		}
	}
	return true
}

// parseUint32Opcode parses provider opcode representations: tonapi sends
// "0x0f8a7ea5" style hex strings.
func parseUint32Opcode(s string) *uint32 {
	if len(s) < 3 || (s[:2] != "0x" && s[:2] != "0X") {
		return nil
	}
	var op uint32
	for _, c := range s[2:] {
		var d uint32
		switch {
		case c >= '0' && c <= '9':
			d = uint32(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint32(c-'A') + 10
		default:
			return nil
		}
		op = op<<4 | d
	}
	if op == textCommentOpcode {
		return nil
	}
	return &op
}
