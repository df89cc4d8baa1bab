package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Text form tokens:
//
//	{l}            prepend the total length of everything that follows
//	{u:N}          uint16
//	{i:N}          int32
//	{b:true|false|N}
//	{s:value}      length-prefixed string, value may contain escapes
//
// Literal runs between tokens are raw bytes. A byte is written as [N] when it
// is a control byte (0-13) or one of the delimiters '[', '{' and '}'.

// FormatText renders a header and body in text form.
func FormatText(header uint16, body []byte) string {
	return fmt.Sprintf("{l}{u:%d}%s", header, EscapeText(body))
}

func needsEscape(c byte) bool {
	return c <= 13 || c == '[' || c == '{' || c == '}'
}

// EscapeText renders bytes as a literal run.
func EscapeText(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data))
	for _, c := range data {
		if needsEscape(c) {
			sb.WriteByte('[')
			sb.WriteString(strconv.Itoa(int(c)))
			sb.WriteByte(']')
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// UnescapeText turns [N] sequences (N in 0-255) back into bytes. Anything
// that does not form a valid escape is kept literally.
func UnescapeText(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '[' {
			if end := strings.IndexByte(s[i+1:], ']'); end > 0 && end <= 3 {
				if n, err := strconv.ParseUint(s[i+1:i+1+end], 10, 8); err == nil {
					out = append(out, byte(n))
					i += end + 1
					continue
				}
			}
		}
		out = append(out, s[i])
	}
	return out
}

// ParseText converts text form into raw bytes.
func ParseText(text string) ([]byte, error) {
	b := NewBuilder()
	withLength := false

	for i := 0; i < len(text); {
		if text[i] != '{' {
			end := strings.IndexByte(text[i:], '{')
			if end < 0 {
				end = len(text) - i
			}
			b.WriteBytes(UnescapeText(text[i : i+end]))
			i += end
			continue
		}

		end := strings.IndexByte(text[i+1:], '}')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated token at offset %d", ErrMalformedText, i)
		}
		token := text[i+1 : i+1+end]
		i += end + 2

		if err := writeToken(b, token, &withLength); err != nil {
			return nil, err
		}
	}

	if !withLength {
		return b.Bytes(), nil
	}
	body := b.Bytes()
	return NewBuilder().WriteInt(int32(len(body))).WriteBytes(body).Bytes(), nil
}

func writeToken(b *Builder, token string, withLength *bool) error {
	if token == "" {
		return nil
	}
	if token == "l" {
		*withLength = true
		return nil
	}

	tag, value, ok := strings.Cut(token, ":")
	if !ok {
		b.WriteBytes(UnescapeText(token))
		return nil
	}

	switch tag {
	case "s":
		c := String(string(UnescapeText(value)))
		if err := c.Validate(); err != nil {
			return err
		}
		b.WriteChunk(c)
	case "u":
		n, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("%w: bad u value %q", ErrMalformedText, value)
		}
		b.WriteShort(uint16(n))
	case "i":
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: bad i value %q", ErrMalformedText, value)
		}
		b.WriteInt(int32(n))
	case "b":
		switch strings.ToLower(value) {
		case "true":
			b.WriteBool(true)
		case "false":
			b.WriteBool(false)
		default:
			n, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return fmt.Errorf("%w: bad b value %q", ErrMalformedText, value)
			}
			b.WriteBytes([]byte{byte(n)})
		}
	default:
		b.WriteBytes(UnescapeText(token))
	}
	return nil
}
