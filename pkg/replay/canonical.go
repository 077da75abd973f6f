// Package replay makes attacker decisions reproducible: every decision
// is keyed by a canonical hash of the episode position and stored in
// SQLite, so a recorded episode replays bit-for-bit without touching the
// policy backend.
package replay

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf16"
)

// CanonicalJSON encodes v with sorted object keys, no whitespace, and
// non-ASCII runes escaped as \uXXXX. Cache keys hash this form, so its
// byte output must never change between releases.
func CanonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return "", fmt.Errorf("failed to decode value: %w", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		writeCanonicalString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical type %T", v)
	}
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			switch {
			case r < 0x20:
				buf.WriteString(`\u`)
				buf.WriteString(fmt.Sprintf("%04x", r))
			case r < 0x80:
				buf.WriteRune(r)
			case r <= 0xFFFF:
				buf.WriteString(`\u`)
				buf.WriteString(fmt.Sprintf("%04x", r))
			default:
				hi, lo := utf16.EncodeRune(r)
				buf.WriteString(`\u`)
				buf.WriteString(fmt.Sprintf("%04x", hi))
				buf.WriteString(`\u`)
				buf.WriteString(fmt.Sprintf("%04x", lo))
			}
		}
	}
	buf.WriteByte('"')
}

// HashAction hashes the defender action into a cache key component.
func HashAction(action any) (string, error) {
	s, err := CanonicalJSON(action)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:]), nil
}

// HashContext hashes the attacker policy context, or returns the
// sentinel "none" when there is no context. Pre-context cache rows used
// the same sentinel, so old recordings stay addressable.
func HashContext(ctx map[string]any) (string, error) {
	if len(ctx) == 0 {
		return "none", nil
	}
	return HashAction(ctx)
}
