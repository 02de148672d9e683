package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
)

// CanonicalizeJSON re-encodes a JSON document per RFC 8785: object members sorted by key,
// no insignificant whitespace, numbers in ECMAScript form. Both peers sign these bytes.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	value, err := decodeSingle(input)
	if err != nil {
		return nil, err
	}
	var enc canonicalEncoder
	if err := enc.encode(value); err != nil {
		return nil, err
	}
	return enc.buf.Bytes(), nil
}

// CanonicalizeAny marshals v with encoding/json and canonicalizes the result.
// Raw JSON values are canonicalized as they are.
func CanonicalizeAny(v any) ([]byte, error) {
	var raw []byte
	switch value := v.(type) {
	case json.RawMessage:
		raw = value
	case []byte:
		raw = value
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return CanonicalizeJSON(raw)
}

func decodeSingle(input []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	switch _, err := dec.Token(); {
	case errors.Is(err, io.EOF):
		return value, nil
	case err != nil:
		return nil, fmt.Errorf("invalid JSON: %w", err)
	default:
		return nil, errors.New("invalid JSON: trailing data")
	}
}

type canonicalEncoder struct {
	buf bytes.Buffer
}

func (e *canonicalEncoder) encode(value any) error {
	switch v := value.(type) {
	case nil:
		e.buf.WriteString("null")
	case bool:
		e.buf.WriteString(strconv.FormatBool(v))
	case string:
		e.quote(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("invalid JSON number %q: %w", v, err)
		}
		s, err := formatNumber(f)
		if err != nil {
			return err
		}
		e.buf.WriteString(s)
	case []any:
		e.buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				e.buf.WriteByte(',')
			}
			if err := e.encode(item); err != nil {
				return err
			}
		}
		e.buf.WriteByte(']')
	case map[string]any:
		return e.object(v)
	default:
		return fmt.Errorf("unsupported JSON type %T", value)
	}
	return nil
}

// object sorts member names by UTF-16 code units, which matches byte order for
// everything outside the supplementary planes.
func (e *canonicalEncoder) object(m map[string]any) error {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	e.buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		e.quote(name)
		e.buf.WriteByte(':')
		if err := e.encode(m[name]); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

var shortEscapes = map[rune]string{
	'"':  `\"`,
	'\\': `\\`,
	'\b': `\b`,
	'\f': `\f`,
	'\n': `\n`,
	'\r': `\r`,
	'\t': `\t`,
}

func (e *canonicalEncoder) quote(s string) {
	e.buf.WriteByte('"')
	for _, r := range s {
		if esc, ok := shortEscapes[r]; ok {
			e.buf.WriteString(esc)
			continue
		}
		if r < 0x20 {
			fmt.Fprintf(&e.buf, `\u%04x`, r)
			continue
		}
		e.buf.WriteRune(r)
	}
	e.buf.WriteByte('"')
}

// formatNumber renders f the way ECMAScript Number.prototype.toString does:
// plain decimals for 1e-6 <= |f| < 1e21, exponent form otherwise.
func formatNumber(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", errors.New("invalid JSON number: not finite")
	}
	if f == 0 {
		return "0", nil
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "e")
	sign := exp[:1]
	exp = strings.TrimLeft(exp[1:], "0")
	if exp == "" {
		exp = "0"
	}
	return mantissa + "e" + sign + exp, nil
}
