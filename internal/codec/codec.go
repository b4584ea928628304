package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrDecode is returned (wrapped) for any connection code that cannot be
// turned back into a Descriptor.
var ErrDecode = errors.New("invalid connection code")

// Encode serializes d into its wire form: a two-character kind prefix followed
// by the base64 of the UTF-8 JSON {"type","sdp"} object.
func Encode(d Descriptor) (string, error) {
	prefix := d.Kind.Prefix()
	if prefix == "" {
		return "", fmt.Errorf("cannot encode descriptor of kind %q", d.Kind)
	}

	// encoding/json would replace invalid bytes with U+FFFD and break the
	// round trip, so refuse them up front.
	if !utf8.ValidString(d.SDP) {
		return "", errors.New("cannot encode descriptor: sdp is not valid UTF-8")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return "", fmt.Errorf("marshal descriptor: %w", err)
	}

	payload := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return prefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Decode parses a connection code. Prefixed codes are decoded strictly; a code
// without a recognised prefix is tried as a bare JSON descriptor, the form
// older builds exchanged.
func Decode(blob string) (Descriptor, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return Descriptor{}, fmt.Errorf("%w: empty input", ErrDecode)
	}
	if len(blob) < PrefixSize {
		return Descriptor{}, fmt.Errorf("%w: %d chars is shorter than the prefix", ErrDecode, len(blob))
	}

	switch blob[:PrefixSize] {
	case PrefixOffer:
		return decodePrefixed(KindOffer, blob[PrefixSize:])
	case PrefixAnswer:
		return decodePrefixed(KindAnswer, blob[PrefixSize:])
	}

	return decodeLegacy(blob)
}

// decodePrefixed handles the "O:"/"A:" form. Whitespace inside the payload is
// dropped since terminals and chat clients like to wrap long lines.
func decodePrefixed(want Kind, payload string) (Descriptor, error) {
	payload = strings.Join(strings.Fields(payload), "")
	if payload == "" {
		return Descriptor{}, fmt.Errorf("%w: missing payload after prefix", ErrDecode)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Accept codes whose "=" padding got trimmed in transit.
		var rawErr error
		if raw, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); rawErr != nil {
			return Descriptor{}, fmt.Errorf("%w: bad base64 payload: %v", ErrDecode, err)
		}
	}

	d, err := unmarshal(raw)
	if err != nil {
		return Descriptor{}, err
	}
	if d.Kind != want {
		return Descriptor{}, fmt.Errorf("%w: prefix says %s but payload is %s", ErrDecode, want, d.Kind)
	}
	return d, nil
}

// decodeLegacy handles a bare JSON descriptor with no prefix.
func decodeLegacy(blob string) (Descriptor, error) {
	if blob[0] != '{' {
		return Descriptor{}, fmt.Errorf("%w: unrecognised format", ErrDecode)
	}
	return unmarshal([]byte(blob))
}

// wireDescriptor distinguishes a missing "sdp" field from an empty one.
type wireDescriptor struct {
	Type Kind    `json:"type"`
	SDP  *string `json:"sdp"`
}

func unmarshal(raw []byte) (Descriptor, error) {
	var w wireDescriptor
	if err := json.Unmarshal(raw, &w); err != nil {
		return Descriptor{}, fmt.Errorf("%w: bad JSON: %v", ErrDecode, err)
	}
	if !w.Type.Valid() {
		return Descriptor{}, fmt.Errorf("%w: unknown type %q", ErrDecode, w.Type)
	}
	if w.SDP == nil {
		return Descriptor{}, fmt.Errorf("%w: missing sdp", ErrDecode)
	}
	return Descriptor{Kind: w.Type, SDP: *w.SDP}, nil
}
