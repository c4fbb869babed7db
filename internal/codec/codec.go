// Package codec implements the payload codecs applied to message content and
// protocol blobs before hashing and storage: whitespace normalization, JSON
// minimization, size-adaptive selection, and a tagged lossless compressor.
package codec

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"strings"
)

// Mode identifies a payload codec.
type Mode string

const (
	ModeNone         Mode = "none"
	ModeWhitespace   Mode = "whitespace"
	ModeJSON         Mode = "json"
	ModeAuto         Mode = "auto"
	ModeLosslessAuto Mode = "lossless_auto"
)

// losslessPrefix tags a stored value as compressed. The wire format is
// caep+gz:<sha256[:16] of the raw payload>:<base64(gzip(raw))>.
const losslessPrefix = "caep+gz:"

// rawDigestChars is the length of the integrity digest carried in the tag.
const rawDigestChars = 16

// Result reports how a payload was encoded.
type Result struct {
	StoredValue string  `json:"stored_value"`
	CodecUsed   Mode    `json:"codec_used"`
	Applied     bool    `json:"applied"`
	Lossless    bool    `json:"lossless"`
	GainPct     float64 `json:"gain_pct"`
}

// DecodeResult reports a decoded stored value.
type DecodeResult struct {
	Value       string `json:"value"`
	Codec       Mode   `json:"codec"`
	IntegrityOK bool   `json:"integrity_ok"`
}

// ValidMode reports whether s names a known codec mode.
func ValidMode(s string) bool {
	switch Mode(s) {
	case ModeNone, ModeWhitespace, ModeJSON, ModeAuto, ModeLosslessAuto:
		return true
	}
	return false
}

// HashHex returns the lowercase hex SHA-256 digest of value.
// Blob hashes are computed over the stored (possibly encoded) bytes so that
// identical codec outputs dedupe.
func HashHex(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Encode applies the requested codec to payload.
func Encode(payload string, mode Mode) Result {
	switch mode {
	case ModeWhitespace:
		return result(payload, collapseWhitespace(payload), ModeWhitespace, false)
	case ModeJSON:
		compacted, ok := minifyJSON(payload)
		if !ok {
			return result(payload, payload, ModeNone, false)
		}
		return result(payload, compacted, ModeJSON, false)
	case ModeAuto:
		return encodeAuto(payload)
	case ModeLosslessAuto:
		return encodeLossless(payload)
	default:
		return result(payload, payload, ModeNone, true)
	}
}

// Decode reverses a stored value. Values without the lossless tag are returned
// unchanged; integrity_ok is always reported.
func Decode(stored string) DecodeResult {
	if !strings.HasPrefix(stored, losslessPrefix) {
		return DecodeResult{Value: stored, Codec: ModeNone, IntegrityOK: true}
	}

	rest := stored[len(losslessPrefix):]
	sep := strings.IndexByte(rest, ':')
	if sep != rawDigestChars {
		return DecodeResult{Codec: ModeLosslessAuto, IntegrityOK: false}
	}
	wantDigest := rest[:sep]

	compressed, err := base64.StdEncoding.DecodeString(rest[sep+1:])
	if err != nil {
		return DecodeResult{Codec: ModeLosslessAuto, IntegrityOK: false}
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return DecodeResult{Codec: ModeLosslessAuto, IntegrityOK: false}
	}
	raw, err := io.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return DecodeResult{Codec: ModeLosslessAuto, IntegrityOK: false}
	}

	value := string(raw)
	return DecodeResult{
		Value:       value,
		Codec:       ModeLosslessAuto,
		IntegrityOK: HashHex(value)[:rawDigestChars] == wantDigest,
	}
}

// encodeAuto stores the shortest of {raw, json, whitespace}.
// Ties prefer raw, then json, then whitespace.
func encodeAuto(payload string) Result {
	best, mode := payload, ModeNone
	if compacted, ok := minifyJSON(payload); ok && len(compacted) < len(best) {
		best, mode = compacted, ModeJSON
	}
	if collapsed := collapseWhitespace(payload); len(collapsed) < len(best) {
		best, mode = collapsed, ModeWhitespace
	}
	return result(payload, best, mode, mode == ModeNone)
}

// encodeLossless gzips and base64-wraps the payload, tagging it with a digest
// of the raw bytes. The encoded form is used only when strictly shorter than
// the input; short or incompressible payloads stay raw.
func encodeLossless(payload string) Result {
	var buf bytes.Buffer
	zw, _ := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if _, err := zw.Write([]byte(payload)); err != nil {
		return result(payload, payload, ModeNone, true)
	}
	if err := zw.Close(); err != nil {
		return result(payload, payload, ModeNone, true)
	}

	encoded := losslessPrefix + HashHex(payload)[:rawDigestChars] + ":" +
		base64.StdEncoding.EncodeToString(buf.Bytes())
	if len(encoded) >= len(payload) {
		return result(payload, payload, ModeNone, true)
	}
	return result(payload, encoded, ModeLosslessAuto, true)
}

func result(in, out string, used Mode, lossless bool) Result {
	return Result{
		StoredValue: out,
		CodecUsed:   used,
		Applied:     used != ModeNone,
		Lossless:    lossless,
		GainPct:     gainPct(len(in), len(out)),
	}
}

// gainPct is 100*(in-out)/in rounded to two decimals.
func gainPct(in, out int) float64 {
	if in == 0 {
		return 0
	}
	return math.Round(100*float64(in-out)/float64(in)*100) / 100
}

// collapseWhitespace collapses runs of whitespace to a single space and trims ends.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// minifyJSON re-serializes a JSON document with sorted keys and no extraneous
// whitespace. Returns ok=false when the payload is not valid JSON.
func minifyJSON(s string) (string, bool) {
	var doc any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return "", false
	}
	// Reject trailing garbage after the first document.
	if dec.More() {
		return "", false
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", false
	}
	return string(out), true
}
