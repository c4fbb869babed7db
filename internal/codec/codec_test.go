package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeNoneIsIdentity(t *testing.T) {
	res := Encode("  hello   world ", ModeNone)
	assert.Equal(t, "  hello   world ", res.StoredValue)
	assert.Equal(t, ModeNone, res.CodecUsed)
	assert.False(t, res.Applied)
	assert.True(t, res.Lossless)
	assert.Equal(t, 0.0, res.GainPct)
}

func TestEncodeWhitespace(t *testing.T) {
	res := Encode("  a \t b\n\n c  ", ModeWhitespace)
	assert.Equal(t, "a b c", res.StoredValue)
	assert.Equal(t, ModeWhitespace, res.CodecUsed)
	assert.True(t, res.Applied)
	assert.False(t, res.Lossless)
	assert.Greater(t, res.GainPct, 0.0)
}

func TestEncodeJSONSortsKeysAndCompacts(t *testing.T) {
	res := Encode("{ \"b\": 1,\n  \"a\": [1, 2] }", ModeJSON)
	assert.Equal(t, `{"a":[1,2],"b":1}`, res.StoredValue)
	assert.Equal(t, ModeJSON, res.CodecUsed)
}

func TestEncodeJSONPassThroughOnParseFailure(t *testing.T) {
	res := Encode("not json at all", ModeJSON)
	assert.Equal(t, "not json at all", res.StoredValue)
	assert.Equal(t, ModeNone, res.CodecUsed)
	assert.False(t, res.Applied)
}

func TestEncodeJSONPreservesLargeNumbers(t *testing.T) {
	res := Encode(`{"n": 12345678901234567890}`, ModeJSON)
	assert.Equal(t, `{"n":12345678901234567890}`, res.StoredValue)
}

func TestEncodeAutoPicksShortest(t *testing.T) {
	// Whitespace collapse wins over raw and (invalid) JSON.
	res := Encode("a      b", ModeAuto)
	assert.Equal(t, "a b", res.StoredValue)
	assert.Equal(t, ModeWhitespace, res.CodecUsed)

	// Already-minimal input ties with every candidate; raw wins.
	res = Encode("abc", ModeAuto)
	assert.Equal(t, "abc", res.StoredValue)
	assert.Equal(t, ModeNone, res.CodecUsed)
}

func TestEncodeLosslessSkipsShortPayloads(t *testing.T) {
	res := Encode("tiny", ModeLosslessAuto)
	assert.Equal(t, "tiny", res.StoredValue)
	assert.Equal(t, ModeNone, res.CodecUsed)
	assert.True(t, res.Lossless)
}

func TestEncodeLosslessRoundTrip(t *testing.T) {
	payload := strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)

	res := Encode(payload, ModeLosslessAuto)
	require.Equal(t, ModeLosslessAuto, res.CodecUsed)
	require.True(t, res.Applied)
	assert.True(t, strings.HasPrefix(res.StoredValue, "caep+gz:"))
	assert.Less(t, len(res.StoredValue), len(payload))
	assert.Greater(t, res.GainPct, 0.0)

	dec := Decode(res.StoredValue)
	assert.Equal(t, payload, dec.Value)
	assert.Equal(t, ModeLosslessAuto, dec.Codec)
	assert.True(t, dec.IntegrityOK)
}

func TestDecodeUntaggedIsIdentity(t *testing.T) {
	dec := Decode("plain value")
	assert.Equal(t, "plain value", dec.Value)
	assert.Equal(t, ModeNone, dec.Codec)
	assert.True(t, dec.IntegrityOK)
}

func TestDecodeCorruptedPayload(t *testing.T) {
	payload := strings.Repeat("compressible content here ", 40)
	res := Encode(payload, ModeLosslessAuto)
	require.Equal(t, ModeLosslessAuto, res.CodecUsed)

	// Flip the digest so the integrity check fails.
	corrupted := "caep+gz:0000000000000000:" + res.StoredValue[len("caep+gz:")+17:]
	dec := Decode(corrupted)
	assert.False(t, dec.IntegrityOK)

	// Garbage after the tag is reported, not panicked on.
	dec = Decode("caep+gz:0123456789abcdef:!!!not-base64!!!")
	assert.False(t, dec.IntegrityOK)
}

func TestHashHex(t *testing.T) {
	h := HashHex("hello")
	assert.Len(t, h, 64)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h)
}

func TestBlobRefRoundTrip(t *testing.T) {
	hash := HashHex("payload")
	env := MakeBlobRef(hash, 7)

	ref := ParseBlobRef(env)
	require.NotNil(t, ref)
	assert.Equal(t, BlobRefType, ref.Type)
	assert.Equal(t, hash, ref.Hash)
	assert.Equal(t, 7, ref.DeclaredChars)
}

func TestParseBlobRefRejectsNonEnvelopes(t *testing.T) {
	assert.Nil(t, ParseBlobRef("just some text"))
	assert.Nil(t, ParseBlobRef(`{"type":"other","hash":"abc"}`))
	assert.Nil(t, ParseBlobRef(`{"type":"caep-blob-ref","hash":"notahash","declared_chars":1}`))
	assert.Nil(t, ParseBlobRef(""))
}

func TestGainPctRounding(t *testing.T) {
	assert.Equal(t, 33.33, gainPct(3, 2))
	assert.Equal(t, -100.0, gainPct(1, 2))
	assert.Equal(t, 0.0, gainPct(0, 0))
}
