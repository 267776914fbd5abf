package rcon

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Layout(t *testing.T) {
	b := Encode(Frame{ID: 7, Type: TypeExecCommand, Body: "list"})

	require.Len(t, b, 4+10+4)
	assert.Equal(t, uint32(14), binary.LittleEndian.Uint32(b[0:4]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(b[4:8]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(b[8:12]))
	assert.Equal(t, "list", string(b[12:16]))
	assert.Equal(t, []byte{0, 0}, b[16:])
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	frames := []Frame{
		{ID: 1, Type: TypeAuth, Body: "hunter2"},
		{ID: -1, Type: TypeAuthResponse},
		{ID: 42, Type: TypeResponseValue, Body: strings.Repeat("x", 4096)},
		{ID: 2147483647, Type: TypeExecCommand, Body: "say héllo"},
	}
	for _, want := range frames {
		dec := NewDecoder(bytes.NewReader(Encode(want)), 0)
		got, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDecoder_SplitAcrossReads(t *testing.T) {
	want := Frame{ID: 3, Type: TypeResponseValue, Body: "There are 0 of a max of 20 players online"}
	dec := NewDecoder(iotest.OneByteReader(bytes.NewReader(Encode(want))), 0)

	got, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecoder_SeveralFramesInOneRead(t *testing.T) {
	a := Frame{ID: 5, Type: TypeResponseValue, Body: "first"}
	b := Frame{ID: 5, Type: TypeResponseValue, Body: "second"}
	c := Frame{ID: 6, Type: TypeResponseValue}
	stream := append(append(Encode(a), Encode(b)...), Encode(c)...)
	dec := NewDecoder(bytes.NewReader(stream), 0)

	for _, want := range []Frame{a, b, c} {
		got, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Zero(t, dec.Buffered())

	_, err := dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_RejectsOversizedFrame(t *testing.T) {
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, uint32(DefaultMaxFrameLength+1))
	dec := NewDecoder(bytes.NewReader(hdr), 0)

	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecoder_AcceptsMultiByteFragment(t *testing.T) {
	// 4096 characters of colour codes; the section sign is two bytes in UTF-8
	body := strings.Repeat("§a", 2048)
	require.Greater(t, len(body), 4096)
	b := Encode(Frame{ID: 7, Type: TypeResponseValue, Body: body})

	f, err := NewDecoder(bytes.NewReader(b), 0).Next()
	require.NoError(t, err)
	assert.Equal(t, body, f.Body)
}

func TestDecoder_RejectsUndersizedAndNegativeLength(t *testing.T) {
	for _, length := range []int32{0, 9, -5} {
		hdr := make([]byte, 4)
		binary.LittleEndian.PutUint32(hdr, uint32(length))
		_, err := NewDecoder(bytes.NewReader(hdr), 0).Next()
		assert.ErrorIs(t, err, ErrProtocol, "length %d", length)
	}
}

func TestDecoder_RejectsMissingTerminator(t *testing.T) {
	b := Encode(Frame{ID: 1, Type: TypeResponseValue, Body: "ok"})
	b[len(b)-1] = 'x'

	_, err := NewDecoder(bytes.NewReader(b), 0).Next()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecoder_CustomLimit(t *testing.T) {
	b := Encode(Frame{ID: 1, Type: TypeResponseValue, Body: strings.Repeat("a", 100)})

	_, err := NewDecoder(bytes.NewReader(b), 50).Next()
	assert.ErrorIs(t, err, ErrProtocol)

	f, err := NewDecoder(bytes.NewReader(b), 200).Next()
	require.NoError(t, err)
	assert.Len(t, f.Body, 100)
}
