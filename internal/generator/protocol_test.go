package generator

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrame_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, "hello world"))

	payload, err := readFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "hello world", payload)
}

func TestWriteReadFrame_EmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, ""))

	payload, err := readFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "", payload)
}

func TestWriteReadFrame_MultipleFramesInSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, "first"))
	require.NoError(t, writeFrame(&buf, "second"))

	reader := bufio.NewReader(&buf)
	first, err := readFrame(reader)
	require.NoError(t, err)
	assert.Equal(t, "first", first)

	second, err := readFrame(reader)
	require.NoError(t, err)
	assert.Equal(t, "second", second)
}

func TestReadFrame_TruncatedHeaderErrors(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x01, 0x00})
	_, err := readFrame(bufio.NewReader(buf))
	require.Error(t, err)
}

func TestReadFrame_TruncatedPayloadErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, "hello"))
	truncated := bytes.NewBuffer(buf.Bytes()[:6])
	_, err := readFrame(bufio.NewReader(truncated))
	require.Error(t, err)
}
