// Package generator supervises the external inference worker process and
// assembles/post-processes its answers, per SPEC_FULL.md §4.7, grounded on
// _examples/original_source/backend/generation_layer/generator.py's
// LlamaGenerator and the teacher's
// apps/edge-mcp/internal/executor/command.go subprocess-supervision style.
package generator

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const readyMessage = "READY"

// writeFrame writes a length-prefixed UTF-8 payload: a 4-byte little-endian
// unsigned length followed by the payload bytes.
func writeFrame(w io.Writer, payload string) error {
	length := uint32(len(payload))
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, length)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := io.WriteString(w, payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed UTF-8 payload.
func readFrame(r *bufio.Reader) (string, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", fmt.Errorf("failed to read frame header: %w", err)
	}
	length := binary.LittleEndian.Uint32(header)
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", fmt.Errorf("failed to read frame payload: %w", err)
	}
	return string(payload), nil
}
