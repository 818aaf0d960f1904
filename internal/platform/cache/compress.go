package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
)

// compressThreshold is the payload size in bytes above which values are
// gzip-compressed before hitting the backend. Small payloads gain nothing
// from compression and would only pay the CPU cost.
const compressThreshold = 1024

// compressValue gzips and base64-encodes a payload so it stays a valid
// string inside the JSON entry envelope.
func compressValue(value string) (string, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(value)); err != nil {
		return "", fmt.Errorf("compress value: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("compress value: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// decompressValue reverses compressValue.
func decompressValue(value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("decode compressed value: %w", err)
	}
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decompress value: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decompress value: %w", err)
	}
	return string(out), nil
}
