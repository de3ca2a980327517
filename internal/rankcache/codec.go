package rankcache

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidPayload is returned when a cached payload cannot be decoded.
var ErrInvalidPayload = errors.New("invalid cache payload")

// Entries are stored in Redis as CBOR. Ranked lists are written once per
// cache window and read on every request, so the compact binary form is
// preferred over JSON.
//
// The encoder keeps nanosecond timestamps; the default CBOR time mode
// truncates to seconds, which would distort RemainingTTL.
var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func encodeEntry(entry *Entry) ([]byte, error) {
	data, err := encMode.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	if len(data) == 0 {
		return nil, ErrInvalidPayload
	}

	var entry Entry
	if err := cbor.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &entry, nil
}
