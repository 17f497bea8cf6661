package sqlstore

import (
	"encoding/binary"
	"fmt"
)

// encodeCounter stores a charge counter as an 8 byte big-endian blob. sqlite
// integers are signed and cannot hold the upper half of the uint64 range.
func encodeCounter(n uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, n)
}

func decodeCounter(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("malformed charge counter of %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
