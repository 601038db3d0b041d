package types

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Author identifies the participant that created an edit.
type Author string

// HashedVersion pins an exact point in a wavelet's history: the number of
// operations applied so far plus a hash chained over every applied delta.
type HashedVersion struct {
	Version int64  `json:"version"`
	Hash    uint64 `json:"hash"`
}

func (v HashedVersion) String() string {
	return fmt.Sprintf("%d:%016x", v.Version, v.Hash)
}

// Before reports whether v precedes other in version order.
func (v HashedVersion) Before(other HashedVersion) bool {
	return v.Version < other.Version
}

// InitialVersion is the signature of an empty wavelet with the given name.
func InitialVersion(wavelet string) HashedVersion {
	return HashedVersion{Version: 0, Hash: xxhash.Sum64String(wavelet)}
}

// NextVersion chains prev with the encoded payload of a delta of ops operations.
func NextVersion(prev HashedVersion, ops int, payload []byte) HashedVersion {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], prev.Hash)

	d := xxhash.New()
	d.Write(buf[:])
	d.Write(payload)
	return HashedVersion{Version: prev.Version + int64(ops), Hash: d.Sum64()}
}
