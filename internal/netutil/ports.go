// Package netutil holds the port-derivation scheme used by the telemetry
// daemon and its clients to agree on a loopback address without any
// discovery protocol.
package netutil

import (
	"math/big"

	"github.com/zeebo/blake3"
)

// Dynamic port range per RFC 6335 section 6. Ports derived from a key always
// land in [MinDynamicPort, MaxDynamicPort].
const (
	MinDynamicPort = 49152
	MaxDynamicPort = 65535
)

// DerivePort maps an arbitrary identity string to a port in the dynamic
// range. The mapping is deterministic across processes and machines: the
// BLAKE3 digest of the key is interpreted as a big-endian unsigned integer
// and reduced modulo the range width. Distinct daemon identities thus get
// well-spread ports with no coordination.
func DerivePort(key string) int {
	digest := blake3.Sum256([]byte(key))
	n := new(big.Int).SetBytes(digest[:])
	span := big.NewInt(MaxDynamicPort - MinDynamicPort)
	return int(n.Mod(n, span).Int64()) + MinDynamicPort
}

// ShortID returns the first 8 hex characters of the BLAKE3 digest of key.
// Used to build filesystem-safe daemon identities from repository paths.
func ShortID(key string) string {
	digest := blake3.Sum256([]byte(key))
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 0; i < 4; i++ {
		out[2*i] = hexdigits[digest[i]>>4]
		out[2*i+1] = hexdigits[digest[i]&0x0f]
	}
	return string(out)
}
