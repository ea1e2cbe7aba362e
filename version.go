package sigberry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blockberries/sigberry/pkg/protocol"
	libp2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
)

// ProtocolVersion is the semantic version carried as the last path
// element of a signaling protocol identifier.
type ProtocolVersion struct {
	Major uint8
	Minor uint8
	Patch uint8
}

// CurrentVersion returns the version of the signaling protocol this
// package speaks.
func CurrentVersion() ProtocolVersion {
	v, _ := VersionFromProtocolID(protocol.SignalingProtocolID)
	return v
}

// VersionFromProtocolID extracts the version from a protocol identifier
// such as "/webrtc-signaling/0.0.1".
func VersionFromProtocolID(id libp2pprotocol.ID) (ProtocolVersion, error) {
	s := string(id)
	i := strings.LastIndexByte(s, '/')
	if i < 0 || i == len(s)-1 {
		return ProtocolVersion{}, fmt.Errorf("protocol id %q has no version", s)
	}

	parts := strings.Split(s[i+1:], ".")
	if len(parts) != 3 {
		return ProtocolVersion{}, fmt.Errorf("protocol id %q: version is not major.minor.patch", s)
	}
	var nums [3]uint8
	for j, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return ProtocolVersion{}, fmt.Errorf("protocol id %q: %w", s, err)
		}
		nums[j] = uint8(n)
	}
	return ProtocolVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String returns the version as "major.minor.patch".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
