// Package version provides the wire protocol version and its parsing and
// comparison helpers.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the wire protocol version implemented by this module.
const Current = "1.0"

// Build identifies the binary. Release builds set it with -ldflags.
var Build = "dev"

// ProtocolVersion is a parsed "major.minor" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok || strings.Contains(minor, ".") {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	maj, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}
	mnr, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return ProtocolVersion{Major: uint16(maj), Minor: uint16(mnr)}, nil
}

// MustCurrent returns Current parsed.
func MustCurrent() ProtocolVersion {
	v, err := Parse(Current)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if other has the same major version.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Banner returns the version line printed by the binaries.
func Banner(program string) string {
	return fmt.Sprintf("%s %s (protocol %s)", program, Build, Current)
}
