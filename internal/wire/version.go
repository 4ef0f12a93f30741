// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
)

// ProtocolVersion is a parsed "abp/vMAJOR.MINOR" version string.
type ProtocolVersion struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
}

// ParseVersion parses a version string of the form "abp/vMAJOR.MINOR".
func ParseVersion(s string) (ProtocolVersion, error) {
	rest, ok := strings.CutPrefix(s, "abp/v")
	if !ok {
		return ProtocolVersion{}, fmt.Errorf("invalid version format %q (expected \"abp/vMAJOR.MINOR\")", s)
	}
	majorStr, minorStr, ok := strings.Cut(rest, ".")
	if !ok {
		return ProtocolVersion{}, fmt.Errorf("invalid version format %q (expected \"abp/vMAJOR.MINOR\")", s)
	}
	major, err := strconv.ParseUint(majorStr, 10, 32)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid major version in %q", s)
	}
	minor, err := strconv.ParseUint(minorStr, 10, 32)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid minor version in %q", s)
	}
	return ProtocolVersion{Major: uint32(major), Minor: uint32(minor)}, nil
}

// CurrentVersion returns the protocol version this build speaks.
func CurrentVersion() ProtocolVersion {
	v, err := ParseVersion(contract.Version)
	if err != nil {
		panic("contract version must parse: " + err.Error())
	}
	return v
}

// String formats the version as "abp/vMAJOR.MINOR".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("abp/v%d.%d", v.Major, v.Minor)
}

// Compatible reports whether two versions interoperate. Versions are
// compatible when they share a major component.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// NegotiateVersion picks the highest version both sides speak: the
// lower of the two minors within a shared major. An error means the
// majors differ and the peers cannot interoperate.
func NegotiateVersion(local, remote ProtocolVersion) (ProtocolVersion, error) {
	if !local.Compatible(remote) {
		return ProtocolVersion{}, fmt.Errorf("incompatible protocol versions: local %s, remote %s", local, remote)
	}
	negotiated := local
	if remote.Minor < local.Minor {
		negotiated.Minor = remote.Minor
	}
	return negotiated, nil
}
