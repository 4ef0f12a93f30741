// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
)

func requireNative(caps ...contract.Capability) contract.CapabilityRequirements {
	return contract.Require(contract.MinNative, caps...)
}

func requireEmulated(caps ...contract.Capability) contract.CapabilityRequirements {
	return contract.Require(contract.MinEmulated, caps...)
}

func TestNegotiateAllNative(t *testing.T) {
	m := contract.CapabilityManifest{
		contract.CapStreaming: contract.Native(),
		contract.CapToolRead:  contract.Native(),
	}
	res := Negotiate(m, requireNative(contract.CapStreaming, contract.CapToolRead))

	assert.Len(t, res.Native, 2)
	assert.Empty(t, res.Emulatable)
	assert.Empty(t, res.Unsupported)
	assert.True(t, res.IsCompatible())
}

func TestNegotiateAllEmulatable(t *testing.T) {
	m := contract.CapabilityManifest{
		contract.CapStreaming: contract.Emulated(),
		contract.CapToolRead:  contract.Emulated(),
	}
	res := Negotiate(m, requireEmulated(contract.CapStreaming, contract.CapToolRead))

	assert.Empty(t, res.Native)
	assert.Len(t, res.Emulatable, 2)
	assert.True(t, res.IsCompatible())
}

func TestNegotiateEmulatedBelowNativeMinimum(t *testing.T) {
	m := contract.CapabilityManifest{
		contract.CapStreaming: contract.Emulated(),
	}
	res := Negotiate(m, requireNative(contract.CapStreaming))

	assert.Empty(t, res.Native)
	assert.Empty(t, res.Emulatable)
	assert.Equal(t, []contract.Capability{contract.CapStreaming}, res.Unsupported)
	assert.False(t, res.IsCompatible())
}

func TestNegotiateRestrictedBelowNativeMinimum(t *testing.T) {
	m := contract.CapabilityManifest{
		contract.CapToolBash: contract.Restricted("sandbox only"),
	}
	res := Negotiate(m, requireNative(contract.CapToolBash))

	assert.Equal(t, []contract.Capability{contract.CapToolBash}, res.Unsupported)
	assert.False(t, res.IsCompatible())
}

func TestNegotiateAllUnsupported(t *testing.T) {
	res := Negotiate(contract.CapabilityManifest{}, requireNative(contract.CapStreaming, contract.CapToolRead))

	assert.Empty(t, res.Native)
	assert.Empty(t, res.Emulatable)
	assert.Len(t, res.Unsupported, 2)
	assert.False(t, res.IsCompatible())
}

func TestNegotiateMixed(t *testing.T) {
	m := contract.CapabilityManifest{
		contract.CapStreaming: contract.Native(),
		contract.CapToolRead:  contract.Emulated(),
	}
	reqs := contract.CapabilityRequirements{Required: []contract.CapabilityRequirement{
		{Capability: contract.CapStreaming, MinSupport: contract.MinNative},
		{Capability: contract.CapToolRead, MinSupport: contract.MinEmulated},
		{Capability: contract.CapToolWrite, MinSupport: contract.MinEmulated},
	}}
	res := Negotiate(m, reqs)

	assert.Equal(t, []contract.Capability{contract.CapStreaming}, res.Native)
	assert.Equal(t, []contract.Capability{contract.CapToolRead}, res.Emulatable)
	assert.Equal(t, []contract.Capability{contract.CapToolWrite}, res.Unsupported)
	assert.False(t, res.IsCompatible())
}

func TestNegotiateExplicitUnsupported(t *testing.T) {
	m := contract.CapabilityManifest{
		contract.CapToolBash: contract.Emulated(),
		contract.CapToolEdit: contract.Unsupported(),
	}
	res := Negotiate(m, requireEmulated(contract.CapToolBash, contract.CapToolEdit))

	assert.Equal(t, []contract.Capability{contract.CapToolBash}, res.Emulatable)
	assert.Equal(t, []contract.Capability{contract.CapToolEdit}, res.Unsupported)
	assert.False(t, res.IsCompatible())
}

func TestNegotiateEmptyRequirements(t *testing.T) {
	m := contract.CapabilityManifest{contract.CapStreaming: contract.Native()}
	res := Negotiate(m, contract.CapabilityRequirements{})

	assert.True(t, res.IsCompatible())
	assert.Equal(t, 0, res.Total())
}

func TestNegotiateRestrictedTreatedAsEmulatable(t *testing.T) {
	m := contract.CapabilityManifest{
		contract.CapToolBash: contract.Restricted("sandbox only"),
	}
	res := Negotiate(m, requireEmulated(contract.CapToolBash))

	assert.Equal(t, []contract.Capability{contract.CapToolBash}, res.Emulatable)
	assert.True(t, res.IsCompatible())
}

func TestNegotiateCompatibleMatchesPerRequirementSatisfaction(t *testing.T) {
	m := contract.CapabilityManifest{
		contract.CapStreaming: contract.Native(),
		contract.CapToolRead:  contract.Emulated(),
		contract.CapToolBash:  contract.Restricted("no network"),
	}
	cases := []struct {
		name string
		reqs contract.CapabilityRequirements
	}{
		{"all at emulated", requireEmulated(contract.CapStreaming, contract.CapToolRead, contract.CapToolBash)},
		{"all at native", requireNative(contract.CapStreaming, contract.CapToolRead, contract.CapToolBash)},
		{"missing capability", requireEmulated(contract.CapLogprobs)},
		{"mixed minimums", contract.CapabilityRequirements{Required: []contract.CapabilityRequirement{
			{Capability: contract.CapStreaming, MinSupport: contract.MinNative},
			{Capability: contract.CapToolBash, MinSupport: contract.MinEmulated},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Negotiate(m, tc.reqs)
			want := true
			for _, req := range tc.reqs.Required {
				if !m[req.Capability].Satisfies(req.MinSupport) {
					want = false
				}
			}
			assert.Equal(t, want, res.IsCompatible())
		})
	}
}

func TestCheckRestrictedCarriesReason(t *testing.T) {
	m := contract.CapabilityManifest{
		contract.CapToolBash: contract.Restricted("no network"),
	}
	f := Check(m, contract.CapabilityRequirement{Capability: contract.CapToolBash, MinSupport: contract.MinEmulated})

	assert.Equal(t, LevelEmulated, f.Level)
	assert.Equal(t, "restricted: no network", f.Strategy)
}

func TestCheckAbsentCapability(t *testing.T) {
	f := Check(contract.CapabilityManifest{}, contract.CapabilityRequirement{Capability: contract.CapLogprobs, MinSupport: contract.MinEmulated})
	assert.Equal(t, LevelUnsupported, f.Level)
}

func TestCheckDefaultsMinimumToEmulated(t *testing.T) {
	m := contract.CapabilityManifest{contract.CapToolRead: contract.Emulated()}
	f := Check(m, contract.CapabilityRequirement{Capability: contract.CapToolRead})

	assert.Equal(t, LevelEmulated, f.Level)
}

func TestGenerateReport(t *testing.T) {
	m := contract.CapabilityManifest{
		contract.CapStreaming: contract.Native(),
		contract.CapToolRead:  contract.Emulated(),
	}
	res := Negotiate(m, requireEmulated(contract.CapStreaming, contract.CapToolRead, contract.CapToolWrite))
	rep := GenerateReport(res)

	require.False(t, rep.Compatible)
	assert.Equal(t, 1, rep.NativeCount)
	assert.Equal(t, 1, rep.EmulatedCount)
	assert.Equal(t, 1, rep.UnsupportedCount)
	assert.Contains(t, rep.Summary, "incompatible")
	assert.Len(t, rep.Details, 3)
}

func TestGenerateReportCompatible(t *testing.T) {
	m := contract.CapabilityManifest{contract.CapStreaming: contract.Native()}
	rep := GenerateReport(Negotiate(m, requireNative(contract.CapStreaming)))

	assert.True(t, rep.Compatible)
	assert.Contains(t, rep.Summary, "fully compatible")
}
