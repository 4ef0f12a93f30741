// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package contract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReceipt(t *testing.T) Receipt {
	t.Helper()
	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return Receipt{
		Meta: RunMetadata{
			RunID:       "run-0001",
			WorkOrderID: "wo-0001",
			StartedAt:   started,
			FinishedAt:  started.Add(42 * time.Second),
			Duration:    42000,
		},
		Backend: BackendIdentity{ID: "claude-cli", Dialect: "claude", Version: "1.2.3"},
		Capabilities: CapabilityManifest{
			CapStreaming: Native(),
			CapToolBash:  Restricted("sandbox only"),
		},
		Mode: ModePassthrough,
		Usage: UsageNormalized{
			InputTokens:  1200,
			OutputTokens: 340,
			Turns:        3,
		},
		Trace: []AgentEvent{
			{TS: started, Type: EventRunStarted, Message: "begin"},
			{TS: started.Add(time.Second), Type: EventAssistantMessage, Text: "done"},
		},
		Outcome: OutcomeComplete,
	}
}

func TestReceiptHashDeterministic(t *testing.T) {
	r := sampleReceipt(t)

	h1, err := ReceiptHash(r)
	require.NoError(t, err)
	h2, err := ReceiptHash(r)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestReceiptHashIgnoresExistingHash(t *testing.T) {
	r := sampleReceipt(t)
	plain, err := ReceiptHash(r)
	require.NoError(t, err)

	stale := "deadbeef"
	r.ReceiptSHA256 = &stale
	withStale, err := ReceiptHash(r)
	require.NoError(t, err)

	assert.Equal(t, plain, withStale)
}

func TestWithHashSealsReceipt(t *testing.T) {
	sealed, err := WithHash(sampleReceipt(t))
	require.NoError(t, err)
	require.NotNil(t, sealed.ReceiptSHA256)

	ok, err := VerifyHash(sealed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyHashDetectsMutation(t *testing.T) {
	sealed, err := WithHash(sampleReceipt(t))
	require.NoError(t, err)

	sealed.Outcome = OutcomeFailed
	ok, err := VerifyHash(sealed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyHashUnsealed(t *testing.T) {
	ok, err := VerifyHash(sampleReceipt(t))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashChangesWithContent(t *testing.T) {
	a := sampleReceipt(t)
	b := sampleReceipt(t)
	b.Usage.OutputTokens++

	ha, err := ReceiptHash(a)
	require.NoError(t, err)
	hb, err := ReceiptHash(b)
	require.NoError(t, err)

	assert.NotEqual(t, ha, hb)
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"zeta": 1, "alpha": 2, "mid": map[string]any{"b": 1, "a": 2}})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":{"a":2,"b":1},"zeta":1}`, string(out))
}
