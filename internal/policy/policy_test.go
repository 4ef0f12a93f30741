// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
)

func mustEngine(t *testing.T, profile contract.PolicyProfile) *Engine {
	t.Helper()
	engine, err := New(profile)
	require.NoError(t, err)
	return engine
}

func TestEmptyPolicyAllowsEverything(t *testing.T) {
	engine := mustEngine(t, contract.PolicyProfile{})

	assert.True(t, engine.CanUseTool("Bash").Allowed)
	assert.True(t, engine.CanUseTool("Read").Allowed)
	assert.True(t, engine.CanReadPath("any/file.txt").Allowed)
	assert.True(t, engine.CanWritePath("any/file.txt").Allowed)
	assert.True(t, engine.CanReachHost("example.com").Allowed)
}

func TestDisallowedToolBeatsAllowlist(t *testing.T) {
	engine := mustEngine(t, contract.PolicyProfile{
		AllowedTools:    []string{"*"},
		DisallowedTools: []string{"Bash"},
	})

	decision := engine.CanUseTool("Bash")
	assert.False(t, decision.Allowed)
	assert.Equal(t, "tool 'Bash' is disallowed", decision.Reason)

	assert.True(t, engine.CanUseTool("Read").Allowed)
	assert.True(t, engine.CanUseTool("Write").Allowed)
}

func TestAllowlistBlocksUnlistedTool(t *testing.T) {
	engine := mustEngine(t, contract.PolicyProfile{
		AllowedTools: []string{"Read", "Write"},
	})

	denied := engine.CanUseTool("Bash")
	assert.False(t, denied.Allowed)
	assert.Equal(t, "tool 'Bash' not in allowlist", denied.Reason)

	assert.True(t, engine.CanUseTool("Read").Allowed)
}

func TestGlobPatternsInToolRules(t *testing.T) {
	engine := mustEngine(t, contract.PolicyProfile{
		DisallowedTools: []string{"Bash*"},
	})

	assert.False(t, engine.CanUseTool("BashExec").Allowed)
	assert.False(t, engine.CanUseTool("BashRun").Allowed)
	assert.True(t, engine.CanUseTool("Read").Allowed)
}

func TestDenyReadPatterns(t *testing.T) {
	engine := mustEngine(t, contract.PolicyProfile{
		DenyRead: []string{"**/.env", "**/.env.*", "**/id_rsa"},
	})

	assert.False(t, engine.CanReadPath(".env").Allowed)
	assert.False(t, engine.CanReadPath("config/.env").Allowed)
	assert.False(t, engine.CanReadPath(".env.production").Allowed)
	assert.False(t, engine.CanReadPath("home/.ssh/id_rsa").Allowed)
	assert.True(t, engine.CanReadPath("src/main.go").Allowed)
}

func TestDenyWritePatterns(t *testing.T) {
	engine := mustEngine(t, contract.PolicyProfile{
		DenyWrite: []string{"secret/**"},
	})

	assert.False(t, engine.CanWritePath("secret/a/b/c.txt").Allowed)
	assert.False(t, engine.CanWritePath("secret/x.txt").Allowed)
	assert.True(t, engine.CanWritePath("public/data.txt").Allowed)
}

func TestPathTraversalStillMatches(t *testing.T) {
	engine := mustEngine(t, contract.PolicyProfile{
		DenyRead:  []string{"**/etc/passwd"},
		DenyWrite: []string{"**/.git/**"},
	})

	read := engine.CanReadPath("../../etc/passwd")
	assert.False(t, read.Allowed)
	assert.Contains(t, read.Reason, "denied")

	write := engine.CanWritePath("../.git/config")
	assert.False(t, write.Allowed)
	assert.Contains(t, write.Reason, "denied")
}

func TestComplexPolicyCombination(t *testing.T) {
	engine := mustEngine(t, contract.PolicyProfile{
		AllowedTools:    []string{"Read", "Write", "Grep"},
		DisallowedTools: []string{"Write"},
		DenyRead:        []string{"**/.env"},
		DenyWrite:       []string{"**/locked/**"},
	})

	// Write is on both lists; the denylist wins.
	assert.False(t, engine.CanUseTool("Write").Allowed)
	assert.True(t, engine.CanUseTool("Read").Allowed)
	assert.False(t, engine.CanUseTool("Bash").Allowed)
	assert.False(t, engine.CanReadPath(".env").Allowed)
	assert.True(t, engine.CanReadPath("src/lib.go").Allowed)
	assert.False(t, engine.CanWritePath("locked/data.txt").Allowed)
	assert.True(t, engine.CanWritePath("src/lib.go").Allowed)
}

func TestNetworkRules(t *testing.T) {
	engine := mustEngine(t, contract.PolicyProfile{
		AllowNetwork: []string{"*.example.com"},
		DenyNetwork:  []string{"evil.example.com"},
	})

	assert.False(t, engine.CanReachHost("evil.example.com").Allowed)
	assert.True(t, engine.CanReachHost("api.example.com").Allowed)

	offList := engine.CanReachHost("other.org")
	assert.False(t, offList.Allowed)
	assert.Contains(t, offList.Reason, "not in network allowlist")
}

func TestRequiresApproval(t *testing.T) {
	engine := mustEngine(t, contract.PolicyProfile{
		RequireApprovalFor: []string{"Bash", "DeleteFile"},
	})

	assert.True(t, engine.RequiresApproval("Bash"))
	assert.True(t, engine.RequiresApproval("DeleteFile"))
	assert.False(t, engine.RequiresApproval("Read"))
}

func TestInvalidGlobReturnsError(t *testing.T) {
	_, err := New(contract.PolicyProfile{DenyRead: []string{"["}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid glob")
}

func TestPathRulesIncludeGate(t *testing.T) {
	rules, err := NewPathRules([]string{"src/**"}, nil)
	require.NoError(t, err)

	assert.Equal(t, VerdictAllowed, rules.Decide("src/lib.go"))
	assert.Equal(t, VerdictAllowed, rules.Decide("src/a/b/c/d.go"))
	assert.Equal(t, VerdictDeniedByMissingInclude, rules.Decide("README.md"))
}

func TestPathRulesExcludeTakesPrecedence(t *testing.T) {
	rules, err := NewPathRules([]string{"src/**"}, []string{"src/private/**"})
	require.NoError(t, err)

	assert.Equal(t, VerdictDeniedByExclude, rules.Decide("src/private/secrets.txt"))
	assert.Equal(t, VerdictAllowed, rules.Decide("src/lib.go"))
}

func TestPathRulesNoPatternsAllowAll(t *testing.T) {
	rules, err := NewPathRules(nil, nil)
	require.NoError(t, err)

	assert.True(t, rules.Decide("src/lib.go").Allowed())
	assert.True(t, rules.Decide("README.md").Allowed())
}

func TestDecisionConstructors(t *testing.T) {
	allow := Allow()
	assert.True(t, allow.Allowed)
	assert.Empty(t, allow.Reason)

	deny := Deny("not permitted")
	assert.False(t, deny.Allowed)
	assert.Equal(t, "not permitted", deny.Reason)
}
