package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticTool(name string) *FunctionTool {
	return NewFunctionTool(name, "Static "+name, map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any, _ func(string)) (*Result, error) {
			return TextResult(name), nil
		})
}

// -------------------- Registration --------------------

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register(staticTool("alpha"))
	reg.Register(staticTool("beta"))

	_, ok := reg.Get("alpha")
	assert.True(t, ok)
	_, ok = reg.Get("gamma")
	assert.False(t, ok)
	assert.Equal(t, []string{"alpha", "beta"}, reg.Names())
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewFunctionTool("dup", "first", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any, _ func(string)) (*Result, error) {
			return TextResult("first"), nil
		}))
	reg.Register(NewFunctionTool("dup", "second", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any, _ func(string)) (*Result, error) {
			return TextResult("second"), nil
		}))

	got, ok := reg.Get("dup")
	require.True(t, ok)
	assert.Equal(t, "second", got.Description())
	assert.Len(t, reg.Names(), 1)
}

func TestRegistry_DeclarationsAreSortedFunctionDefs(t *testing.T) {
	reg := NewRegistry()
	reg.Register(staticTool("zeta"))
	reg.Register(staticTool("alpha"))

	defs := reg.Declarations()
	require.Len(t, defs, 2)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "alpha", defs[0].Function.Name)
	assert.Equal(t, "zeta", defs[1].Function.Name)
	assert.NotNil(t, defs[0].Function.Parameters)
}

// -------------------- Subprocess Discovery --------------------

const declarationsJSON = `[{"name":"greet","description":"Greets","parameters":{"type":"object","properties":{"who":{"type":"string"}}}}]`

func TestRegistry_DiscoverFromCommand(t *testing.T) {
	reg := NewRegistry(func(o *RegistryOptions) {
		o.DiscoveryCommand = []string{"sh", "-c", "echo '" + declarationsJSON + "'"}
		o.CallCommand = []string{"sh", "-c", "cat"}
	})
	reg.Register(staticTool("manual"))

	require.NoError(t, reg.Discover(context.Background()))
	assert.ElementsMatch(t, []string{"greet", "manual"}, reg.Names())

	greet, ok := reg.Get("greet")
	require.True(t, ok)
	assert.Equal(t, "Greets", greet.Description())

	// Discovered subprocess tools require approval until trusted.
	confirmation, err := greet.ShouldConfirm(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, confirmation)
}

func TestRegistry_DiscoverIsIdempotent(t *testing.T) {
	reg := NewRegistry(func(o *RegistryOptions) {
		o.DiscoveryCommand = []string{"sh", "-c", "echo '" + declarationsJSON + "'"}
	})
	reg.Register(staticTool("manual"))

	require.NoError(t, reg.Discover(context.Background()))
	require.NoError(t, reg.Discover(context.Background()))
	assert.ElementsMatch(t, []string{"greet", "manual"}, reg.Names())
}

func TestRegistry_MalformedDiscoveryOutputLeavesManualToolsIntact(t *testing.T) {
	reg := NewRegistry(func(o *RegistryOptions) {
		o.DiscoveryCommand = []string{"sh", "-c", "echo 'definitely not json'"}
	})
	reg.Register(staticTool("manual"))

	err := reg.Discover(context.Background())
	var discErr *DiscoveryError
	require.ErrorAs(t, err, &discErr)
	assert.Equal(t, "command", discErr.Source)

	_, ok := reg.Get("manual")
	assert.True(t, ok)
}

func TestRegistry_DeclarationWithoutNameRejected(t *testing.T) {
	reg := NewRegistry(func(o *RegistryOptions) {
		o.DiscoveryCommand = []string{"sh", "-c", `echo '[{"description":"anonymous"}]'`}
	})

	err := reg.Discover(context.Background())
	var discErr *DiscoveryError
	assert.ErrorAs(t, err, &discErr)
}

// -------------------- CommandTool Execution --------------------

func TestCommandTool_PipesArgsAndCapturesStdout(t *testing.T) {
	ct := &CommandTool{
		name:        "echo_args",
		callCommand: []string{"sh", "-c", "cat"},
		trust:       NewTrustPolicy(),
	}

	result, err := ct.Execute(context.Background(), map[string]any{"key": "value"}, nil)
	require.NoError(t, err)
	assert.Contains(t, resultText(result), `"key":"value"`)
}

func TestCommandTool_ProcessFailureBecomesErrorResult(t *testing.T) {
	ct := &CommandTool{
		name:        "broken",
		callCommand: []string{"sh", "-c", "echo oops >&2; exit 1"},
		trust:       NewTrustPolicy(),
	}

	result, err := ct.Execute(context.Background(), map[string]any{}, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Contains(t, result.Error, "oops")
}

func TestCommandTool_TrustSkipsConfirmation(t *testing.T) {
	trust := NewTrustPolicy()
	ct := &CommandTool{name: "greet", callCommand: []string{"sh", "-c", "cat"}, trust: trust}

	confirmation, err := ct.ShouldConfirm(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, confirmation)

	trust.Trust("", "greet")
	confirmation, err = ct.ShouldConfirm(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, confirmation)
}
