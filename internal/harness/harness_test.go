package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "golden file is named after the scenario")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "guest_merge_on_login.yaml"))
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.Equal(t, string(Render(scenario.Name, first)), string(Render(scenario.Name, second)))
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "unexpected_error",
		Description: "a rejected mutation without expect_error",
		Steps: []Step{
			{Add: &ItemStep{Collection: "cart", ID: "p1", Quantity: -2}},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected invalid error")
}

func TestRun_MissingExpectedError(t *testing.T) {
	scenario := &Scenario{
		Name:        "missing_error",
		Description: "an accepted mutation that was expected to fail",
		Steps: []Step{
			{Add: &ItemStep{Collection: "wishlist", ID: "w1", ExpectError: ErrorInvalid}},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected invalid error, got none")
}

func TestRun_FailedAssertionIsRecorded(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_ids",
		Description: "assertion that does not hold",
		Steps: []Step{
			{Add: &ItemStep{Collection: "cart", ID: "p1"}},
		},
		Assertions: []Assertion{
			{Type: AssertItems, Collection: "cart", IDs: []string{"p2"}},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "assertions[0]")
	assert.Contains(t, result.Errors[0], "cart_guest = [p2]")
}

func TestRun_LocalSeedIsLoaded(t *testing.T) {
	scenario := &Scenario{
		Name:        "local_seed",
		Description: "guest copy restored from the local store",
		Local: map[string]string{
			"wishlist_guest": `[{"id":"w1","display":{}},{"id":"w2","display":{}}]`,
		},
		Steps: []Step{{Flush: true}},
		Assertions: []Assertion{
			{Type: AssertItems, Collection: "wishlist", IDs: []string{"w1", "w2"}},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, "flush", result.Steps[1].Op)
}

func TestRun_SameUserLoginReloads(t *testing.T) {
	scenario := &Scenario{
		Name:        "same_user",
		Description: "logging in twice reloads instead of doing nothing",
		Server: ServerSetup{
			Users: map[string]string{"alice": "tok-alice"},
		},
		Steps: []Step{
			{Login: "alice"},
			{Login: "alice"},
		},
		Assertions: []Assertion{
			{Type: AssertCalls, Call: "sync", Count: 2},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Steps, 3)
	assert.Len(t, result.Steps[2].Loads, 3)
}
