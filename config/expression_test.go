package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simon020286/nightly/models"
)

func TestInterpolate(t *testing.T) {
	ec := testEvalContext()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no expression", "plain text", "plain text"},
		{"matrix with hyphen", "python ${{ matrix.python-version }}", "python 3.11"},
		{"case insensitive", "${{ matrix.OS }}", "ubuntu-latest"},
		{"step outcome", "${{ steps.tests.outcome }}", "failure"},
		{"step conclusion", "${{ steps.tests.conclusion }}", "success"},
		{"step output", "${{ steps.tests.outputs.count }}", "12"},
		{"github context", "${{ github.workflow }}-${{ github.ref }}", "conda_cron-refs/heads/main"},
		{"secret", "${{ secrets.GITHUB_TOKEN }}", "ghs_secret"},
		{"missing value", "[${{ steps.nope.outcome }}]", "[]"},
		{"env", "${{ env.TITLE }}", "nightly"},
		{"format", "${{ format('{0}-{1}', matrix.os, 'x') }}", "ubuntu-latest-x"},
		{"comparison", "${{ steps.tests.outcome == 'failure' }}", "true"},
		{"comparison ignores case", "${{ steps.tests.outcome == 'Failure' }}", "true"},
		{"inequality ignores case", "${{ matrix.os != 'Ubuntu-Latest' }}", "false"},
		{"numbers by value", "${{ 3 == 3.0 }}", "true"},
		{"escaped quote", "${{ 'it''s' }}", "it's"},
		{"number literal", "${{ 3.10 }}", "3.1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Interpolate(tc.input, ec)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestInterpolate_Unclosed(t *testing.T) {
	_, err := Interpolate("${{ matrix.os ", testEvalContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrExpression)
}

func TestEvalCondition(t *testing.T) {
	tests := []struct {
		name      string
		cond      string
		jobFailed bool
		cancelled bool
		expected  bool
	}{
		{"empty means success", "", false, false, true},
		{"empty after failure", "", true, false, false},
		{"always after failure", "always()", true, false, true},
		{"failure after failure", "${{ failure() }}", true, false, true},
		{"failure without failure", "failure()", false, false, false},
		{"implicit success guard", "matrix.os == 'ubuntu-latest'", true, false, false},
		{"plain condition", "matrix.os == 'ubuntu-latest'", false, false, true},
		{"wrapped condition", "${{ matrix.os != 'ubuntu-latest' }}", false, false, false},
		{"cancelled", "cancelled()", false, true, true},
		{"success when cancelled", "success()", false, true, false},
		{"contains", "contains(matrix.os, 'UBUNTU')", false, false, true},
		{"startsWith", "startsWith(github.ref, 'refs/heads/')", false, false, true},
		{"negation", "!endsWith(matrix.os, 'latest')", false, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ec := testEvalContext()
			if tc.jobFailed {
				ec.Scope.RecordStep(models.StepResult{ID: "setup", Outcome: models.OutcomeFailure, Conclusion: models.OutcomeFailure})
			}
			if tc.cancelled {
				ec.Scope.MarkCancelled()
			}
			got, err := EvalCondition(tc.cond, ec)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestEvalCondition_Invalid(t *testing.T) {
	_, err := EvalCondition("matrix.os ==", testEvalContext())
	assert.Error(t, err)
}

func TestRunEvalContext(t *testing.T) {
	ec := NewRunEvalContext(&models.RunContext{Workflow: "conda_cron", Ref: "refs/heads/release"})
	got, err := Interpolate(DefaultConcurrencyGroup, ec)
	require.NoError(t, err)
	assert.Equal(t, "conda_cron-refs/heads/release", got)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(false))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(1.5))
	assert.True(t, Truthy(map[string]any{}))
}
