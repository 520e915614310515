package dsl_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftlane/driftlane/internal/dsl"
)

func TestCompileRejectsMissingAssertions(t *testing.T) {
	_, err := dsl.Compile([]byte(`{"dsl_version":"1"}`))
	require.Error(t, err)
}

func TestCompileRejectsNonArrayAssertions(t *testing.T) {
	_, err := dsl.Compile([]byte(`{"assertions":"nope"}`))
	require.Error(t, err)
}

func TestCompileRejectsMissingDiffType(t *testing.T) {
	_, err := dsl.Compile([]byte(`{"assertions":[{"entity":"messages"}]}`))
	require.Error(t, err)
}

func TestCompileRejectsMissingEntity(t *testing.T) {
	_, err := dsl.Compile([]byte(`{"assertions":[{"diff_type":"added"}]}`))
	require.Error(t, err)
}

func TestCompileRejectsUnknownAssertionKey(t *testing.T) {
	_, err := dsl.Compile([]byte(`{
		"assertions": [{"diff_type":"added","entity":"messages","typo_field":true}]
	}`))
	require.Error(t, err)
}

func TestCompileRejectsMalformedJSON(t *testing.T) {
	_, err := dsl.Compile([]byte(`{not json`))
	require.Error(t, err)
}

func TestCompilePassesThroughStrictAndMasks(t *testing.T) {
	spec, err := dsl.Compile([]byte(`{
		"strict": true,
		"masks": ["updated_at", "id"],
		"assertions": [{"diff_type":"unchanged","entity":"messages"}]
	}`))
	require.NoError(t, err)
	require.True(t, spec.Strict)
	require.Equal(t, []string{"updated_at", "id"}, spec.Masks)
}
