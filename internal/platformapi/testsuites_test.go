package platformapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftlane/driftlane/internal/platformdb"
)

func TestTestSuiteViewMarshalsCamelCaseKeys(t *testing.T) {
	suite := platformdb.TestSuite{ID: "ts-1", Name: "slack-basics", Owner: "owner-1", Visibility: "private"}

	b, err := json.Marshal(toTestSuiteView(suite))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Equal(t, "ts-1", raw["id"])
	require.Equal(t, "slack-basics", raw["name"])
	require.NotContains(t, raw, "ID")
	require.NotContains(t, raw, "CreatedAt")
}

func TestTestViewMarshalsCamelCaseKeys(t *testing.T) {
	test := platformdb.Test{
		ID:             "t-1",
		Name:           "message posted",
		Type:           platformdb.TestActionEval,
		ExpectedOutput: `{"assertions":[]}`,
	}

	b, err := json.Marshal(toTestView(test))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Equal(t, "t-1", raw["id"])
	require.Equal(t, "actionEval", raw["type"])
	require.Equal(t, map[string]any{"assertions": []any{}}, raw["expectedOutput"])
	require.NotContains(t, raw, "ID")
}
