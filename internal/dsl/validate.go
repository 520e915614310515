package dsl

import (
	"fmt"

	"github.com/driftlane/driftlane/internal/apierr"
)

var topLevelKeys = map[string]bool{
	"dsl_version": true, "strict": true, "masks": true, "assertions": true,
}

var assertionKeys = map[string]bool{
	"diff_type": true, "entity": true, "where": true,
	"expected_count": true, "expected_changes": true, "local_ignore": true,
}

var diffTypes = map[string]bool{
	"added": true, "removed": true, "changed": true, "unchanged": true,
}

// validateStructure rejects unknown top-level keys and checks that every
// assertion carries diff_type and entity, matching the fixed shape a
// JSON-schema validator would enforce — hand-rolled here since no such
// library is grounded anywhere in this corpus (see DESIGN.md).
func validateStructure(raw map[string]any) error {
	for k := range raw {
		if !topLevelKeys[k] {
			return apierr.WithPath(apierr.DSLInvalid, "$", fmt.Errorf("unknown top-level key %q", k))
		}
	}

	rawAssertions, ok := raw["assertions"]
	if !ok {
		return apierr.WithPath(apierr.DSLInvalid, "$.assertions", fmt.Errorf("assertions is required"))
	}
	list, ok := rawAssertions.([]any)
	if !ok {
		return apierr.WithPath(apierr.DSLInvalid, "$.assertions", fmt.Errorf("assertions must be an array"))
	}

	for i, item := range list {
		path := fmt.Sprintf("$.assertions[%d]", i)
		obj, ok := item.(map[string]any)
		if !ok {
			return apierr.WithPath(apierr.DSLInvalid, path, fmt.Errorf("assertion must be an object"))
		}
		for k := range obj {
			if !assertionKeys[k] {
				return apierr.WithPath(apierr.DSLInvalid, path, fmt.Errorf("unknown assertion key %q", k))
			}
		}
		dt, ok := obj["diff_type"].(string)
		if !ok || dt == "" {
			return apierr.WithPath(apierr.DSLInvalid, path+".diff_type", fmt.Errorf("diff_type is required"))
		}
		if !diffTypes[dt] {
			return apierr.WithPath(apierr.DSLInvalid, path+".diff_type", fmt.Errorf("unknown diff_type %q", dt))
		}
		if entity, ok := obj["entity"].(string); !ok || entity == "" {
			return apierr.WithPath(apierr.DSLInvalid, path+".entity", fmt.Errorf("entity is required"))
		}
	}

	return nil
}
