package rules

import (
	"context"
	"testing"

	"pgregory.net/rapid"

	"github.com/foreflux/conductor/internal/orchestration/confirmation"
)

// TestRuleEnginePurityProperty checks spec.md property 5: the Rule
// Engine's decision is a deterministic function of
// (ConfirmationRequest, workspace_root, dependency_manifest). Since the
// engine has no manifest for these generated kinds, the same request
// evaluated twice (fresh engine each time) must always agree.
func TestRuleEnginePurityProperty(t *testing.T) {
	kinds := []confirmation.Kind{
		confirmation.KindFileWrite,
		confirmation.KindFileRead,
		confirmation.KindFileDelete,
		confirmation.KindCommandExecute,
		confirmation.KindPermissionRequest,
		confirmation.KindUnknown,
	}

	rapid.Check(t, func(t *rapid.T) {
		kind := kinds[rapid.IntRange(0, len(kinds)-1).Draw(t, "kind")]
		path := rapid.StringMatching(`[a-z]{1,8}(/[a-z]{1,8}){0,3}\.(py|txt|json)`).Draw(t, "path")
		cmd := rapid.StringMatching(`[a-z ]{1,24}`).Draw(t, "cmd")
		root := rapid.StringMatching(`/[a-z]{1,8}(/[a-z]{1,8}){0,2}`).Draw(t, "root")

		req := confirmation.Request{
			Kind: kind,
			Extracted: map[string]string{
				"file":    path,
				"command": cmd,
			},
		}

		got1 := NewEngine().Evaluate(context.Background(), req, root)
		got2 := NewEngine().Evaluate(context.Background(), req, root)
		if got1 != got2 {
			t.Fatalf("Evaluate not pure: %v != %v for req=%+v root=%q", got1, got2, req, root)
		}
	})
}
