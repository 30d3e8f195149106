package workers

import (
	"context"
	"strconv"
	"strings"

	"docflow/internal/tasks"
)

// Violation codes reported by Verify.
const (
	CodeEmptyDraft       = "empty_draft"
	CodeMissingHeading   = "missing_heading"
	CodeMissingStandard  = "missing_standard_reference"
	CodeUnresolvedMarker = "unresolved_marker"
)

// Verify checks a draft's structure. An empty draft or a leftover TODO marker
// cannot be repaired mechanically and hard-fails; a missing heading or
// standard reference soft-fails with the patch that fixes it.
func (s *Set) Verify(_ context.Context, p tasks.Payload) (tasks.VerifyOutcome, error) {
	draft := p.Draft
	if strings.TrimSpace(draft) == "" {
		return tasks.VerifyOutcome{
			Status:     tasks.VerifyHardFail,
			Draft:      draft,
			Violations: []tasks.Violation{{Code: CodeEmptyDraft, Message: "draft is empty"}},
		}, nil
	}
	if strings.Contains(draft, "TODO") {
		return tasks.VerifyOutcome{
			Status:     tasks.VerifyHardFail,
			Draft:      draft,
			Violations: []tasks.Violation{{Code: CodeUnresolvedMarker, Message: "draft contains an unresolved TODO marker"}},
		}, nil
	}

	var (
		violations []tasks.Violation
		patches    []tasks.Patch
	)
	if p.Outline != nil && !hasHeading(draft, p.Outline.Title) {
		violations = append(violations, tasks.Violation{
			Code:    CodeMissingHeading,
			Message: "draft does not open with the chapter heading",
		})
		patches = append(patches, tasks.Patch{
			Op:   tasks.PatchPrepend,
			Text: Heading(p.Outline.ChapterNumber, p.Outline.Title) + "\n\n",
		})
	}
	if p.Outline != nil && p.Outline.GovernStandard != "" && !strings.Contains(draft, p.Outline.GovernStandard) {
		violations = append(violations, tasks.Violation{
			Code:    CodeMissingStandard,
			Message: "draft does not reference " + p.Outline.GovernStandard,
		})
		patches = append(patches, tasks.Patch{
			Op:   tasks.PatchAppend,
			Text: "\n\n" + standardSentence(p.Outline.GovernStandard) + "\n",
		})
	}

	if len(violations) == 0 {
		return tasks.VerifyOutcome{Status: tasks.VerifyAccept, Draft: draft}, nil
	}
	return tasks.VerifyOutcome{
		Status:     tasks.VerifySoftFail,
		Draft:      draft,
		Violations: violations,
		Patches:    patches,
	}, nil
}

func hasHeading(draft, title string) bool {
	for _, line := range strings.Split(draft, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.HasPrefix(line, "#") && strings.Contains(strings.ToLower(line), strings.ToLower(strings.TrimSpace(title)))
	}
	return false
}

// Autofix applies the patches a verify run proposed.
func (s *Set) Autofix(_ context.Context, p tasks.Payload) (tasks.AutofixResult, error) {
	if strings.TrimSpace(p.Draft) == "" {
		return tasks.AutofixResult{}, Wrap(ErrValidation, string(tasks.KindAutofix), "apply patches", "draft is empty", nil)
	}
	if len(p.Patches) == 0 {
		return tasks.AutofixResult{}, Wrap(ErrValidation, string(tasks.KindAutofix), "apply patches", "no patches proposed", nil)
	}
	draft, err := ApplyPatches(p.Draft, p.Patches)
	if err != nil {
		return tasks.AutofixResult{}, err
	}
	return tasks.AutofixResult{Draft: draft}, nil
}

// ApplyPatches applies patches to draft in order.
func ApplyPatches(draft string, patches []tasks.Patch) (string, error) {
	for i, patch := range patches {
		switch patch.Op {
		case tasks.PatchPrepend:
			draft = patch.Text + draft
		case tasks.PatchAppend:
			draft = strings.TrimRight(draft, "\n") + patch.Text
		case tasks.PatchReplace:
			if patch.Find == "" || !strings.Contains(draft, patch.Find) {
				return "", Wrap(ErrValidation, string(tasks.KindAutofix), "apply patches", "replace target not found in draft", nil)
			}
			draft = strings.Replace(draft, patch.Find, patch.Text, 1)
		default:
			return "", Wrap(ErrValidation, string(tasks.KindAutofix), "apply patches", "unknown patch op "+string(patch.Op)+" at "+strconv.Itoa(i), nil)
		}
	}
	return draft, nil
}
