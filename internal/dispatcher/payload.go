package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"docflow/internal/tasks"
)

// buildPayload assembles the job body for rec from its metadata and the
// results of the upstream tasks its metadata names.
func (d *Dispatcher) buildPayload(ctx context.Context, rec *tasks.Record) (tasks.Payload, error) {
	meta := rec.Metadata
	payload := tasks.Payload{
		ProjectID: rec.ProjectID,
		TaskID:    rec.ID,
		Kind:      rec.Kind,
		Outline:   meta.Outline,
		Project:   meta.Project,
		Assets:    meta.Assets,
	}

	upstream, err := d.upstreamResults(ctx, rec)
	if err != nil {
		return tasks.Payload{}, err
	}

	switch rec.Kind {
	case tasks.KindMaterializeFixed:
		if meta.Outline != nil {
			payload.FixedContent = meta.Outline.FixedContent
		}
	case tasks.KindPrepare:
	case tasks.KindRetrieve:
		payload.Prompts = upstream.raw(meta.PromptSourceID)
	case tasks.KindWrite:
		payload.Prompts = upstream.raw(meta.PromptSourceID)
		if meta.RetrievalSourceID != "" {
			payload.ContextPack = upstream.raw(meta.RetrievalSourceID)
		}
	case tasks.KindVerify:
		// A draft repaired by autofix replaces the writer's draft.
		if meta.Draft != "" {
			payload.Draft = meta.Draft
		} else {
			payload.Draft = upstream.text(meta.DraftSourceID)
		}
	case tasks.KindAssemble:
		if len(meta.ChapterAssembleIDs) > 0 || rec.ID == tasks.DocumentSinkID {
			sections, err := upstream.sections(meta.ChapterAssembleIDs)
			if err != nil {
				return tasks.Payload{}, err
			}
			payload.Sections = sections
			payload.Children = append([]string{}, meta.ChapterAssembleIDs...)
			break
		}
		switch {
		case meta.VerifySourceID != "":
			payload.Draft = upstream.text(meta.VerifySourceID)
		case meta.FixedSourceID != "":
			payload.Draft = upstream.text(meta.FixedSourceID)
		}
	default:
		return tasks.Payload{}, fmt.Errorf("task %s has unknown kind %q", rec.ID, rec.Kind)
	}
	return payload, nil
}

type upstreamSet map[string]*tasks.Record

func (u upstreamSet) raw(id string) json.RawMessage {
	if rec, ok := u[id]; ok {
		return rec.Result
	}
	return nil
}

func (u upstreamSet) text(id string) string {
	return tasks.TextOf(u.raw(id))
}

func (u upstreamSet) sections(ids []string) ([]tasks.Section, error) {
	sections := make([]tasks.Section, 0, len(ids))
	for _, id := range ids {
		rec, ok := u[id]
		if !ok {
			return nil, fmt.Errorf("chapter %s is missing", id)
		}
		var chapter tasks.AssembleResult
		if len(rec.Result) > 0 {
			if err := json.Unmarshal(rec.Result, &chapter); err != nil {
				return nil, fmt.Errorf("decode chapter %s: %w", id, err)
			}
		}
		section := tasks.Section{
			TaskID:        id,
			ChapterNumber: chapter.ChapterNumber,
			Title:         chapter.Title,
			Content:       chapter.Content,
		}
		if section.ChapterNumber == "" {
			section.ChapterNumber = rec.OutlineID
		}
		if section.Title == "" && rec.Metadata.Outline != nil {
			section.Title = rec.Metadata.Outline.Title
		}
		sections = append(sections, section)
	}
	return sections, nil
}

// upstreamResults fetches every referenced dependency of rec. Each must be
// completed: ready tasks only have completed dependencies, so anything else
// means the store changed underneath us.
func (d *Dispatcher) upstreamResults(ctx context.Context, rec *tasks.Record) (upstreamSet, error) {
	ids := referencedIDs(rec.Metadata)
	if len(ids) == 0 {
		return upstreamSet{}, nil
	}
	records, err := d.store.GetTasks(ctx, rec.ProjectID, ids)
	if err != nil {
		return nil, fmt.Errorf("load upstream of %s: %w", rec.ID, err)
	}
	set := make(upstreamSet, len(records))
	for _, up := range records {
		set[up.ID] = up
	}
	for _, id := range ids {
		up, ok := set[id]
		if !ok {
			return nil, fmt.Errorf("upstream task %s of %s does not exist", id, rec.ID)
		}
		if up.Status != tasks.StatusCompleted {
			return nil, fmt.Errorf("upstream task %s of %s is %s", id, rec.ID, up.Status)
		}
	}
	return set, nil
}

func referencedIDs(meta tasks.Metadata) []string {
	var ids []string
	for _, id := range []string{
		meta.FixedSourceID,
		meta.PromptSourceID,
		meta.RetrievalSourceID,
		meta.DraftSourceID,
		meta.VerifySourceID,
	} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return append(ids, meta.ChapterAssembleIDs...)
}
