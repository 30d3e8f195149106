package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"docflow/internal/logging"
	"docflow/internal/tasks"
)

// Func is a work function for one task kind.
type Func func(ctx context.Context, p tasks.Payload) (any, error)

// Set bundles the work functions for every queue.
type Set struct {
	Retriever Retriever
	Writer    Writer
	Logger    *slog.Logger
}

// NewSet returns a Set with the reference retriever and writer.
func NewSet(logger *slog.Logger) *Set {
	return &Set{
		Retriever: emptyRetriever{},
		Writer:    TemplateWriter{},
		Logger:    logger,
	}
}

// Funcs maps each queue kind to its work function.
func (s *Set) Funcs() map[tasks.Kind]Func {
	return map[tasks.Kind]Func{
		tasks.KindMaterializeFixed: func(ctx context.Context, p tasks.Payload) (any, error) { return s.Materialize(ctx, p) },
		tasks.KindPrepare:          func(ctx context.Context, p tasks.Payload) (any, error) { return s.Prepare(ctx, p) },
		tasks.KindRetrieve:         func(ctx context.Context, p tasks.Payload) (any, error) { return s.Retrieve(ctx, p) },
		tasks.KindWrite:            func(ctx context.Context, p tasks.Payload) (any, error) { return s.Write(ctx, p) },
		tasks.KindVerify:           func(ctx context.Context, p tasks.Payload) (any, error) { return s.Verify(ctx, p) },
		tasks.KindAutofix:          func(ctx context.Context, p tasks.Payload) (any, error) { return s.Autofix(ctx, p) },
		tasks.KindAssemble:         func(ctx context.Context, p tasks.Payload) (any, error) { return s.Assemble(ctx, p) },
	}
}

func (s *Set) logger() *slog.Logger {
	return logging.NewComponentLogger(s.Logger, "workers")
}

// Materialize returns a chapter's fixed content verbatim.
func (s *Set) Materialize(_ context.Context, p tasks.Payload) (tasks.MaterializeResult, error) {
	if strings.TrimSpace(p.FixedContent) == "" {
		return tasks.MaterializeResult{}, Wrap(ErrValidation, string(p.Kind), "materialize", "fixed content is empty", nil)
	}
	return tasks.MaterializeResult{Content: p.FixedContent}, nil
}

// Prepare builds the drafting prompts for a chapter.
func (s *Set) Prepare(_ context.Context, p tasks.Payload) (tasks.PrepareResult, error) {
	if p.Outline == nil {
		return tasks.PrepareResult{}, Wrap(ErrValidation, string(p.Kind), "prepare", "payload has no outline entry", nil)
	}
	node := p.Outline
	project := p.Project.Name
	if project == "" {
		project = "the document"
	}

	prompts := []string{fmt.Sprintf("Draft chapter %s %q of %s.", node.ChapterNumber, node.Title, project)}
	if node.GeneratePrompt {
		prompts = append(prompts, "Expand the outline title into complete prose.")
	}
	if p.Project.Audience != "" {
		prompts = append(prompts, "Write for "+p.Project.Audience+".")
	}
	if p.Project.Language != "" {
		prompts = append(prompts, "Write in "+p.Project.Language+".")
	}
	if node.GovernStandard != "" {
		prompts = append(prompts, "Follow "+node.GovernStandard+" and reference it explicitly.")
	}
	return tasks.PrepareResult{Prompts: prompts}, nil
}

// Retrieve gathers supporting passages through the configured Retriever.
func (s *Set) Retrieve(ctx context.Context, p tasks.Payload) (tasks.RetrieveResult, error) {
	prompts, err := decodePrompts(p)
	if err != nil {
		return tasks.RetrieveResult{}, err
	}
	req := RetrieveRequest{ProjectID: p.ProjectID, Prompts: prompts, Assets: p.Assets}
	if p.Outline != nil {
		req.Chapter = p.Outline.ChapterNumber
		req.Title = p.Outline.Title
	}
	snippets, err := s.retriever().Retrieve(ctx, req)
	if err != nil {
		return tasks.RetrieveResult{}, Wrap(ErrExternal, string(p.Kind), "retrieve", "retriever failed", err)
	}
	if snippets == nil {
		snippets = []tasks.Snippet{}
	}
	return tasks.RetrieveResult{Snippets: snippets}, nil
}

// Write drafts a chapter through the configured Writer.
func (s *Set) Write(ctx context.Context, p tasks.Payload) (tasks.WriteResult, error) {
	if p.Outline == nil {
		return tasks.WriteResult{}, Wrap(ErrValidation, string(p.Kind), "write", "payload has no outline entry", nil)
	}
	prompts, err := decodePrompts(p)
	if err != nil {
		return tasks.WriteResult{}, err
	}
	var pack tasks.RetrieveResult
	if len(p.ContextPack) > 0 {
		if err := json.Unmarshal(p.ContextPack, &pack); err != nil {
			return tasks.WriteResult{}, Wrap(ErrValidation, string(p.Kind), "decode context pack", "", err)
		}
	}

	result, err := s.writer().Write(ctx, WriteRequest{
		ProjectID:      p.ProjectID,
		Chapter:        p.Outline.ChapterNumber,
		Title:          p.Outline.Title,
		GovernStandard: p.Outline.GovernStandard,
		Project:        p.Project,
		Prompts:        prompts,
		Snippets:       pack.Snippets,
	})
	if err != nil {
		return tasks.WriteResult{}, Wrap(ErrExternal, string(p.Kind), "write", "writer failed", err)
	}
	s.logger().Debug("chapter drafted",
		logging.String(logging.FieldProjectID, p.ProjectID),
		logging.String(logging.FieldTaskID, p.TaskID),
		logging.Int("chars", len(result.Draft)),
	)
	return result, nil
}

// Assemble renders a chapter, or the whole document for the document task.
func (s *Set) Assemble(_ context.Context, p tasks.Payload) (tasks.AssembleResult, error) {
	if p.TaskID == tasks.DocumentSinkID || p.Sections != nil {
		parts := make([]string, 0, len(p.Sections)+1)
		if p.Project.Name != "" {
			parts = append(parts, "# "+p.Project.Name)
		}
		for _, section := range p.Sections {
			if body := strings.TrimSpace(section.Content); body != "" {
				parts = append(parts, body)
			}
		}
		return tasks.AssembleResult{
			Title:    p.Project.Name,
			Content:  strings.Join(parts, "\n\n") + "\n",
			Children: p.Children,
		}, nil
	}

	if p.Outline == nil {
		return tasks.AssembleResult{}, Wrap(ErrValidation, string(p.Kind), "assemble", "payload has no outline entry", nil)
	}
	if strings.TrimSpace(p.Draft) == "" {
		return tasks.AssembleResult{}, Wrap(ErrValidation, string(p.Kind), "assemble", "chapter "+p.Outline.ChapterNumber+" has no content", nil)
	}
	return tasks.AssembleResult{
		ChapterNumber: p.Outline.ChapterNumber,
		Title:         p.Outline.Title,
		Content:       strings.TrimSpace(p.Draft),
	}, nil
}

func (s *Set) retriever() Retriever {
	if s.Retriever == nil {
		return emptyRetriever{}
	}
	return s.Retriever
}

func (s *Set) writer() Writer {
	if s.Writer == nil {
		return TemplateWriter{}
	}
	return s.Writer
}

func decodePrompts(p tasks.Payload) ([]string, error) {
	if len(p.Prompts) == 0 {
		return nil, nil
	}
	var prepared tasks.PrepareResult
	if err := json.Unmarshal(p.Prompts, &prepared); err != nil {
		return nil, Wrap(ErrValidation, string(p.Kind), "decode prompts", "", err)
	}
	return prepared.Prompts, nil
}

// TemplateWriter renders a deterministic draft from the request alone.
type TemplateWriter struct{}

func (TemplateWriter) Write(_ context.Context, req WriteRequest) (tasks.WriteResult, error) {
	var b strings.Builder
	b.WriteString(Heading(req.Chapter, req.Title))
	b.WriteString("\n\n")

	subject := cases.Lower(language.Und).String(req.Title)
	if req.Project.Name != "" {
		fmt.Fprintf(&b, "This chapter of %s covers %s", req.Project.Name, subject)
	} else {
		fmt.Fprintf(&b, "This chapter covers %s", subject)
	}
	if req.Project.Audience != "" {
		fmt.Fprintf(&b, " for %s", req.Project.Audience)
	}
	b.WriteString(".\n")

	var citations []string
	if len(req.Snippets) > 0 {
		b.WriteString("\nSources:\n")
		for _, snippet := range req.Snippets {
			fmt.Fprintf(&b, "- %s (%s)\n", strings.TrimSpace(snippet.Text), snippet.Source)
			citations = append(citations, snippet.Source)
		}
	}
	if req.GovernStandard != "" {
		b.WriteString("\n")
		b.WriteString(standardSentence(req.GovernStandard))
		b.WriteString("\n")
	}
	return tasks.WriteResult{Draft: b.String(), Citations: citations}, nil
}

// Heading renders a chapter heading line.
func Heading(chapter, title string) string {
	return strings.TrimSpace("# " + strings.TrimSpace(chapter+" "+title))
}

func standardSentence(standard string) string {
	return "This chapter follows " + standard + "."
}
