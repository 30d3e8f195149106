package workers

import (
	"context"

	"docflow/internal/tasks"
)

// Retriever finds passages supporting a chapter.
type Retriever interface {
	Retrieve(ctx context.Context, req RetrieveRequest) ([]tasks.Snippet, error)
}

// RetrieveRequest describes one retrieval.
type RetrieveRequest struct {
	ProjectID string
	Chapter   string
	Title     string
	Prompts   []string
	Assets    tasks.AssetReadiness
}

// Writer drafts a chapter.
type Writer interface {
	Write(ctx context.Context, req WriteRequest) (tasks.WriteResult, error)
}

// WriteRequest describes one drafting call.
type WriteRequest struct {
	ProjectID      string
	Chapter        string
	Title          string
	GovernStandard string
	Project        tasks.ProjectContext
	Prompts        []string
	Snippets       []tasks.Snippet
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, req RetrieveRequest) ([]tasks.Snippet, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, req RetrieveRequest) ([]tasks.Snippet, error) {
	return f(ctx, req)
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, req WriteRequest) (tasks.WriteResult, error)

func (f WriterFunc) Write(ctx context.Context, req WriteRequest) (tasks.WriteResult, error) {
	return f(ctx, req)
}

type emptyRetriever struct{}

func (emptyRetriever) Retrieve(context.Context, RetrieveRequest) ([]tasks.Snippet, error) {
	return []tasks.Snippet{}, nil
}
