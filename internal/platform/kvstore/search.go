package kvstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
)

// searchDoc is what gets indexed per task. Fields are normalized with
// domain.NormalizeQuery so that a keyword field plus a regexp query gives
// case-insensitive substring matching.
type searchDoc struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func buildSearchMapping() mapping.IndexMapping {
	keyword := bleve.NewKeywordFieldMapping()
	keyword.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("title", keyword)
	doc.AddFieldMappingsAt("description", keyword)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// SearchTasks implements store.TaskStore. The KV has no query language, so
// the owner's filtered tasks are indexed in a throwaway in-memory bleve
// index per call.
func (b *Backend) SearchTasks(
	ctx context.Context,
	ownerID uuid.UUID,
	q string,
	filter domain.TaskFilter,
	page domain.Page,
) ([]*domain.Task, int, error) {
	page = page.Normalize()

	tasks, err := b.ListTasks(ctx, ownerID, filter)
	if err != nil {
		return nil, 0, err
	}

	needle := domain.NormalizeQuery(q)
	if needle != "" && len(tasks) > 0 {
		tasks, err = matchTasks(tasks, needle)
		if err != nil {
			return nil, 0, err
		}
	}

	total := len(tasks)
	if page.Offset >= total {
		return []*domain.Task{}, total, nil
	}
	end := page.Offset + page.Limit
	if end > total {
		end = total
	}
	return tasks[page.Offset:end], total, nil
}

// matchTasks keeps the tasks, in order, whose title or description
// contains needle.
func matchTasks(tasks []*domain.Task, needle string) ([]*domain.Task, error) {
	index, err := bleve.NewMemOnly(buildSearchMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	defer func() { _ = index.Close() }()

	batch := index.NewBatch()
	for _, t := range tasks {
		if err := batch.Index(t.ID.String(), searchDoc{
			Title:       domain.NormalizeQuery(t.Title),
			Description: domain.NormalizeQuery(t.Description),
		}); err != nil {
			return nil, fmt.Errorf("failed to index task %s: %w", t.ID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to index tasks: %w", err)
	}

	pattern := ".*" + regexp.QuoteMeta(needle) + ".*"
	title := bleve.NewRegexpQuery(pattern)
	title.SetField("title")
	description := bleve.NewRegexpQuery(pattern)
	description.SetField("description")

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery([]query.Query{title, description}...))
	req.Size = len(tasks)
	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make(map[string]struct{}, len(res.Hits))
	for _, hit := range res.Hits {
		hits[hit.ID] = struct{}{}
	}
	matched := make([]*domain.Task, 0, len(hits))
	for _, t := range tasks {
		if _, ok := hits[t.ID.String()]; ok {
			matched = append(matched, t)
		}
	}
	return matched, nil
}
