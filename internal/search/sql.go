package search

import (
	"fmt"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/WillIsback/clea-api/pkg/models"
)

// buildCandidateSQL assembles the candidate selection statement from the
// fixed template and the closed set of optional predicates. Every literal is
// bound; only the validated projection name is interpolated, never user
// input. An empty projection queries the chunks table directly (sequential
// scan).
func buildCandidateSQL(req *models.SearchRequest, queryVec []float32, projection string, expanded, topK int) (string, []any) {
	args := []any{pgvector.NewVector(queryVec)}

	from := "FROM chunks c JOIN documents d ON d.id = c.document_id"
	distance := "c.embedding <=> $1"
	if projection != "" {
		from = fmt.Sprintf(
			"FROM %s p JOIN chunks c ON c.id = p.chunk_id JOIN documents d ON d.id = c.document_id",
			projection,
		)
		distance = "p.embedding <=> $1"
	}

	var where strings.Builder
	where.WriteString("WHERE c.embedding IS NOT NULL")

	addPredicate := func(clause string, value any) {
		args = append(args, value)
		fmt.Fprintf(&where, "\n      AND %s $%d", clause, len(args))
	}

	if req.Theme != "" {
		addPredicate("d.theme =", req.Theme)
	}
	if req.DocumentType != "" {
		addPredicate("d.document_type =", req.DocumentType)
	}
	if req.StartDate != nil {
		addPredicate("d.publish_date >=", *req.StartDate)
	}
	if req.EndDate != nil {
		addPredicate("d.publish_date <=", *req.EndDate)
	}
	if req.CorpusID != "" {
		addPredicate("d.corpus_id =", req.CorpusID)
	}
	if req.HierarchyLevel != nil {
		addPredicate("c.hierarchy_level =", *req.HierarchyLevel)
	}

	args = append(args, expanded)
	expandedArg := len(args)
	args = append(args, topK)
	topKArg := len(args)

	sql := fmt.Sprintf(`
WITH ranked AS (
  SELECT c.id, c.document_id, c.content, c.start_char, c.end_char, c.hierarchy_level,
         d.title, d.theme, d.document_type, d.publish_date,
         %s AS distance
  %s
  %s
  ORDER BY distance
  LIMIT $%d
)
SELECT * FROM ranked ORDER BY distance LIMIT $%d`,
		distance, from, where.String(), expandedArg, topKArg)

	return sql, args
}
