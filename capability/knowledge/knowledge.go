// Package knowledge provides the internal-document lookup capability over an
// embedded chromem-go vector collection.
package knowledge

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/hupe1980/concierge/capability"
)

// Name is the capability identifier exposed to the worker model.
const Name = "search_knowledge"

const collectionName = "knowledge"

// Document is one searchable unit of internal knowledge.
type Document struct {
	ID      string `yaml:"id" json:"id"`
	Title   string `yaml:"title" json:"title"`
	Content string `yaml:"content" json:"content"`
	Source  string `yaml:"source" json:"source,omitempty"`
}

// Hit is a ranked search result.
type Hit struct {
	Document
	Similarity float32
}

// Options configure the knowledge base.
type Options struct {
	// Embedder defaults to HashingEmbedder(512).
	Embedder chromem.EmbeddingFunc
	// PersistPath enables chromem's gob persistence when non-empty.
	PersistPath   string
	TopK          int
	MinSimilarity float32
	ServiceName   string
}

// Base is a searchable document collection.
type Base struct {
	mu   sync.Mutex
	db   *chromem.DB
	col  *chromem.Collection
	opts Options
}

// New creates a knowledge base and indexes docs.
func New(ctx context.Context, docs []Document, optFns ...func(o *Options)) (*Base, error) {
	opts := Options{
		TopK:          2,
		MinSimilarity: 0.15,
		ServiceName:   "internal knowledge base",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Embedder == nil {
		opts.Embedder = HashingEmbedder(512)
	}

	db := chromem.NewDB()
	if opts.PersistPath != "" {
		pdb, err := chromem.NewPersistentDB(opts.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("open knowledge store: %w", err)
		}
		db = pdb
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, opts.Embedder)
	if err != nil {
		return nil, fmt.Errorf("open knowledge collection: %w", err)
	}

	b := &Base{db: db, col: col, opts: opts}
	if err := b.Add(ctx, docs...); err != nil {
		return nil, err
	}
	return b, nil
}

// NewOpenAIEmbedder returns chromem's OpenAI embedding function for callers
// that prefer semantic embeddings over hashing.
func NewOpenAIEmbedder(apiKey string) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI3Small)
}

// Add indexes docs. Documents with an existing ID are replaced.
func (b *Base) Add(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	cdocs := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		if d.ID == "" || strings.TrimSpace(d.Content) == "" {
			return fmt.Errorf("knowledge document needs id and content (got id %q)", d.ID)
		}
		cdocs = append(cdocs, chromem.Document{
			ID:       d.ID,
			Content:  d.Title + "\n" + d.Content,
			Metadata: map[string]string{"title": d.Title, "source": d.Source},
		})
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.col.AddDocuments(ctx, cdocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("index knowledge documents: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (b *Base) Count() int { return b.col.Count() }

// Search returns up to k documents at or above MinSimilarity, best first.
func (b *Base) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		k = b.opts.TopK
	}
	if n := b.col.Count(); k > n {
		k = n
	}
	if k == 0 {
		return nil, nil
	}
	results, err := b.col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if r.Similarity < b.opts.MinSimilarity {
			continue
		}
		_, content, _ := strings.Cut(r.Content, "\n")
		hits = append(hits, Hit{
			Document: Document{
				ID:      r.ID,
				Title:   r.Metadata["title"],
				Content: content,
				Source:  r.Metadata["source"],
			},
			Similarity: r.Similarity,
		})
	}
	return hits, nil
}

// Args is the argument struct of the capability.
type Args struct {
	Query string `json:"query" description:"What to look up in internal documents"`
}

// Capability exposes the base as the search capability.
func (b *Base) Capability() *capability.FunctionCapability {
	return capability.NewFunctionFromStruct(Name, b.opts.ServiceName,
		"Search internal company documents (policies, handbook, procedures).",
		Args{},
		func(ctx context.Context, args map[string]any) (string, error) {
			q, _ := args["query"].(string)
			hits, err := b.Search(ctx, q, 0)
			if err != nil {
				return "", capability.Unavailable(Name, err)
			}
			if len(hits) == 0 {
				return "No internal document matches this question.", nil
			}
			var sb strings.Builder
			for i, h := range hits {
				if i > 0 {
					sb.WriteString("\n")
				}
				fmt.Fprintf(&sb, "%s: %s", h.Title, h.Content)
			}
			return sb.String(), nil
		})
}

// DefaultDocuments is the demo handbook.
func DefaultDocuments() []Document {
	return []Document{
		{
			ID:      "handbook-vacation",
			Title:   "Vacation policy",
			Content: "Employees receive 25 vacation days per calendar year. Up to 5 unused days carry over until March 31.",
			Source:  "handbook",
		},
		{
			ID:      "handbook-remote",
			Title:   "Remote work policy",
			Content: "Remote work is allowed up to 3 days per week after agreement with the team lead.",
			Source:  "handbook",
		},
		{
			ID:      "handbook-expenses",
			Title:   "Travel expense policy",
			Content: "Travel expenses must be submitted within 30 days. Economy class is required for flights under 6 hours.",
			Source:  "handbook",
		},
	}
}
