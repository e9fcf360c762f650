package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hyperengineering/planlearn/internal/types"
	chromem "github.com/philippgille/chromem-go"
)

// Index is an in-process vector index over embedded facts. Each user gets
// a collection that is filled from the store on first use.
type Index struct {
	db   *chromem.DB
	mu   sync.Mutex
	warm map[string]bool
}

// Match is one vector search hit.
type Match struct {
	ID           string
	Content      string
	NumTimes     int
	DateLastTime time.Time
	Similarity   float32
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		db:   chromem.NewDB(),
		warm: make(map[string]bool),
	}
}

func collectionName(userID string) string {
	return "user_" + userID
}

func (x *Index) collection(userID string) (*chromem.Collection, error) {
	// Embeddings are always supplied, so no embedding func is configured
	col, err := x.db.GetOrCreateCollection(collectionName(userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return col, nil
}

// Warm loads a user's embedded facts once. Later calls are no-ops until
// the user is dropped.
func (x *Index) Warm(ctx context.Context, userID string, load func(context.Context) ([]types.Fact, error)) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.warm[userID] {
		return nil
	}

	facts, err := load(ctx)
	if err != nil {
		return err
	}
	col, err := x.collection(userID)
	if err != nil {
		return err
	}
	for _, f := range facts {
		if len(f.Embedding) == 0 {
			continue
		}
		if err := col.AddDocument(ctx, document(f)); err != nil {
			return fmt.Errorf("index fact %s: %w", f.ID, err)
		}
	}
	x.warm[userID] = true
	return nil
}

// Add indexes or refreshes a fact. Facts without an embedding and facts of
// users that were never warmed are skipped; the latter load on next use.
func (x *Index) Add(ctx context.Context, f types.Fact) error {
	if len(f.Embedding) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.warm[f.UserID] {
		return nil
	}
	col, err := x.collection(f.UserID)
	if err != nil {
		return err
	}
	if err := col.AddDocument(ctx, document(f)); err != nil {
		return fmt.Errorf("index fact %s: %w", f.ID, err)
	}
	return nil
}

// Count returns how many facts are indexed for a user.
func (x *Index) Count(userID string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	col := x.db.GetCollection(collectionName(userID), nil)
	if col == nil {
		return 0
	}
	return col.Count()
}

// Query returns up to limit facts nearest to embedding.
func (x *Index) Query(ctx context.Context, userID string, embedding []float32, limit int) ([]Match, error) {
	x.mu.Lock()
	col := x.db.GetCollection(collectionName(userID), nil)
	x.mu.Unlock()
	if col == nil {
		return nil, nil
	}

	// chromem rejects nResults larger than the collection
	n := min(limit, col.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		numTimes, _ := strconv.Atoi(r.Metadata["num_times"])
		last, _ := time.Parse(time.RFC3339Nano, r.Metadata["date_last_time"])
		matches = append(matches, Match{
			ID:           r.ID,
			Content:      r.Content,
			NumTimes:     numTimes,
			DateLastTime: last,
			Similarity:   r.Similarity,
		})
	}
	return matches, nil
}

// Drop forgets a user's collection.
func (x *Index) Drop(userID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.warm, userID)
	if err := x.db.DeleteCollection(collectionName(userID)); err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	return nil
}

// Reset forgets every collection.
func (x *Index) Reset() error {
	x.mu.Lock()
	users := make([]string, 0, len(x.warm))
	for u := range x.warm {
		users = append(users, u)
	}
	x.mu.Unlock()

	for _, u := range users {
		if err := x.Drop(u); err != nil {
			return err
		}
	}
	return nil
}

func document(f types.Fact) chromem.Document {
	return chromem.Document{
		ID:        f.ID,
		Content:   f.Content,
		Embedding: f.Embedding,
		Metadata: map[string]string{
			"num_times":      strconv.Itoa(f.NumTimes),
			"date_last_time": f.DateLastTime.Format(time.RFC3339Nano),
		},
	}
}
