package toolindex

import (
	"sort"
	"sync"
)

// Index holds the two embedding matrices and serves two-stage searches.
type Index struct {
	mu         sync.RWMutex
	dimensions int
	servers    map[string]ServerEntry // keyed by ServerPath
	tools      map[string][]ToolEntry // keyed by ServerPath
}

// NewIndex creates an empty index for vectors of the given
// dimensionality.
func NewIndex(dimensions int) *Index {
	return &Index{
		dimensions: dimensions,
		servers:    make(map[string]ServerEntry),
		tools:      make(map[string][]ToolEntry),
	}
}

// Dimensions reports the configured embedding width.
func (idx *Index) Dimensions() int { return idx.dimensions }

// Upsert replaces a server's aggregate embedding and its full tool set.
// This is the unit of change the Tool Index's coalesced rebuild applies
// per service.
func (idx *Index) Upsert(serverVec ServerEntry, toolVecs []ToolEntry) error {
	if len(serverVec.Vector) != idx.dimensions {
		return ErrDimensionMismatch
	}
	for _, t := range toolVecs {
		if len(t.Vector) != idx.dimensions {
			return ErrDimensionMismatch
		}
	}

	serverVec.Vector = normalize(serverVec.Vector)
	normalized := make([]ToolEntry, len(toolVecs))
	for i, t := range toolVecs {
		t.Vector = normalize(t.Vector)
		normalized[i] = t
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.servers[serverVec.ServerPath] = serverVec
	idx.tools[serverVec.ServerPath] = normalized
	return nil
}

// Remove drops a service and its tools from the index.
func (idx *Index) Remove(serverPath string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.servers, serverPath)
	delete(idx.tools, serverPath)
}

// Len reports the number of indexed services, used by tests and the
// admin API's index-consistency reporting.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.servers)
}

// Search performs the two-stage query: narrow to the topServers
// highest-scoring services by server-level similarity to the query
// vector, then rank all of their tools and return the topTools highest
// scoring.
func (idx *Index) Search(queryVec []float32, topServers, topTools int) ([]Match, error) {
	if len(queryVec) != idx.dimensions {
		return nil, ErrDimensionMismatch
	}
	q := normalize(queryVec)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type scoredServer struct {
		path  string
		score float32
	}
	scoredServers := make([]scoredServer, 0, len(idx.servers))
	for path, s := range idx.servers {
		scoredServers = append(scoredServers, scoredServer{path: path, score: cosineSimilarity(q, s.Vector)})
	}
	sort.SliceStable(scoredServers, func(i, j int) bool {
		return scoredServers[i].score > scoredServers[j].score
	})

	if topServers > 0 && topServers < len(scoredServers) {
		scoredServers = scoredServers[:topServers]
	}

	var matches []Match
	for _, ss := range scoredServers {
		for _, t := range idx.tools[ss.path] {
			matches = append(matches, Match{
				ServerPath:  t.ServerPath,
				ServerName:  t.ServerName,
				ToolName:    t.ToolName,
				Description: t.Description,
				Score:       cosineSimilarity(q, t.Vector),
			})
		}
	}
	sortMatchesDescending(matches)

	if topTools > 0 && topTools < len(matches) {
		matches = matches[:topTools]
	}
	return matches, nil
}
