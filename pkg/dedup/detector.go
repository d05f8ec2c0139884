// Package dedup finds near-duplicate requirements by clustering their
// title embeddings. When the embedder is unreachable the detector falls
// back to Jaccard similarity over word sets and says so in the result
// stats, because the two metrics are not interchangeable.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/reqforge/reqforge/pkg/embed"
	"github.com/reqforge/reqforge/pkg/models"
)

// DefaultThreshold is the cosine similarity at or above which two
// requirements count as near-duplicates.
const DefaultThreshold = 0.90

// Detector clusters requirements into duplicate groups.
type Detector struct {
	embedder embed.Embedder
	logger   *slog.Logger
}

// NewDetector creates a detector over the given embedder.
func NewDetector(embedder embed.Embedder, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{embedder: embedder, logger: logger.With("component", "dedup")}
}

// FindDuplicates embeds every requirement title, unions pairs at or above
// threshold, and returns connected components of size >= 2 as groups. Pair
// order is (i asc, j asc) and union ties break toward the lower req_id, so
// identical input always produces identical groups.
func (d *Detector) FindDuplicates(ctx context.Context, requirements []models.Requirement, threshold float64) (*models.DedupResult, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	result := &models.DedupResult{
		Groups: []models.DuplicateGroup{},
		Stats:  models.DedupStats{Method: models.MethodEmbedding, Threshold: threshold},
	}
	if len(requirements) < 2 {
		return result, nil
	}

	titles := make([]string, len(requirements))
	for i, r := range requirements {
		titles[i] = r.Title
	}

	similarity, method, err := d.similarityFn(ctx, titles)
	if err != nil {
		return nil, err
	}
	result.Stats.Method = method

	uf := newUnionFind(requirements)
	sims := make(map[[2]int]float64)
	for i := 0; i < len(requirements); i++ {
		for j := i + 1; j < len(requirements); j++ {
			s := similarity(i, j)
			result.Stats.Pairs++
			if s >= threshold {
				sims[[2]int{i, j}] = s
				uf.union(i, j)
			}
		}
	}

	result.Groups = buildGroups(requirements, uf, sims)
	return result, nil
}

// similarityFn returns a pairwise similarity function over the titles,
// preferring embeddings and degrading to Jaccard when embedding fails.
func (d *Detector) similarityFn(ctx context.Context, titles []string) (func(i, j int) float64, models.SimilarityMethod, error) {
	vectors, err := d.embedder.Embed(ctx, titles)
	if err == nil && len(vectors) == len(titles) {
		return func(i, j int) float64 {
			return cosine(vectors[i], vectors[j])
		}, models.MethodEmbedding, nil
	}
	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}
	d.logger.Warn("embedding unavailable, falling back to Jaccard word similarity", "error", err)

	sets := make([]map[string]bool, len(titles))
	for i, t := range titles {
		sets[i] = wordSet(t)
	}
	return func(i, j int) float64 {
		return jaccard(sets[i], sets[j])
	}, models.MethodJaccard, nil
}

// buildGroups turns union-find components into sorted duplicate groups.
func buildGroups(requirements []models.Requirement, uf *unionFind, sims map[[2]int]float64) []models.DuplicateGroup {
	components := make(map[int][]int)
	for i := range requirements {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}

	var groups []models.DuplicateGroup
	for root, members := range components {
		if len(members) < 2 {
			continue
		}
		// The representative is the member with the lowest req_id; the
		// union-find root already is, but sort defensively by req_id for
		// stable member order.
		sort.Slice(members, func(a, b int) bool {
			return requirements[members[a]].ReqID < requirements[members[b]].ReqID
		})
		rep := members[0]

		group := models.DuplicateGroup{
			GroupID: fmt.Sprintf("dup-%s", requirements[rep].ReqID),
		}
		var sum float64
		var count int
		for _, m := range members {
			sim := 1.0
			if m != rep {
				sim = pairSim(sims, rep, m)
				sum += sim
				count++
			}
			group.Requirements = append(group.Requirements, models.DuplicateMember{
				ReqID:                      requirements[m].ReqID,
				Title:                      requirements[m].Title,
				SimilarityToRepresentative: sim,
			})
		}
		if count > 0 {
			group.AvgSimilarity = sum / float64(count)
		}
		groups = append(groups, group)
		_ = root
	}

	sort.Slice(groups, func(a, b int) bool { return groups[a].GroupID < groups[b].GroupID })
	return groups
}

// pairSim looks up the recorded similarity for a pair, falling back to the
// transitive path bound 0 when the pair joined through an intermediary.
func pairSim(sims map[[2]int]float64, a, b int) float64 {
	if a > b {
		a, b = b, a
	}
	if s, ok := sims[[2]int{a, b}]; ok {
		return s
	}
	return 0
}

// unionFind links requirement indexes; roots prefer the lower req_id so
// representatives are deterministic.
type unionFind struct {
	parent []int
	reqIDs []string
}

func newUnionFind(requirements []models.Requirement) *unionFind {
	uf := &unionFind{
		parent: make([]int, len(requirements)),
		reqIDs: make([]string, len(requirements)),
	}
	for i, r := range requirements {
		uf.parent[i] = i
		uf.reqIDs[i] = r.ReqID
	}
	return uf
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]] // path halving
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// Lower req_id wins the root, breaking ties deterministically.
	if u.reqIDs[rb] < u.reqIDs[ra] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
