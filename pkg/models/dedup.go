package models

// SimilarityMethod names the metric a duplicate-detection run actually used.
type SimilarityMethod string

const (
	MethodEmbedding SimilarityMethod = "embedding"
	MethodJaccard   SimilarityMethod = "jaccard"
)

// DuplicateMember is one requirement inside a duplicate group.
type DuplicateMember struct {
	ReqID                      string  `json:"req_id"`
	Title                      string  `json:"title"`
	SimilarityToRepresentative float64 `json:"similarity_to_representative"`
}

// DuplicateGroup is a connected component of near-duplicate requirements.
// The representative is the member with the lexicographically lowest req_id.
type DuplicateGroup struct {
	GroupID       string            `json:"group_id"`
	Requirements  []DuplicateMember `json:"requirements"`
	AvgSimilarity float64           `json:"avg_similarity"`
}

// DedupStats reports how a duplicate-detection run was computed.
type DedupStats struct {
	Method    SimilarityMethod `json:"method"`
	Pairs     int              `json:"pairs"`
	Threshold float64          `json:"threshold"`
}

// DedupResult is the outcome of one FindDuplicates call.
type DedupResult struct {
	Groups []DuplicateGroup `json:"groups"`
	Stats  DedupStats       `json:"stats"`
}
