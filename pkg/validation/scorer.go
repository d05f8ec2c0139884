// Package validation scores requirements against the quality rubric. One
// scorer call judges a single requirement text on every requested
// criterion; the delegator fans a batch out over the worker pool.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reqforge/reqforge/pkg/cache"
	"github.com/reqforge/reqforge/pkg/llm"
	"github.com/reqforge/reqforge/pkg/models"
)

// Weights supplies per-criterion weights; keys absent from the map weigh
// 1.0.
type Weights interface {
	Weights(ctx context.Context) (map[string]float64, error)
}

// CriteriaLister exposes the rubric for prompt construction.
type CriteriaLister interface {
	List(ctx context.Context) ([]models.Criterion, error)
}

// Scorer judges one requirement text against the rubric in a single LLM
// call and caches the outcome by text checksum.
type Scorer struct {
	chat      llm.ChatClient
	criteria  CriteriaLister
	weights   Weights
	artifacts *cache.ArtifactCache
	logger    *slog.Logger
}

// NewScorer creates a scorer. artifacts may be nil to disable caching.
func NewScorer(chat llm.ChatClient, criteria CriteriaLister, weights Weights, artifacts *cache.ArtifactCache, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		chat:      chat,
		criteria:  criteria,
		weights:   weights,
		artifacts: artifacts,
		logger:    logger.With("component", "validation"),
	}
}

const scoringSystemPrompt = `You are a requirements quality auditor. Score the requirement against each criterion on [0,1].
Respond with strict JSON only:
{"scores": [{"criterion": "<key>", "score": 0.0, "passed": true, "feedback": "<one sentence>"}]}`

// scoredResponse is the strict JSON shape the scoring prompt asks for.
type scoredResponse struct {
	Scores []models.CriterionScore `json:"scores"`
}

// Score evaluates text on the given criteria keys (nil means the full
// rubric) and returns the persisted evaluation record. Identical texts hit
// the artifact cache instead of the model, provided the cached record
// covers every requested criterion.
func (s *Scorer) Score(ctx context.Context, text string, criteriaKeys []string, threshold float64) (*models.EvaluationRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty requirement text")
	}
	checksum := models.Checksum(text)

	rubric, err := s.selectCriteria(ctx, criteriaKeys)
	if err != nil {
		return nil, err
	}

	if cached := s.cached(ctx, checksum, rubric); cached != nil {
		return cached, nil
	}

	start := time.Now()
	scores, modelID, err := s.callModel(ctx, text, rubric)
	if err != nil {
		return nil, err
	}

	weights, err := s.weights.Weights(ctx)
	if err != nil {
		s.logger.Warn("criterion weights unavailable, using 1.0 everywhere", "error", err)
		weights = map[string]float64{}
	}
	aggregate := WeightedScore(scores, weights)

	verdict := models.VerdictFail
	if aggregate >= threshold {
		verdict = models.VerdictPass
	}

	record := &models.EvaluationRecord{
		Evaluation: models.Evaluation{
			EvaluationID:        uuid.New().String(),
			RequirementChecksum: checksum,
			RequirementText:     text,
			Score:               aggregate,
			Verdict:             verdict,
			ModelID:             modelID,
			LatencyMs:           time.Since(start).Milliseconds(),
			CreatedAt:           time.Now().UTC(),
		},
		Details: scores,
	}

	if s.artifacts != nil {
		err := s.artifacts.Put(ctx, &cache.Record{
			Scope:      cache.ScopeEvaluation,
			Checksum:   checksum,
			Evaluation: record,
		})
		if err != nil {
			s.logger.Warn("failed to persist evaluation, result still returned", "checksum", checksum, "error", err)
		}
	}
	return record, nil
}

// cached returns a prior evaluation when every requested criterion is
// already covered by it.
func (s *Scorer) cached(ctx context.Context, checksum string, rubric []models.Criterion) *models.EvaluationRecord {
	if s.artifacts == nil {
		return nil
	}
	rec, err := s.artifacts.GetLatestByChecksum(ctx, checksum, cache.ScopeEvaluation)
	if err != nil || rec == nil || rec.Evaluation == nil {
		return nil
	}
	covered := make(map[string]bool, len(rec.Evaluation.Details))
	for _, d := range rec.Evaluation.Details {
		covered[d.CriterionKey] = true
	}
	for _, c := range rubric {
		if !covered[c.Key] {
			return nil
		}
	}
	return rec.Evaluation
}

// callModel runs the scoring completion and parses the strict JSON reply.
func (s *Scorer) callModel(ctx context.Context, text string, rubric []models.Criterion) ([]models.CriterionScore, string, error) {
	var prompt strings.Builder
	prompt.WriteString("Criteria:\n")
	for _, c := range rubric {
		fmt.Fprintf(&prompt, "- %s: %s\n", c.Key, c.Description)
	}
	fmt.Fprintf(&prompt, "\nRequirement:\n%s\n", text)

	completion, err := s.chat.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: scoringSystemPrompt},
		{Role: llm.RoleUser, Content: prompt.String()},
	}, llm.CompleteOptions{Temperature: 0.1})
	if err != nil {
		return nil, "", fmt.Errorf("scoring call failed: %w", err)
	}

	var parsed scoredResponse
	if err := json.Unmarshal([]byte(stripFences(completion.Content)), &parsed); err != nil {
		return nil, "", fmt.Errorf("scoring response is not valid JSON: %w", err)
	}

	known := make(map[string]bool, len(rubric))
	for _, c := range rubric {
		known[c.Key] = true
	}
	scores := make([]models.CriterionScore, 0, len(parsed.Scores))
	for _, sc := range parsed.Scores {
		if !known[sc.CriterionKey] {
			continue // unknown criteria are dropped, not scored
		}
		if sc.Score < 0 {
			sc.Score = 0
		}
		if sc.Score > 1 {
			sc.Score = 1
		}
		scores = append(scores, sc)
	}
	if len(scores) == 0 {
		return nil, "", fmt.Errorf("scoring response contained no usable criterion scores")
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].CriterionKey < scores[j].CriterionKey })
	return scores, completion.ModelID, nil
}

// selectCriteria resolves the requested keys against the stored rubric;
// nil keys means the full rubric.
func (s *Scorer) selectCriteria(ctx context.Context, keys []string) ([]models.Criterion, error) {
	all, err := s.criteria.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rubric: %w", err)
	}
	if len(keys) == 0 {
		return all, nil
	}
	byKey := make(map[string]models.Criterion, len(all))
	for _, c := range all {
		byKey[c.Key] = c
	}
	var selected []models.Criterion
	for _, k := range keys {
		if c, ok := byKey[k]; ok {
			selected = append(selected, c)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no known criteria among %v", keys)
	}
	return selected, nil
}

// WeightedScore computes the weighted mean of criterion scores. Criteria
// missing from the weight map weigh 1.0.
func WeightedScore(scores []models.CriterionScore, weights map[string]float64) float64 {
	var sum, totalWeight float64
	for _, s := range scores {
		w, ok := weights[s.CriterionKey]
		if !ok || w <= 0 {
			w = 1.0
		}
		sum += s.Score * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
