package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqforge/reqforge/pkg/embed"
	"github.com/reqforge/reqforge/pkg/models"
)

func req(id, title string) models.Requirement {
	return models.Requirement{ReqID: id, Title: title, Tag: models.TagFunctional}
}

func TestFindDuplicatesGroupsSimilarPair(t *testing.T) {
	// First two titles at cosine ~0.94, the third orthogonal.
	stub := &embed.StubEmbedder{
		Vectors: map[string][]float32{
			"System shall authenticate users via OAuth 2.0":      {1, 0.35, 0},
			"User authentication shall use OAuth 2.0 protocol":   {1, 0, 0},
			"Dashboard must load within 2 seconds":               {0, 0, 1},
		},
	}
	d := NewDetector(stub, nil)

	result, err := d.FindDuplicates(context.Background(), []models.Requirement{
		req("REQ-aaa-000", "System shall authenticate users via OAuth 2.0"),
		req("REQ-bbb-000", "User authentication shall use OAuth 2.0 protocol"),
		req("REQ-ccc-000", "Dashboard must load within 2 seconds"),
	}, 0.90)
	require.NoError(t, err)

	assert.Equal(t, models.MethodEmbedding, result.Stats.Method)
	require.Len(t, result.Groups, 1)

	group := result.Groups[0]
	require.Len(t, group.Requirements, 2)
	assert.Equal(t, "REQ-aaa-000", group.Requirements[0].ReqID)
	assert.Equal(t, "REQ-bbb-000", group.Requirements[1].ReqID)
	assert.InDelta(t, 1.0, group.Requirements[0].SimilarityToRepresentative, 1e-9)
	assert.Greater(t, group.Requirements[1].SimilarityToRepresentative, 0.90)
	assert.Greater(t, group.AvgSimilarity, 0.90)
}

func TestFindDuplicatesRepresentativeIsLowestReqID(t *testing.T) {
	stub := &embed.StubEmbedder{Default: []float32{1, 0}}
	d := NewDetector(stub, nil)

	// All identical vectors; input order deliberately not sorted by id.
	result, err := d.FindDuplicates(context.Background(), []models.Requirement{
		req("REQ-zzz-000", "same text"),
		req("REQ-aaa-000", "same text again"),
		req("REQ-mmm-000", "still the same"),
	}, 0.90)
	require.NoError(t, err)
	require.Len(t, result.Groups, 1)

	assert.Equal(t, "dup-REQ-aaa-000", result.Groups[0].GroupID)
	assert.Equal(t, "REQ-aaa-000", result.Groups[0].Requirements[0].ReqID)
}

func TestFindDuplicatesJaccardFallbackIsReported(t *testing.T) {
	stub := &embed.StubEmbedder{Err: errors.New("embedding endpoint down")}
	d := NewDetector(stub, nil)

	result, err := d.FindDuplicates(context.Background(), []models.Requirement{
		req("REQ-a-000", "the system shall log every failed login attempt"),
		req("REQ-b-000", "the system shall log every failed login attempt"),
		req("REQ-c-000", "reports are exported as CSV"),
	}, 0.90)
	require.NoError(t, err)

	assert.Equal(t, models.MethodJaccard, result.Stats.Method)
	require.Len(t, result.Groups, 1)
	assert.Len(t, result.Groups[0].Requirements, 2)
}

func TestFindDuplicatesBelowThresholdYieldsNoGroups(t *testing.T) {
	stub := &embed.StubEmbedder{
		Vectors: map[string][]float32{
			"alpha": {1, 0},
			"beta":  {0, 1},
		},
	}
	d := NewDetector(stub, nil)

	result, err := d.FindDuplicates(context.Background(), []models.Requirement{
		req("REQ-a-000", "alpha"),
		req("REQ-b-000", "beta"),
	}, 0.90)
	require.NoError(t, err)
	assert.Empty(t, result.Groups)
	assert.Equal(t, 1, result.Stats.Pairs)
}

func TestFindDuplicatesFewerThanTwoInputs(t *testing.T) {
	d := NewDetector(&embed.StubEmbedder{Default: []float32{1}}, nil)

	result, err := d.FindDuplicates(context.Background(), []models.Requirement{req("REQ-a-000", "only one")}, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Groups)
	assert.Equal(t, DefaultThreshold, result.Stats.Threshold)
}
