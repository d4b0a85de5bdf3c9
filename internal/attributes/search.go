package attributes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"matching-workers/internal/matching"
	"matching-workers/internal/models"
)

// SearchSource pages candidates from the member and listing search indexes.
// Documents are snapshots with location mapped as geo_point and
// tenantId, kind, categories and id as keywords.
type SearchSource struct {
	client  *elasticsearch.Client
	indexes map[matching.CandidateKind]string
}

func NewSearchSource(client *elasticsearch.Client, memberIndex, listingIndex string) *SearchSource {
	return &SearchSource{
		client: client,
		indexes: map[matching.CandidateKind]string{
			models.KindMember:  memberIndex,
			models.KindListing: listingIndex,
		},
	}
}

var _ matching.CandidateSource = (*SearchSource)(nil)

// ErrSearchFailed marks transport and cluster failures of a candidate search.
var ErrSearchFailed = errors.New("candidate search failed")

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source models.Snapshot `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *SearchSource) Page(ctx context.Context, q matching.CandidateQuery) ([]*models.Snapshot, error) {
	index, ok := s.indexes[q.Kind]
	if !ok || index == "" {
		return nil, fmt.Errorf("no search index for kind %q", q.Kind)
	}

	body, err := json.Marshal(buildCandidateQuery(q))
	if err != nil {
		return nil, fmt.Errorf("encode search query: %w", err)
	}
	from, size := q.Offset, q.Limit
	req := esapi.SearchRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
		From:  &from,
		Size:  &size,
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: %s", ErrSearchFailed, res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]*models.Snapshot, 0, len(parsed.Hits.Hits))
	for i := range parsed.Hits.Hits {
		snap := parsed.Hits.Hits[i].Source
		if snap.TenantID == "" {
			snap.TenantID = q.TenantID
		}
		if snap.Kind == "" {
			snap.Kind = q.Kind
		}
		out = append(out, &snap)
	}
	return out, nil
}

// buildCandidateQuery mirrors the SQL push-down: documents without a
// location or categories are kept for the in-process filters.
func buildCandidateQuery(q matching.CandidateQuery) map[string]interface{} {
	filters := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"tenantId": q.TenantID}},
		map[string]interface{}{"term": map[string]interface{}{"active": true}},
	}

	if q.MaxDistanceKm > 0 && q.Subject != nil && q.Subject.Location != nil {
		filters = append(filters, orMissing("location", map[string]interface{}{
			"geo_distance": map[string]interface{}{
				"distance": fmt.Sprintf("%gkm", q.MaxDistanceKm),
				"location": map[string]interface{}{
					"lat": q.Subject.Location.Lat,
					"lon": q.Subject.Location.Lon,
				},
			},
		}))
	}
	if len(q.Categories) > 0 {
		filters = append(filters, orMissing("categories", map[string]interface{}{
			"terms": map[string]interface{}{"categories": q.Categories},
		}))
	}

	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
		"sort": []interface{}{
			map[string]interface{}{"id": map[string]interface{}{"order": "asc"}},
		},
	}
}

func orMissing(field string, clause map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"should": []interface{}{
				clause,
				map[string]interface{}{
					"bool": map[string]interface{}{
						"must_not": map[string]interface{}{"exists": map[string]interface{}{"field": field}},
					},
				},
			},
			"minimum_should_match": 1,
		},
	}
}
