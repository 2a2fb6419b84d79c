package connectors

import (
	"context"

	"github.com/adpilot/adpilot/internal/keywords"
)

// Static serves a fixed record set. It backs tests and offline replays of
// exported KWP / GSC data.
type Static struct {
	ConnectorName string
	DataSource    keywords.DataSource
	Records       []keywords.Record
	Err           error
}

func (s *Static) Name() string                { return s.ConnectorName }
func (s *Static) Source() keywords.DataSource { return s.DataSource }

func (s *Static) Fetch(ctx context.Context, req Request) ([]keywords.Record, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]keywords.Record, len(s.Records))
	copy(out, s.Records)
	return out, nil
}

// StaticSERP serves fixed competitor results keyed by "query|market".
type StaticSERP struct {
	Results map[string]*SERPResult
	Err     error
}

func (s *StaticSERP) Analyze(ctx context.Context, query, market string) (*SERPResult, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if r, ok := s.Results[query+"|"+market]; ok {
		return r, nil
	}
	return &SERPResult{Query: query, Market: market}, nil
}
