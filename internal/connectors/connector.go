package connectors

import (
	"context"

	"github.com/adpilot/adpilot/internal/keywords"
)

// Request is the input every keyword connector receives.
type Request struct {
	Product string   `json:"product"`
	Seeds   []string `json:"seeds"`
	Markets []string `json:"markets"`
}

// Connector is the contract for one keyword data source. Thin wrappers over
// third-party APIs live outside the core; the orchestrator only sees this
// interface.
type Connector interface {
	Name() string
	Source() keywords.DataSource
	Fetch(ctx context.Context, req Request) ([]keywords.Record, error)
}

// SERPResult is one competitor observation for a query in a market.
type SERPResult struct {
	Query       string   `json:"query"`
	Market      string   `json:"market"`
	Competitors []string `json:"competitors"`
	Features    []string `json:"features"`
}

// SERPClient is the contract for bounded competitor SERP analysis.
type SERPClient interface {
	Analyze(ctx context.Context, query, market string) (*SERPResult, error)
}
