package guardrail

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// BudgetChange proposes a new daily budget for one campaign.
type BudgetChange struct {
	CampaignID    string  `json:"campaign_id"`
	CampaignName  string  `json:"campaign_name,omitempty"`
	CurrentBudget float64 `json:"current_budget"`
	NewBudget     float64 `json:"new_budget"`
}

// Delta returns the signed budget change.
func (c *BudgetChange) Delta() float64 {
	return c.NewBudget - c.CurrentBudget
}

// IsIncrease reports whether the change raises the budget.
func (c *BudgetChange) IsIncrease() bool {
	return c.NewBudget > c.CurrentBudget
}

// Proposal is a set of budget changes validated as a unit.
type Proposal struct {
	ID        string         `json:"id"`
	Currency  string         `json:"currency"`
	Changes   []BudgetChange `json:"changes"`
	Requester string         `json:"requester"`
	CreatedAt time.Time      `json:"created_at"`
}

// TotalProposed sums the proposed budgets.
func (p *Proposal) TotalProposed() float64 {
	total := 0.0
	for _, c := range p.Changes {
		total += c.NewBudget
	}
	return total
}

// Hash is a short stable digest of the proposal's change set, used to key
// audit rows. Changes are hashed in campaign order so equal proposals hash
// equally regardless of input order.
func (p *Proposal) Hash() string {
	changes := append([]BudgetChange(nil), p.Changes...)
	sort.Slice(changes, func(i, j int) bool { return changes[i].CampaignID < changes[j].CampaignID })

	payload, _ := json.Marshal(struct {
		Currency string         `json:"currency"`
		Changes  []BudgetChange `json:"changes"`
	}{p.Currency, changes})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:12]
}
