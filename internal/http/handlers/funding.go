package handlers

import (
	"encoding/json"
	"net/http"

	"photobooth/internal/domain"
)

// GetFunding reports the active token and current balances.
func (a *App) GetFunding(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"active": a.Funding.Active(),
		"balances": map[string]int64{
			string(domain.TokenCredits): a.Funding.Balance(domain.TokenCredits),
			string(domain.TokenPremium): a.Funding.Balance(domain.TokenPremium),
		},
	})
}

// UpdateFunding sets the active token and/or balances. The wallet UI owns
// the actual payment flow; this endpoint only mirrors its outcome.
func (a *App) UpdateFunding(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Active   string           `json:"active"`
		Balances map[string]int64 `json:"balances"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if in.Active != "" {
		token := domain.FundingToken(in.Active)
		if token != domain.TokenCredits && token != domain.TokenPremium {
			a.json(w, http.StatusBadRequest, map[string]string{"error": "unknown funding token"})
			return
		}
		a.Funding.Switch(token)
	}
	for name, amount := range in.Balances {
		token := domain.FundingToken(name)
		if token != domain.TokenCredits && token != domain.TokenPremium {
			a.json(w, http.StatusBadRequest, map[string]string{"error": "unknown funding token"})
			return
		}
		a.Funding.SetBalance(token, amount)
	}
	a.GetFunding(w, r)
}
