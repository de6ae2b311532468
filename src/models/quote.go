package models

import (
	"fmt"
	"strings"
	"time"
)

// MQuote is one priced offer returned by a provider. Immutable once produced.
type MQuote struct {
	ID             string            `json:"id"`
	ProviderID     string            `json:"providerId"`
	Premium        float64           `json:"premium"`
	CoverageAmount float64           `json:"coverageAmount"`
	TermMonths     int               `json:"termMonths"`
	PlanDetails    map[string]string `json:"planDetails,omitempty"`
	FetchedAt      time.Time         `json:"fetchedAt"`
}

// Key identifies a quote across redeliveries (provider + provider-scoped id).
func (q MQuote) Key() string {
	return q.ProviderID + "/" + q.ID
}

// -----------------------------------------------------------------------------

// MQuoteFilters is the search criteria forwarded unchanged to every provider.
type MQuoteFilters struct {
	ProductType    string            `json:"productType"`
	CoverageAmount float64           `json:"coverageAmount"`
	TermMonths     int               `json:"termMonths"`
	ApplicantAge   int               `json:"applicantAge,omitempty"`
	Region         string            `json:"region,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Validate checks the filters are well-formed before any provider is contacted.
func (f MQuoteFilters) Validate() error {
	if strings.TrimSpace(f.ProductType) == "" {
		return fmt.Errorf("productType is required")
	}
	if f.CoverageAmount <= 0 {
		return fmt.Errorf("coverageAmount must be greater than 0")
	}
	if f.TermMonths <= 0 {
		return fmt.Errorf("termMonths must be greater than 0")
	}
	if f.ApplicantAge < 0 || f.ApplicantAge > 130 {
		return fmt.Errorf("applicantAge out of range: %d", f.ApplicantAge)
	}
	return nil
}
