package services

import (
	"strconv"
	"strings"
	"time"

	"pipecrm/internal/models"
)

// DealValue parses the deal's text value as a float. Missing or unparseable
// values count as 0, so value conditions still evaluate deterministically.
func DealValue(deal *models.Deal) float64 {
	if deal == nil {
		return 0
	}
	raw := strings.TrimSpace(deal.Value)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

// EvaluateConditions reports whether a rule's condition set passes for the
// given deal snapshot. A nil deal never passes. A nil or empty condition set
// always passes; set predicates are combined with logical AND, absent ones
// are skipped.
func EvaluateConditions(conditions *models.RuleConditions, deal *models.Deal) bool {
	if deal == nil {
		return false
	}
	if conditions == nil {
		return true
	}

	if conditions.MinValue != nil && DealValue(deal) < *conditions.MinValue {
		return false
	}
	if conditions.MaxValue != nil && DealValue(deal) > *conditions.MaxValue {
		return false
	}
	if conditions.MinProbability != nil && deal.Probability < *conditions.MinProbability {
		return false
	}
	if conditions.MinDaysInStage != nil && deal.DaysInStage(time.Now()) < *conditions.MinDaysInStage {
		return false
	}
	if len(conditions.OwnerIDs) > 0 {
		if deal.OwnerID == nil {
			return false
		}
		found := false
		for _, id := range conditions.OwnerIDs {
			if id == *deal.OwnerID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if conditions.HasCompany != nil && (deal.CompanyID != nil) != *conditions.HasCompany {
		return false
	}

	return true
}
