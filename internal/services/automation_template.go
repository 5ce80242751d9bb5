package services

import (
	"regexp"
	"strconv"
	"time"

	"pipecrm/internal/models"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z._]+)\s*\}\}`)

// InterpolateTemplate replaces the fixed set of {{deal.*}} placeholders with
// values from the deal. Unknown tokens render as an empty string. This is a
// token substitution, not a template language; it never evaluates expressions.
func InterpolateTemplate(template string, deal *models.Deal) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		token := placeholderRe.FindStringSubmatch(match)[1]
		return resolveToken(token, deal)
	})
}

func resolveToken(token string, deal *models.Deal) string {
	if deal == nil {
		return ""
	}
	switch token {
	case "deal.title":
		return deal.Title
	case "deal.value":
		return deal.Value
	case "deal.owner":
		return deal.Owner.FullName()
	case "deal.company":
		if deal.Company == nil {
			return ""
		}
		return deal.Company.Name
	case "deal.stage":
		if deal.Stage == nil {
			return ""
		}
		return deal.Stage.Name
	case "deal.daysInStage":
		return strconv.Itoa(deal.DaysInStage(time.Now()))
	default:
		return ""
	}
}
