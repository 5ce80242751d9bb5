package services

import (
	"testing"
	"time"

	"pipecrm/internal/models"
)

func TestInterpolateTemplate(t *testing.T) {
	deal := &models.Deal{
		Title:          "Acme expansion",
		Value:          "25000",
		Owner:          &models.User{FirstName: "Dana", LastName: "Reyes"},
		Company:        &models.Company{Name: "Acme Corp"},
		Stage:          &models.Stage{Name: "Negotiation"},
		StageEnteredAt: time.Now().AddDate(0, 0, -3),
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"title", "Deal: {{deal.title}}", "Deal: Acme expansion"},
		{"value", "worth {{deal.value}}", "worth 25000"},
		{"owner", "owned by {{deal.owner}}", "owned by Dana Reyes"},
		{"company", "at {{deal.company}}", "at Acme Corp"},
		{"stage", "in {{deal.stage}}", "in Negotiation"},
		{"days in stage", "{{deal.daysInStage}} days", "3 days"},
		{"spaces inside braces", "{{ deal.title }}", "Acme expansion"},
		{"unknown token renders empty", "x{{deal.bogus}}x", "xx"},
		{"multiple tokens", "{{deal.title}} ({{deal.value}})", "Acme expansion (25000)"},
		{"no tokens", "plain text", "plain text"},
		{"empty template", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InterpolateTemplate(tt.template, deal); got != tt.want {
				t.Errorf("InterpolateTemplate(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestInterpolateTemplate_MissingAssociations(t *testing.T) {
	deal := &models.Deal{Title: "Bare deal"}

	got := InterpolateTemplate("{{deal.owner}}|{{deal.company}}|{{deal.stage}}", deal)
	if got != "||" {
		t.Errorf("expected empty substitutions for missing associations, got %q", got)
	}

	if got := InterpolateTemplate("{{deal.title}}", nil); got != "" {
		t.Errorf("nil deal should render empty, got %q", got)
	}
}
