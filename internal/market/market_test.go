package market

import (
	"errors"
	"strings"
	"testing"

	"github.com/nicholasRutherford/play-money/internal/model"
)

// --- Slugify tests ---

func TestSlugify(t *testing.T) {
	tests := []struct {
		question string
		want     string
	}{
		{"Will it rain tomorrow?", "will-it-rain-tomorrow"},
		{"Is 2 > 1???", "is-2-1"},
		{"  Leading and trailing  ", "leading-and-trailing"},
		{"UPPER case", "upper-case"},
		{"a--b   c", "a-b-c"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.question); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.question, got, tt.want)
		}
	}
}

func TestSlugify_TruncatesLongQuestions(t *testing.T) {
	slug := Slugify(strings.Repeat("word ", 50))
	if len(slug) > maxSlugLen {
		t.Errorf("slug length %d exceeds %d", len(slug), maxSlugLen)
	}
	if strings.HasSuffix(slug, "-") {
		t.Errorf("truncated slug ends in hyphen: %q", slug)
	}
}

// --- New tests ---

func TestNew_Valid(t *testing.T) {
	m, accounts, err := New("Will it rain tomorrow?", "", "creator", []string{"Yes", "No"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Slug != "will-it-rain-tomorrow" {
		t.Errorf("expected derived slug, got %q", m.Slug)
	}
	if m.Status != model.MarketOpen {
		t.Errorf("expected open status, got %s", m.Status)
	}
	if len(m.Options) != 2 {
		t.Fatalf("expected 2 options, got %d", len(m.Options))
	}
	if len(accounts) != 2 {
		t.Fatalf("expected pool and clearing accounts, got %d", len(accounts))
	}
	if accounts[0].Type != model.AccountAMM || accounts[1].Type != model.AccountClearing {
		t.Errorf("unexpected account types: %s, %s", accounts[0].Type, accounts[1].Type)
	}
	if m.AMMAccountID != accounts[0].ID || m.ClearingAccountID != accounts[1].ID {
		t.Errorf("market does not reference its accounts")
	}
}

func TestNew_EmptyQuestion(t *testing.T) {
	_, _, err := New("   ", "", "creator", []string{"Yes", "No"})
	if !errors.Is(err, ErrInvalidQuestion) {
		t.Errorf("expected ErrInvalidQuestion, got %v", err)
	}
}

func TestNew_BadSlug(t *testing.T) {
	for _, slug := range []string{"Has Spaces", "UPPER", "double--hyphen", "-leading"} {
		_, _, err := New("Will it rain?", slug, "creator", []string{"Yes", "No"})
		if !errors.Is(err, ErrInvalidSlug) {
			t.Errorf("slug %q: expected ErrInvalidSlug, got %v", slug, err)
		}
	}
}

func TestNew_TooFewOptions(t *testing.T) {
	_, _, err := New("Will it rain?", "", "creator", []string{"Yes"})
	if !errors.Is(err, ErrTooFewOptions) {
		t.Errorf("expected ErrTooFewOptions, got %v", err)
	}
}

func TestNew_DuplicateOptions(t *testing.T) {
	_, _, err := New("Will it rain?", "", "creator", []string{"Yes", "Yes"})
	if !errors.Is(err, ErrDuplicateOption) {
		t.Errorf("expected ErrDuplicateOption, got %v", err)
	}
}

func TestNew_ManyOptions(t *testing.T) {
	m, _, err := New("Who wins the cup?", "", "creator", []string{"A", "B", "C", "D"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := make(map[string]bool)
	for _, o := range m.Options {
		if seen[o.ID] {
			t.Errorf("duplicate option ID %s", o.ID)
		}
		seen[o.ID] = true
		if o.MarketID != m.ID {
			t.Errorf("option %s not linked to market", o.Name)
		}
	}
}
