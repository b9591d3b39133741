// Package market handles market construction and validation: question and
// slug rules, option requirements, and the accounts every market owns.
package market

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nicholasRutherford/play-money/internal/model"
)

var (
	ErrInvalidQuestion = errors.New("market: question is required")
	ErrInvalidSlug     = errors.New("market: invalid slug")
	ErrTooFewOptions   = errors.New("market: at least two options are required")
	ErrDuplicateOption = errors.New("market: option names must be unique")
)

// slugRegex matches lowercase words separated by single hyphens,
// e.g. will-it-rain-tomorrow.
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

const maxSlugLen = 80

// Slugify derives a URL slug from a question. Callers may also supply their
// own slug, validated by New.
func Slugify(question string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(question) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	return slug
}

// New validates the inputs and builds an open market with fresh option IDs
// and its two dedicated accounts (AMM pool and clearing). A market with
// fewer than two options is an unsupported configuration and fails here,
// not at trade time.
func New(question, slug, createdBy string, optionNames []string) (*model.Market, []model.Account, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, nil, ErrInvalidQuestion
	}
	if slug == "" {
		slug = Slugify(question)
	}
	if !slugRegex.MatchString(slug) || len(slug) > maxSlugLen {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	if len(optionNames) < 2 {
		return nil, nil, ErrTooFewOptions
	}
	seen := make(map[string]bool, len(optionNames))
	for _, name := range optionNames {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, nil, fmt.Errorf("%w: empty option name", ErrDuplicateOption)
		}
		if seen[name] {
			return nil, nil, fmt.Errorf("%w: %q", ErrDuplicateOption, name)
		}
		seen[name] = true
	}

	now := time.Now().UTC()
	marketID := uuid.New().String()

	accounts := []model.Account{
		{ID: uuid.New().String(), Type: model.AccountAMM, CreatedAt: now},
		{ID: uuid.New().String(), Type: model.AccountClearing, CreatedAt: now},
	}

	m := &model.Market{
		ID:                marketID,
		Question:          question,
		Slug:              slug,
		CreatedBy:         createdBy,
		AMMAccountID:      accounts[0].ID,
		ClearingAccountID: accounts[1].ID,
		Status:            model.MarketOpen,
		CreatedAt:         now,
	}
	for _, name := range optionNames {
		m.Options = append(m.Options, model.MarketOption{
			ID:       uuid.New().String(),
			MarketID: marketID,
			Name:     strings.TrimSpace(name),
		})
	}
	return m, accounts, nil
}
