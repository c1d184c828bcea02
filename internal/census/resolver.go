package census

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"dealtracker/server/internal/marketkey"

	"github.com/sirupsen/logrus"
)

// CatalogLister lists the statistical areas published for a reference year.
type CatalogLister interface {
	ListStatisticalAreas(ctx context.Context, year int) ([]StatisticalArea, error)
}

// Resolver maps market names to statistical-area codes.
type Resolver struct {
	catalog CatalogLister
	logger  *logrus.Logger
}

func NewResolver(catalog CatalogLister, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{catalog: catalog, logger: logger}
}

// ResolveCode returns the code of the best-matching statistical area, or ""
// when nothing matches. An empty result is not an error.
func (r *Resolver) ResolveCode(ctx context.Context, name string, year int) (string, error) {
	areas, err := r.catalog.ListStatisticalAreas(ctx, year)
	if err != nil {
		return "", fmt.Errorf("failed to list statistical areas for %d: %w", year, err)
	}

	area, ok := MatchStatisticalArea(name, areas)
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"market": name,
			"year":   year,
		}).Warn("No statistical area matched market name")
		return "", nil
	}

	r.logger.WithFields(logrus.Fields{
		"market":    name,
		"area_name": area.Name,
		"code":      area.Code,
	}).Info("Resolved statistical area")
	return area.Code, nil
}

// MatchStatisticalArea finds the area whose canonical key matches name.
//
// An exact key match returns immediately. Otherwise any area whose key contains
// the target key, or is contained by it, is a candidate scored by the length of
// the shorter of the two keys. The highest score wins; equal scores go to the
// shorter candidate key, then to the lower code.
//
// When no key matches and name carries a state, place tokens are compared the
// same way, restricted to areas listing every state of the target. Catalog
// names append principal cities and states ("Nashville-Davidson--Murfreesboro
// --Franklin, TN"), so a qualified shorter spelling never appears verbatim.
func MatchStatisticalArea(name string, areas []StatisticalArea) (StatisticalArea, bool) {
	target := marketkey.Parse(name)
	if target.String() == "" {
		return StatisticalArea{}, false
	}

	keys := make([]marketkey.Key, len(areas))
	for i, area := range areas {
		keys[i] = marketkey.Parse(area.Name)
		if keys[i].String() == target.String() {
			return area, true
		}
	}

	var m areaMatcher
	for i, area := range areas {
		m.offer(area, keys[i].String(), target.String())
	}
	if m.found || !target.Qualified() || target.Place == "" {
		return m.best, m.found
	}

	for i, area := range areas {
		if keys[i].Place == "" || !coversStates(keys[i].State, target.State) {
			continue
		}
		m.offer(area, keys[i].Place, target.Place)
	}
	return m.best, m.found
}

type areaMatcher struct {
	best      StatisticalArea
	bestKey   string
	bestScore int
	found     bool
}

func (m *areaMatcher) offer(area StatisticalArea, key, target string) {
	if key == "" {
		return
	}
	if !strings.Contains(key, target) && !strings.Contains(target, key) {
		return
	}

	score := min(len(key), len(target))
	if !m.found || score > m.bestScore ||
		(score == m.bestScore && len(key) < len(m.bestKey)) ||
		(score == m.bestScore && len(key) == len(m.bestKey) && area.Code < m.best.Code) {
		m.best, m.bestKey, m.bestScore, m.found = area, key, score, true
	}
}

// coversStates reports whether every token of want appears in have.
func coversStates(have, want string) bool {
	tokens := strings.Fields(have)
	for _, w := range strings.Fields(want) {
		if !slices.Contains(tokens, w) {
			return false
		}
	}
	return true
}
