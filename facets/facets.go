// Package facets derives device collections from catalog metadata facets.
//
// A facet selector names one value of one metadata dimension (a tag, an
// author, a publisher, a language or a custom column). Users opt facet values
// into device sync; each enabled selector is presented to the device as a
// read-only collection whose membership is recomputed from the catalog on
// every sync round.
package facets

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/books"
	"github.com/binderyhq/bindery/sql/facetprefs"
)

// Selector identifies one facet value, e.g. {Source: "tags", Value: "science fiction"}.
type Selector struct {
	Source string
	Value  string
}

// ValidSource reports whether source names a known metadata dimension.
// Custom columns are addressed as "cc:<name>".
func ValidSource(source string) bool {
	switch source {
	case books.FacetSubjects, books.FacetAuthors, books.FacetPublishers, books.FacetLanguages:
		return true
	}
	return strings.HasPrefix(source, "cc:") && len(source) > len("cc:")
}

// UUID returns the selector's stable collection id. The id is a function of
// the selector alone so that repeated sync rounds, resyncs and server restarts
// all present the same collection to the device.
func (s Selector) UUID() string {
	u := url.URL{Scheme: "bindery", Host: "collections", Path: "/facet"}
	q := url.Values{}
	q.Set("source", s.Source)
	q.Set("value", s.Value)
	u.RawQuery = q.Encode()
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(u.String())).String()
}

// Name returns the collection name shown on the device.
func (s Selector) Name() string {
	return s.Value
}

func (s Selector) String() string {
	return fmt.Sprintf("%s=%s", s.Source, s.Value)
}

// Enabled filters user preferences down to the selectors that are opted into
// device sync.
func Enabled(prefs []facetprefs.Pref) []Selector {
	var selectors []Selector
	for _, p := range prefs {
		if !p.SyncEnabled {
			continue
		}
		selectors = append(selectors, Selector{Source: p.Source, Value: p.Value})
	}
	return selectors
}

// Items lists the catalog books carrying the facet value, in catalog order.
func Items(db sql.Executor, s Selector) ([]books.Summary, error) {
	if !ValidSource(s.Source) {
		return nil, fmt.Errorf("facet source %q is not known", s.Source)
	}
	items, err := books.ByFacet(db, s.Source, s.Value)
	if err != nil {
		return nil, fmt.Errorf("list facet %s: %w", s, err)
	}
	return items, nil
}
