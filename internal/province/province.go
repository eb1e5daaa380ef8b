// Package province rewrites free-form province spellings to one canonical
// name per province.
//
// A Canonicalizer is built once from a canonical map (canonical name to the
// list of accepted variants), validated, and then shared read-only by every
// transformer that needs it. Matching is exact and case-sensitive after
// Unicode NFC normalization, so "Ávila" written with a combining accent
// matches the precomposed form.
package province

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"airhealth/internal/table"
)

// ExpectedCount is the number of canonical provinces a map must define.
const ExpectedCount = 52

var (
	ErrProvinceCount    = errors.New("province: unexpected canonical province count")
	ErrVariantCollision = errors.New("province: variant maps to more than one province")
	ErrMissingColumn    = errors.New("province: column not found")
)

//go:embed provinces.json
var defaultMap []byte

// Canonicalizer maps variant spellings to canonical province names.
// It is immutable after construction and safe for concurrent use.
type Canonicalizer struct {
	reverse  map[string]string
	variants map[string][]string
	names    []string
}

// Stats describes one Apply call.
type Stats struct {
	Mapped    int
	Unchanged int
	// Unmapped holds the distinct values that matched no variant, sorted.
	Unmapped []string
}

// Default loads the embedded map of the 52 Spanish provinces.
func Default() (*Canonicalizer, error) {
	return Load(strings.NewReader(string(defaultMap)))
}

// LoadFile loads a canonical map from a JSON file.
func LoadFile(path string) (*Canonicalizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("province: open map: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a JSON object of canonical name -> variants and builds a
// Canonicalizer from it.
func Load(r io.Reader) (*Canonicalizer, error) {
	var m map[string][]string
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("province: decode map: %w", err)
	}
	return FromMap(m)
}

// FromMap validates m and builds the reverse index.
//
// Errors:
//   - ErrProvinceCount unless m has exactly ExpectedCount entries.
//   - ErrVariantCollision when one spelling is claimed by two provinces,
//     including a canonical name listed as another province's variant.
func FromMap(m map[string][]string) (*Canonicalizer, error) {
	if len(m) != ExpectedCount {
		return nil, fmt.Errorf("%w: expected %d provinces, got %d", ErrProvinceCount, ExpectedCount, len(m))
	}

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, norm.NFC.String(name))
	}
	sort.Strings(names)

	c := &Canonicalizer{
		reverse:  make(map[string]string, len(m)*4),
		variants: make(map[string][]string, len(m)),
		names:    names,
	}

	// Canonical names first so they always map to themselves.
	for _, name := range names {
		c.reverse[name] = name
	}

	var collisions []string
	for rawName, vs := range m {
		name := norm.NFC.String(rawName)
		list := make([]string, 0, len(vs))
		for _, v := range vs {
			v = norm.NFC.String(v)
			if prev, ok := c.reverse[v]; ok && prev != name {
				collisions = append(collisions, fmt.Sprintf("%q (%s, %s)", v, prev, name))
				continue
			}
			c.reverse[v] = name
			list = append(list, v)
		}
		c.variants[name] = list
	}
	if len(collisions) > 0 {
		sort.Strings(collisions)
		return nil, fmt.Errorf("%w: %s", ErrVariantCollision, strings.Join(collisions, "; "))
	}
	return c, nil
}

// Len returns the number of canonical provinces.
func (c *Canonicalizer) Len() int { return len(c.names) }

// Names returns the canonical names, sorted.
func (c *Canonicalizer) Names() []string {
	return append([]string(nil), c.names...)
}

// Variants returns the accepted variants of a canonical name.
func (c *Canonicalizer) Variants(name string) []string {
	return append([]string(nil), c.variants[norm.NFC.String(name)]...)
}

// Canonical returns the canonical name for v. Canonical names map to
// themselves.
func (c *Canonicalizer) Canonical(v string) (string, bool) {
	name, ok := c.reverse[norm.NFC.String(v)]
	return name, ok
}

// Apply rewrites every matching cell of column in place. Cells that match no
// variant, and nulls, are left untouched. Applying twice is a no-op the
// second time.
//
// Errors:
//   - ErrMissingColumn when the table has no such column. An empty table with
//     the column is fine.
func (c *Canonicalizer) Apply(t *table.Table, column string) (Stats, error) {
	col := t.Column(column)
	if col == nil {
		return Stats{}, fmt.Errorf("%w: %q", ErrMissingColumn, column)
	}

	var st Stats
	unmapped := map[string]struct{}{}
	for i, v := range col.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		name, found := c.Canonical(s)
		switch {
		case !found:
			unmapped[s] = struct{}{}
		case name == s:
			st.Unchanged++
		default:
			col.Values[i] = name
			st.Mapped++
		}
	}
	for v := range unmapped {
		st.Unmapped = append(st.Unmapped, v)
	}
	sort.Strings(st.Unmapped)
	return st, nil
}
