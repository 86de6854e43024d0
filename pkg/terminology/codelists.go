// Package terminology validates controlled-terminology code/decode pairs in
// extracted documents and resolves free-text terms to codelist entries
// through a tiered source: curated synonyms, then the embedded codelists,
// then batched LLM inference for novel terms.
package terminology

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

//go:embed codelists.json
var codelistsRaw []byte

// Entry is one controlled term.
type Entry struct {
	Code     string   `json:"code"`
	Decode   string   `json:"decode"`
	Synonyms []string `json:"synonyms"`
}

// Codelist is a named set of controlled terms.
type Codelist struct {
	Name       string
	CodeSystem string  `json:"codeSystem"`
	Entries    []Entry `json:"entries"`

	byCode   map[string]*Entry
	byDecode map[string]*Entry
}

var (
	loadOnce  sync.Once
	codelists map[string]*Codelist
	loadErr   error
)

// Lists returns the embedded codelists keyed by name.
func Lists() (map[string]*Codelist, error) {
	loadOnce.Do(func() {
		var raw map[string]*Codelist
		if err := json.Unmarshal(codelistsRaw, &raw); err != nil {
			loadErr = fmt.Errorf("embedded codelists are corrupt: %w", err)
			return
		}
		for name, list := range raw {
			list.Name = name
			list.index()
		}
		codelists = raw
	})
	return codelists, loadErr
}

func (c *Codelist) index() {
	c.byCode = make(map[string]*Entry, len(c.Entries))
	c.byDecode = make(map[string]*Entry)
	for i := range c.Entries {
		e := &c.Entries[i]
		c.byCode[strings.ToUpper(e.Code)] = e
		c.byDecode[normalize(e.Decode)] = e
		for _, syn := range e.Synonyms {
			c.byDecode[normalize(syn)] = e
		}
	}
}

// ByCode finds the entry with the given code, case-insensitively.
func (c *Codelist) ByCode(code string) *Entry {
	return c.byCode[strings.ToUpper(strings.TrimSpace(code))]
}

// ByDecode finds the entry whose decode or synonym matches after
// normalization.
func (c *Codelist) ByDecode(decode string) *Entry {
	return c.byDecode[normalize(decode)]
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
