// Package analytics classifies CRM lead tags into semantic dimensions and
// computes period, daily, vendor and persona statistics over fetched leads.
package analytics

import "strings"

// Dimension is the semantic meaning of a lead tag.
type Dimension string

const (
	DimensionSalesperson Dimension = "salesperson"
	DimensionPersona     Dimension = "persona"
	DimensionSource      Dimension = "source"
	DimensionUnknown     Dimension = "unknown"
)

// Classification is the normalized shape of a raw tag: its dimension and the
// human label extracted from it ("vendedor:Ana" -> "Ana").
type Classification struct {
	Dimension Dimension
	Label     string
}

// dimensionOrder is the explicit tie-break priority for tags whose name
// matches more than one keyword set. Salesperson wins over persona, persona
// over source.
var dimensionOrder = []Dimension{
	DimensionSalesperson,
	DimensionPersona,
	DimensionSource,
}

var dimensionKeywords = map[Dimension][]string{
	DimensionSalesperson: {"vendedor", "vendedora", "responsável", "responsavel", "atendente"},
	DimensionPersona:     {"persona", "perfil", "segmento"},
	DimensionSource:      {"origem", "fonte", "canal", "source"},
}

// Classify maps a free-text tag name to its dimension by case-insensitive
// substring matching against fixed keyword sets, in priority order. Every
// input maps to exactly one dimension and the mapping is deterministic.
func Classify(tagName string) Classification {
	lower := strings.ToLower(strings.TrimSpace(tagName))

	for _, dim := range dimensionOrder {
		for _, kw := range dimensionKeywords[dim] {
			if strings.Contains(lower, kw) {
				return Classification{Dimension: dim, Label: extractLabel(tagName)}
			}
		}
	}
	return Classification{Dimension: DimensionUnknown, Label: strings.TrimSpace(tagName)}
}

// extractLabel strips the keyword prefix from tags of the form
// "vendedor:Ana" or "origem - instagram". Without a separator the trimmed
// tag itself is the label.
func extractLabel(tagName string) string {
	trimmed := strings.TrimSpace(tagName)
	for _, sep := range []string{":", " - ", "-"} {
		if i := strings.Index(trimmed, sep); i >= 0 {
			if label := strings.TrimSpace(trimmed[i+len(sep):]); label != "" {
				return label
			}
		}
	}
	return trimmed
}
