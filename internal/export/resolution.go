// Package export rasterizes a finished badge at a chosen resolution and hands
// the PNG to an emitter.
package export

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dunamismax/badgeflow/internal/badge"
)

// DefaultLabel is preselected in the download menu.
const DefaultLabel = "2x"

var ErrUnknownResolution = errors.New("unknown export resolution")

// Resolution maps a menu label to the scale the badge is drawn at.
type Resolution struct {
	Label      string `json:"label"`
	Multiplier int    `json:"multiplier"`
	Name       string `json:"name"`
}

// Table is ordered the way the menu lists it. The label to multiplier
// mapping is chosen by design and is not a formula.
type Table []Resolution

func DefaultTable() Table {
	return Table{
		{Label: "1x", Multiplier: 1, Name: "Low"},
		{Label: "2x", Multiplier: 3, Name: "Medium"},
		{Label: "3x", Multiplier: 5, Name: "High"},
		{Label: "5x", Multiplier: 8, Name: "Ultra"},
	}
}

// Lookup finds a resolution by label ("3x") or name ("High"). An empty
// label selects DefaultLabel.
func (t Table) Lookup(label string) (Resolution, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultLabel
	}
	for _, r := range t {
		if strings.EqualFold(r.Label, label) || strings.EqualFold(r.Name, label) {
			return r, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownResolution, label)
}

// ParseTable reads "label:multiplier:name" entries separated by commas, e.g.
// "1x:1:Low,2x:3:Medium".
func ParseTable(raw string) (Table, error) {
	var out Table
	seen := map[string]bool{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("resolution entry %q: want label:multiplier:name", entry)
		}
		mult, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || mult < 1 || mult > badge.MaxScale {
			return nil, fmt.Errorf("resolution entry %q: multiplier must be an integer between 1 and %d", entry, badge.MaxScale)
		}
		label := strings.TrimSpace(parts[0])
		if label == "" || seen[strings.ToLower(label)] {
			return nil, fmt.Errorf("resolution entry %q: empty or duplicate label", entry)
		}
		seen[strings.ToLower(label)] = true
		out = append(out, Resolution{Label: label, Multiplier: mult, Name: strings.TrimSpace(parts[2])})
	}
	if len(out) == 0 {
		return nil, errors.New("resolution table is empty")
	}
	return out, nil
}
