package lookup

import (
	"fmt"
	"strings"

	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
)

// MappingSeparator splits a mapping into its table/component and
// attribute/function parts.
const MappingSeparator = "#"

// Mapping is a parsed "<table>#<attribute>" descriptor. The same shape is used
// for script mappings ("<component>#<function>").
type Mapping struct {
	Table     string
	Attribute string
}

// String renders the mapping back to its serialized form.
func (m Mapping) String() string {
	return m.Table + MappingSeparator + m.Attribute
}

// HasMapping reports whether raw carries a mapping separator.
func HasMapping(raw string) bool {
	return strings.Contains(raw, MappingSeparator)
}

// ParseMapping splits raw on the first separator. A mapping without a
// separator or without an attribute part is a configuration error.
func ParseMapping(raw string) (Mapping, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Mapping{}, formerrors.Configuration("mapping is required", nil)
	}
	table, attribute, ok := strings.Cut(trimmed, MappingSeparator)
	if !ok {
		return Mapping{}, formerrors.Configuration(fmt.Sprintf("mapping %q has no %q separator", trimmed, MappingSeparator), nil)
	}
	attribute = strings.TrimSpace(attribute)
	if attribute == "" {
		return Mapping{}, formerrors.Configuration(fmt.Sprintf("mapping %q has no attribute", trimmed), nil)
	}
	return Mapping{Table: strings.TrimSpace(table), Attribute: attribute}, nil
}
