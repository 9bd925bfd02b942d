package schema

import (
	"fmt"

	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
)

// ParseConstraintInfoRow decodes one SHOW CONSTRAINT INFO row: constraint
// type, label, then a single property for existence constraints or a
// property list for unique constraints. Constraint kinds with no
// destination equivalent return ok=false.
func ParseConstraintInfoRow(values []interface{}) (Constraint, bool, error) {
	if len(values) < 3 {
		return Constraint{}, false, migrateerrors.New(migrateerrors.ErrorTypeSchema,
			fmt.Sprintf("unexpected constraint row of %d values", len(values)))
	}
	kind, _ := values[0].(string)
	label, _ := values[1].(string)

	switch kind {
	case "exists", "existence":
		prop, ok := values[2].(string)
		if !ok {
			return Constraint{}, false, migrateerrors.New(migrateerrors.ErrorTypeSchema,
				fmt.Sprintf("existence constraint on %q has non-string property", label))
		}
		return Constraint{
			Kind:       ConstraintExists,
			Label:      label,
			Properties: []string{prop},
		}, true, nil
	case "unique":
		var props []string
		switch p := values[2].(type) {
		case string:
			props = []string{p}
		case []interface{}:
			for _, item := range p {
				s, ok := item.(string)
				if !ok {
					return Constraint{}, false, migrateerrors.New(migrateerrors.ErrorTypeSchema,
						fmt.Sprintf("unique constraint on %q has non-string property", label))
				}
				props = append(props, s)
			}
		default:
			return Constraint{}, false, migrateerrors.New(migrateerrors.ErrorTypeSchema,
				fmt.Sprintf("unique constraint on %q has unexpected property payload %T", label, values[2]))
		}
		return Constraint{
			Kind:       ConstraintUnique,
			Label:      label,
			Properties: props,
		}, true, nil
	default:
		return Constraint{}, false, nil
	}
}

// ParseIndexInfoRow decodes one SHOW INDEX INFO row: index type, label and
// an optional property. Index kinds other than label and label+property
// return ok=false.
func ParseIndexInfoRow(values []interface{}) (Index, bool, error) {
	if len(values) < 3 {
		return Index{}, false, migrateerrors.New(migrateerrors.ErrorTypeSchema,
			fmt.Sprintf("unexpected index row of %d values", len(values)))
	}
	kind, _ := values[0].(string)
	label, _ := values[1].(string)

	switch kind {
	case "label":
		return Index{Label: label}, true, nil
	case "label+property":
		prop, ok := values[2].(string)
		if !ok {
			return Index{}, false, migrateerrors.New(migrateerrors.ErrorTypeSchema,
				fmt.Sprintf("label+property index on %q has non-string property", label))
		}
		return Index{Label: label, Property: prop}, true, nil
	default:
		return Index{}, false, nil
	}
}
