package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
	"github.com/graphshift/mgmigrate/pkg/value"
)

func TestEntityFromRowKeepsKeyColumnsAsProperties(t *testing.T) {
	p := EntityPlan{
		Label:      "movies",
		Columns:    []string{"id", "title", "rating"},
		KeyColumns: []string{"id"},
	}
	row := map[string]value.Value{
		"id":     value.Int(7),
		"title":  value.String("The Prestige"),
		"rating": value.Float(8.5),
	}

	e := EntityFromRow(p, row)
	assert.Equal(t, "movies", e.Label)
	assert.Equal(t, []string{"id"}, e.Key.Names)
	assert.True(t, e.Key.Values[0].Equal(value.Int(7)))
	require.Len(t, e.Properties, 3)
	assert.True(t, e.Properties["id"].Equal(value.Int(7)))
}

func TestRelationshipFromRow(t *testing.T) {
	p := RelationshipPlan{
		Type:           "orders_to_customers",
		FromLabel:      "orders",
		FromKeyColumns: []string{"id"},
		FKColumns:      []string{"customer_id"},
		ToLabel:        "customers",
		ToKeyColumns:   []string{"id"},
	}

	rel, ok, err := RelationshipFromRow(p, map[string]value.Value{
		"id":          value.Int(1),
		"customer_id": value.Int(42),
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "orders_to_customers", rel.Type)
	assert.Equal(t, "orders", rel.From.Label)
	assert.True(t, rel.From.Key.Values[0].Equal(value.Int(1)))
	assert.Equal(t, "customers", rel.To.Label)
	assert.True(t, rel.To.Key.Values[0].Equal(value.Int(42)))
}

func TestRelationshipFromRowNullReferenceProducesNothing(t *testing.T) {
	p := RelationshipPlan{
		Type:           "orders_to_customers",
		FromKeyColumns: []string{"id"},
		FKColumns:      []string{"customer_id"},
		ToKeyColumns:   []string{"id"},
	}
	_, ok, err := RelationshipFromRow(p, map[string]value.Value{
		"id":          value.Int(1),
		"customer_id": value.Null(),
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelationshipFromRowPartiallyNullCompositeIsRecordError(t *testing.T) {
	p := RelationshipPlan{
		Type:           "t",
		ChildSchema:    "public",
		ChildTable:     "orders",
		FromKeyColumns: []string{"id"},
		FKColumns:      []string{"a", "b"},
		ToKeyColumns:   []string{"a", "b"},
	}
	_, ok, err := RelationshipFromRow(p, map[string]value.Value{
		"id": value.Int(1),
		"a":  value.Int(5),
		"b":  value.Null(),
	})
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, migrateerrors.IsType(err, migrateerrors.ErrorTypeRecord))
}

func TestJunctionFromRow(t *testing.T) {
	p := JunctionPlan{
		Type: "roles",
		From: JunctionEnd{Label: "actors", FKColumns: []string{"actor_id"}, RefKeyColumns: []string{"id"}},
		To:   JunctionEnd{Label: "movies", FKColumns: []string{"movie_id"}, RefKeyColumns: []string{"id"}},
		PropertyColumns: []string{"character"},
	}
	rel, err := JunctionFromRow(p, map[string]value.Value{
		"actor_id":  value.Int(1),
		"movie_id":  value.Int(2),
		"character": value.String("Alfred"),
	})
	require.NoError(t, err)
	assert.Equal(t, "roles", rel.Type)
	// Endpoints are keyed by the referenced columns, not the junction's own.
	assert.Equal(t, []string{"id"}, rel.From.Key.Names)
	assert.True(t, rel.To.Key.Values[0].Equal(value.Int(2)))
	assert.True(t, rel.Properties["character"].Equal(value.String("Alfred")))
}

func TestJunctionFromRowNullSideIsRecordError(t *testing.T) {
	p := JunctionPlan{
		Type: "roles",
		From: JunctionEnd{Label: "actors", FKColumns: []string{"actor_id"}, RefKeyColumns: []string{"id"}},
		To:   JunctionEnd{Label: "movies", FKColumns: []string{"movie_id"}, RefKeyColumns: []string{"id"}},
	}
	_, err := JunctionFromRow(p, map[string]value.Value{
		"actor_id": value.Null(),
		"movie_id": value.Int(2),
	})
	require.Error(t, err)
	assert.True(t, migrateerrors.IsType(err, migrateerrors.ErrorTypeRecord))
}

func TestParseConstraintInfoRow(t *testing.T) {
	tests := []struct {
		name   string
		values []interface{}
		want   Constraint
		ok     bool
	}{
		{
			name:   "existence",
			values: []interface{}{"exists", "actors", "name"},
			want:   Constraint{Kind: ConstraintExists, Label: "actors", Properties: []string{"name"}},
			ok:     true,
		},
		{
			name:   "unique single",
			values: []interface{}{"unique", "actors", "id"},
			want:   Constraint{Kind: ConstraintUnique, Label: "actors", Properties: []string{"id"}},
			ok:     true,
		},
		{
			name:   "unique composite",
			values: []interface{}{"unique", "tvepisodes", []interface{}{"series_id", "season", "episode"}},
			want:   Constraint{Kind: ConstraintUnique, Label: "tvepisodes", Properties: []string{"series_id", "season", "episode"}},
			ok:     true,
		},
		{
			name:   "data type constraints are ignored",
			values: []interface{}{"data_type", "actors", "id"},
			ok:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ParseConstraintInfoRow(tt.values)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseIndexInfoRow(t *testing.T) {
	idx, ok, err := ParseIndexInfoRow([]interface{}{"label+property", "movies", "id"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Index{Label: "movies", Property: "id"}, idx)

	idx, ok, err = ParseIndexInfoRow([]interface{}{"label", "movies", nil})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Index{Label: "movies"}, idx)
}
