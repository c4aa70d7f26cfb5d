package engine

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(units []*Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.ID
	}
	return out
}

func TestOrder(t *testing.T) {
	tests := []struct {
		name      string
		units     []*Unit
		manifests []string
		want      []string
	}{
		{
			name: "independent units sort by id",
			units: []*Unit{
				{ID: "c"}, {ID: "a"}, {ID: "b"},
			},
			want: []string{"a", "b", "c"},
		},
		{
			name: "runtime units go last among ready units",
			units: []*Unit{
				{ID: "a", HasRuntime: true}, {ID: "b"}, {ID: "c"},
			},
			want: []string{"b", "c", "a"},
		},
		{
			name: "children before parents",
			units: []*Unit{
				{ID: "root"},
				{ID: "child", Parents: []string{"root"}},
				{ID: "grandchild", Parents: []string{"child"}},
			},
			want: []string{"grandchild", "child", "root"},
		},
		{
			name: "references before referrers",
			units: []*Unit{
				{ID: "a", References: []string{"z"}},
				{ID: "z"},
			},
			want: []string{"z", "a"},
		},
		{
			name: "unknown edges are ignored",
			units: []*Unit{
				{ID: "b", References: []string{"ghost"}, Parents: []string{"phantom"}},
				{ID: "a"},
			},
			want: []string{"a", "b"},
		},
		{
			name: "flagged manifest goes last even when others depend on it",
			units: []*Unit{
				{ID: "manifest", IsManifest: true},
				{ID: "a", References: []string{"manifest"}},
				{ID: "b"},
			},
			want: []string{"a", "b", "manifest"},
		},
		{
			name: "manifests matched by name glob keep their own order",
			units: []*Unit{
				{ID: "m2", Name: "runtime~app", References: []string{"m1"}},
				{ID: "m1", Name: "runtime~vendor"},
				{ID: "x"},
			},
			manifests: []string{"runtime~*"},
			want:      []string{"x", "m1", "m2"},
		},
		{
			name: "two-cycle breaks on the id tie-break",
			units: []*Unit{
				{ID: "b", References: []string{"a"}},
				{ID: "a", References: []string{"b"}},
			},
			want: []string{"a", "b"},
		},
		{
			name: "cycle member closest to ready goes first",
			units: []*Unit{
				// b has one unresolved dep, a and c have two; once b is out,
				// a and c tie at one and the id decides
				{ID: "a", References: []string{"b", "c"}},
				{ID: "b", References: []string{"c"}},
				{ID: "c", References: []string{"b", "a"}},
			},
			want: []string{"b", "a", "c"},
		},
		{
			name: "self reference is not a cycle",
			units: []*Unit{
				{ID: "a", References: []string{"a"}},
			},
			want: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManifestMatcher(tt.manifests)
			require.NoError(t, err)
			got, err := Order(tt.units, m)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestOrderVisitsEachUnitOnce(t *testing.T) {
	// a dense graph where everything references everything
	var units []*Unit
	all := []string{"u0", "u1", "u2", "u3", "u4", "u5"}
	for _, id := range all {
		units = append(units, &Unit{ID: id, References: all, Parents: all})
	}
	got, err := Order(units, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, all, ids(got))
}

func TestOrderDuplicateID(t *testing.T) {
	_, err := Order([]*Unit{{ID: "x"}, {ID: "y"}, {ID: "x"}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateUnit))
	assert.Contains(t, err.Error(), `"x"`)
}

func TestManifestMatcher(t *testing.T) {
	m, err := NewManifestMatcher([]string{"manifest", "runtime-*"})
	require.NoError(t, err)

	assert.True(t, m(&Unit{ID: "1", Name: "manifest"}))
	assert.True(t, m(&Unit{ID: "runtime-main"}))
	assert.True(t, m(&Unit{ID: "x", IsManifest: true}))
	assert.False(t, m(&Unit{ID: "main", Name: "main"}))

	_, err = NewManifestMatcher([]string{"[bad"})
	assert.Error(t, err)
}
