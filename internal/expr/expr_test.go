package expr_test

import (
	"testing"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	state := domain.StateData{
		"age":       20,
		"name":      "Alice",
		"answer":    " Yes ",
		"budget":    "1500",
		"vip":       true,
		"interests": []any{"hair", "nails"},
		"contact":   map[string]any{"city": "Lisbon", "zip": "1000"},
		"score":     7.5,
	}

	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"numeric gte", "stateData.age >= 18", true},
		{"numeric lt", "stateData.age < 18", false},
		{"bare path", "age > 19", true},
		{"state root", "state.age == 20", true},
		{"strict equality alias", "stateData.age === 20", true},
		{"numeric string vs number", "budget > 1000", true},
		{"string equality folds case and space", "answer == 'yes'", true},
		{"string inequality", "name != \"Bob\"", true},
		{"nested path", "contact.city == 'lisbon'", true},
		{"bracket access", "contact[\"zip\"] == 1000", true},
		{"list index", "interests.1 == 'nails'", true},
		{"list contains", "interests contains 'HAIR'", true},
		{"string contains", "name contains 'lic'", true},
		{"starts with", "name startsWith 'al'", true},
		{"ends with", "name endsWith 'CE'", true},
		{"and", "age >= 18 && vip", true},
		{"and keyword", "age >= 18 and vip == false", false},
		{"or", "age < 18 || name == 'Alice'", true},
		{"not", "!vip", false},
		{"not keyword", "not (age < 18)", true},
		{"missing path is null", "missing == null", true},
		{"missing path compares false", "missing > 1", false},
		{"truthy missing", "missing", false},
		{"decimal literal", "score >= 7.5", true},
		{"negative literal", "age > -1", true},
		{"precedence", "age < 18 || age > 19 && vip", true},
		{"bool vs string", "vip == 'true'", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expr.Evaluate(tt.src, state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_Malformed(t *testing.T) {
	tests := []string{
		"",
		"age >=",
		"age = 18",
		"(age > 1",
		"age > 18)",
		"'unterminated",
		"age > 18 &&",
		"contact.",
		"a ; b",
		"and",
	}

	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := expr.Evaluate(src, domain.StateData{"age": 20})
			assert.Error(t, err)
		})
	}
}

func TestCompile_Reuse(t *testing.T) {
	p, err := expr.Compile("stateData.age >= 18")
	require.NoError(t, err)
	assert.Equal(t, "stateData.age >= 18", p.Source())

	adult, err := p.Eval(domain.StateData{"age": 20})
	require.NoError(t, err)
	assert.True(t, adult)

	minor, err := p.Eval(domain.StateData{"age": 10})
	require.NoError(t, err)
	assert.False(t, minor)
}
