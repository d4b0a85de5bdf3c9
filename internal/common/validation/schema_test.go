package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matching-workers/pkg/registry"
)

func testRegistry() *registry.ActivityRegistry {
	return &registry.ActivityRegistry{Activities: []registry.Activity{
		{
			ID: "set-match-approval", TaskType: "set-match-approval",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"tenantId", "recordId", "approved"},
				"properties": map[string]interface{}{
					"tenantId": map[string]interface{}{"type": "string", "minLength": 1},
					"recordId": map[string]interface{}{"type": "string"},
					"approved": map[string]interface{}{"type": "boolean"},
				},
			},
		},
		{ID: "clear-match-cache", TaskType: "clear-match-cache"},
	}}
}

func TestValidator_ValidateJSON(t *testing.T) {
	v, err := NewValidator(testRegistry())
	require.NoError(t, err)

	tests := []struct {
		name      string
		vars      string
		valid     bool
		badFields []string
	}{
		{"valid", `{"tenantId":"t","recordId":"r","approved":true}`, true, nil},
		{"missing field", `{"tenantId":"t","approved":true}`, false, []string{"recordId"}},
		{"wrong type", `{"tenantId":"t","recordId":"r","approved":"yes"}`, false, []string{"approved"}},
		{"empty variables", ``, false, []string{"approved", "recordId", "tenantId"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.ValidateJSON("set-match-approval", tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid)
			var fields []string
			for _, e := range res.Errors {
				fields = append(fields, e.Field)
			}
			assert.Equal(t, tt.badFields, fields)
			if !tt.valid {
				assert.NotEmpty(t, res.Summary())
			}
		})
	}
}

func TestValidator_UnknownTaskAcceptsAnything(t *testing.T) {
	v, err := NewValidator(testRegistry())
	require.NoError(t, err)

	res, err := v.ValidateJSON("clear-match-cache", `{"anything":1}`)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidator_MalformedJSON(t *testing.T) {
	v, err := NewValidator(testRegistry())
	require.NoError(t, err)

	_, err = v.ValidateJSON("set-match-approval", `{not json`)
	assert.Error(t, err)
}

func TestNewValidator_RejectsBrokenSchema(t *testing.T) {
	reg := &registry.ActivityRegistry{Activities: []registry.Activity{{
		ID: "x", TaskType: "x",
		InputSchema: map[string]interface{}{"type": 42},
	}}}
	_, err := NewValidator(reg)
	assert.Error(t, err)
}

func TestValidateDocument(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"additionalProperties": map[string]interface{}{
			"type": "number", "minimum": 0,
		},
	}
	res, err := ValidateDocument(schema, map[string]interface{}{"skills": 0.5, "location": -1})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "location", res.Errors[0].Field)
}
