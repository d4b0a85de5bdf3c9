package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validActivity(id string) Activity {
	return Activity{
		ID: id, DisplayName: id, Category: "matching", TaskType: id, Timeout: "30s",
		InputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"tenantId"},
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.json")
	reg := &ActivityRegistry{Version: "1.0.0", Activities: []Activity{validActivity("compute-matches")}}

	require.NoError(t, reg.Save(path))
	assert.NotEmpty(t, reg.LastUpdated)

	loaded, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, reg.LastUpdated, loaded.LastUpdated)
	a, ok := loaded.Find("compute-matches")
	require.True(t, ok)
	assert.Equal(t, "30s", a.Timeout)

	_, ok = loaded.Find("missing")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *ActivityRegistry)
		wantErr string
	}{
		{"valid", func(r *ActivityRegistry) {}, ""},
		{"empty", func(r *ActivityRegistry) { r.Activities = nil }, "no activities"},
		{"missing task type", func(r *ActivityRegistry) { r.Activities[0].TaskType = "" }, "taskType"},
		{"duplicate id", func(r *ActivityRegistry) {
			dup := validActivity("a")
			dup.TaskType = "other"
			r.Activities = append(r.Activities, dup)
		}, "duplicate activity id"},
		{"duplicate task type", func(r *ActivityRegistry) {
			dup := validActivity("b")
			dup.TaskType = "a"
			r.Activities = append(r.Activities, dup)
		}, "duplicate task type"},
		{"bad timeout", func(r *ActivityRegistry) { r.Activities[0].Timeout = "soon" }, "invalid timeout"},
		{"bad schema", func(r *ActivityRegistry) {
			r.Activities[0].OutputSchema = map[string]interface{}{"type": 7}
		}, "invalid outputSchema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &ActivityRegistry{Activities: []Activity{validActivity("a")}}
			tt.mutate(reg)
			err := reg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRegistry_Errors(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
