package main

import (
	"bytes"
	"fmt"
	"go/format"
	"sort"
	"strings"
	"text/template"

	"matching-workers/pkg/registry"
)

// WorkerData holds data for templates
type WorkerData struct {
	Name        string
	PackageName string
	TaskType    string
	Description string
	Timeout     string
	InputFields []Field
	Required    []Field
}

// Field is one job variable of the generated Input struct.
type Field struct {
	GoName   string
	GoType   string
	JSONName string
	Optional bool
}

func newWorkerData(a registry.Activity) WorkerData {
	required := map[string]bool{}
	if req, ok := a.InputSchema["required"].([]interface{}); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	data := WorkerData{
		Name:        a.DisplayName,
		PackageName: packageName(a.TaskType),
		TaskType:    a.TaskType,
		Description: a.Description,
		Timeout:     a.Timeout,
	}
	props := parseSchema(a.InputSchema)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		details, _ := props[name].(map[string]interface{})
		f := Field{
			GoName:   goName(name),
			GoType:   goTypeFromSchema(details),
			JSONName: name,
			Optional: !required[name],
		}
		data.InputFields = append(data.InputFields, f)
		if required[name] && f.GoType == "string" {
			data.Required = append(data.Required, f)
		}
	}
	if data.Timeout == "" {
		data.Timeout = "30s"
	}
	return data
}

// parseSchema extracts properties from a JSON schema object
func parseSchema(schema map[string]interface{}) map[string]interface{} {
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		return props
	}
	return map[string]interface{}{}
}

func goTypeFromSchema(details map[string]interface{}) string {
	switch details["type"] {
	case "string":
		return "string"
	case "integer":
		return "int"
	case "number":
		return "float64"
	case "boolean":
		return "bool"
	case "object":
		return "map[string]interface{}"
	case "array":
		if items, ok := details["items"].(map[string]interface{}); ok {
			return "[]" + goTypeFromSchema(items)
		}
		return "[]interface{}"
	default:
		return "interface{}"
	}
}

// goName turns tenantId into TenantID and page-size into PageSize.
func goName(prop string) string {
	parts := strings.FieldsFunc(prop, func(r rune) bool { return r == '-' || r == '_' })
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	name := b.String()
	if strings.HasSuffix(name, "Id") {
		name = strings.TrimSuffix(name, "Id") + "ID"
	}
	if strings.HasSuffix(name, "Ids") {
		name = strings.TrimSuffix(name, "Ids") + "IDs"
	}
	return name
}

func packageName(taskType string) string {
	return strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(taskType))
}

var templates = map[string]string{
	"config.go": `package {{ .PackageName }}

import "time"

type Config struct {
	Timeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{Timeout: mustDuration("{{ .Timeout }}")}
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}
`,
	"models.go": `package {{ .PackageName }}

type Input struct {
{{- range .InputFields }}
	{{ .GoName }} {{ .GoType }} ` + "`json:\"{{ .JSONName }}{{ if .Optional }},omitempty{{ end }}\"`" + `
{{- end }}
}

type Output struct {
}
`,
	"handler.go": `package {{ .PackageName }}

import (
	"context"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"matching-workers/internal/common/errors"
	"matching-workers/internal/common/logger"
	"matching-workers/internal/common/validation"
	"matching-workers/internal/workers/matching/jobkit"
)

const TaskType = "{{ .TaskType }}"

// Handler runs the {{ .Name }} task. {{ .Description }}
type Handler struct {
	config *Config
	jobs   *jobkit.Runner
	logger logger.Logger
}

func NewHandler(config *Config, validator *validation.Validator, log logger.Logger) *Handler {
	jobs := jobkit.NewRunner(TaskType, validator, log)
	return &Handler{config: config, jobs: jobs, logger: jobs.Logger()}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := h.jobs.Decode(job, &input); err != nil {
		h.jobs.Fail(ctx, client, job, err)
		return
	}
	output, err := h.execute(ctx, &input)
	if err != nil {
		h.jobs.Fail(ctx, client, job, err)
		return
	}
	h.jobs.Complete(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
{{- range .Required }}
	if input.{{ .GoName }} == "" {
		return nil, errors.NewInvalidInputError("{{ .JSONName }} is required")
	}
{{- end }}
	return nil, errors.NewInternalError(fmt.Errorf("%s is not implemented", TaskType))
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
`,
	"handler_test.go": `package {{ .PackageName }}

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"matching-workers/internal/common/logger"
)

func TestHandler_Execute_RequiresInput(t *testing.T) {
	h := NewHandler(DefaultConfig(), nil, logger.NewTestLogger(t))
	_, err := h.Execute(context.Background(), &Input{})
	assert.Error(t, err)
}
`,
}

// render produces the gofmt'ed scaffold files keyed by file name.
func render(data WorkerData) (map[string][]byte, error) {
	out := make(map[string][]byte, len(templates))
	for name, text := range templates {
		tmpl, err := template.New(name).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render %s: %w", name, err)
		}
		src, err := format.Source(buf.Bytes())
		if err != nil {
			return nil, fmt.Errorf("format %s: %w", name, err)
		}
		out[name] = src
	}
	return out, nil
}
