// Package workflowfile loads workflow definitions authored as YAML or JSON files.
package workflowfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidDefinition = errors.New("invalid workflow definition")
	ErrUnsupportedFormat = errors.New("unsupported workflow file format")
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the decoder from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Definition is the file shape of a workflow.
type Definition struct {
	ID          string                  `json:"id,omitempty"          yaml:"id,omitempty"`
	Name        string                  `json:"name"                  yaml:"name"                  validate:"required,min=3"`
	Description string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Status      models.WorkflowStatus   `json:"status,omitempty"      yaml:"status,omitempty"      validate:"omitempty,oneof=draft active inactive"`
	Steps       []models.StepDefinition `json:"steps"                 yaml:"steps"                 validate:"required,min=1,dive"`
}

// ValidationError lists every problem found in one definition.
type ValidationError struct {
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Source, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidDefinition
}

// ActionValidator checks action step params. *actions.Dispatcher satisfies it.
type ActionValidator interface {
	Validate(actionType models.ActionType, params map[string]any) error
}

type Loader struct {
	actions  ActionValidator
	validate *validator.Validate
	schemas  *schemas
}

// NewLoader returns a loader. A nil ActionValidator skips action param checks.
func NewLoader(actions ActionValidator) *Loader {
	return &Loader{
		actions:  actions,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		schemas:  newSchemas(),
	}
}

// Parse decodes and validates one definition.
func (l *Loader) Parse(data []byte, format Format, source string) (*models.Workflow, error) {
	def, err := decode(data, format)
	if err != nil {
		return nil, &ValidationError{Source: source, Problems: []string{err.Error()}}
	}

	return l.Build(def, source)
}

// Build validates def and converts it into a workflow.
func (l *Loader) Build(def *Definition, source string) (*models.Workflow, error) {
	if def.Status == "" {
		def.Status = models.WorkflowStatusActive
	}

	var problems []string

	if err := l.validate.Struct(def); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	steps := make([]models.Step, 0, len(def.Steps))
	seen := make(map[int]bool, len(def.Steps))

	for i, stepDef := range def.Steps {
		where := fmt.Sprintf("steps[%d]", i)

		if seen[stepDef.Order] {
			problems = append(problems, fmt.Sprintf("%s: %v: %d", where, models.ErrDuplicateStep, stepDef.Order))
		}

		seen[stepDef.Order] = true

		if stepDef.Delay.Value < 0 {
			problems = append(problems, fmt.Sprintf("%s: delay value must not be negative", where))
		}

		if err := l.schemas.validate(stepDef); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", where, err))

			continue
		}

		step, err := models.DecodeStep(stepDef)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", where, err))

			continue
		}

		if action, ok := step.(models.ActionStep); ok && l.actions != nil {
			if err := l.actions.Validate(action.ActionType, action.Params); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", where, err))
			}
		}

		steps = append(steps, step)
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Source: source, Problems: problems}
	}

	workflow := &models.Workflow{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Status:      def.Status,
		Steps:       steps,
	}

	if _, err := workflow.Graph(); err != nil {
		return nil, &ValidationError{Source: source, Problems: []string{err.Error()}}
	}

	return workflow, nil
}

// LoadFile reads and validates a single file.
func (l *Loader) LoadFile(path string) (*models.Workflow, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	return l.Parse(data, format, path)
}

// Load accepts a file or a directory. Directories are walked recursively for
// .yaml, .yml and .json files in lexical order. Every invalid file is reported.
func (l *Loader) Load(path string) ([]*models.Workflow, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if !info.IsDir() {
		workflow, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}

		return []*models.Workflow{workflow}, nil
	}

	var paths []string

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if _, err := FormatOf(p); err == nil {
			paths = append(paths, p)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", path, err)
	}

	slices.Sort(paths)

	var (
		workflows []*models.Workflow
		errs      []error
		names     = map[string]string{}
	)

	for _, p := range paths {
		workflow, err := l.LoadFile(p)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if other, ok := names[workflow.Name]; ok {
			errs = append(errs, &ValidationError{
				Source:   p,
				Problems: []string{fmt.Sprintf("workflow name %q already defined in %s", workflow.Name, other)},
			})

			continue
		}

		names[workflow.Name] = p
		workflows = append(workflows, workflow)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return workflows, nil
}

// Import saves workflow, reusing the ID of an existing workflow with the same
// name so that re-importing a file updates it in place.
func Import(ctx context.Context, repo persistence.WorkflowRepository, workflow *models.Workflow) (bool, error) {
	if workflow.ID != "" {
		return false, repo.Save(ctx, workflow)
	}

	existing, err := repo.ByName(ctx, workflow.Name)
	switch {
	case err == nil:
		workflow.ID = existing.ID
		workflow.CreatedAt = existing.CreatedAt

		return false, repo.Save(ctx, workflow)
	case persistence.IsWorkflowNotFound(err):
		return true, repo.Save(ctx, workflow)
	default:
		return false, err
	}
}

func decode(data []byte, format Format) (*Definition, error) {
	var def Definition

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()

		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)

		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("failed to decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return &def, nil
}
