package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"

	"github.com/openfroyo/reconcile/pkg/engine"
)

// Parser loads configuration from CUE sources.
type Parser struct {
	fs        afero.Fs
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewParser creates a parser reading from fs. A nil fs reads from the
// operating system.
func NewParser(fs afero.Fs) *Parser {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(fileSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		panic(fmt.Sprintf("config: built-in schema does not compile: %v", err))
	}
	return &Parser{
		fs:        fs,
		ctx:       ctx,
		schema:    schema.LookupPath(cue.ParsePath("#File")),
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Parse loads and unifies the given .cue files or directories. BaseDir is
// the directory of the first source.
func (p *Parser) Parse(ctx context.Context, sources ...string) (*File, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var (
		value   cue.Value
		files   []string
		baseDir string
		errs    []ValidationError
	)

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := p.fs.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		paths := []string{source}
		if info.IsDir() {
			paths, err = p.listCUEFiles(source)
			if err != nil {
				return nil, err
			}
			if len(paths) == 0 {
				errs = append(errs, ValidationError{File: source, Message: "no CUE files found"})
				continue
			}
			if baseDir == "" {
				baseDir = source
			}
		} else if baseDir == "" {
			baseDir = filepath.Dir(source)
		}

		for _, path := range paths {
			val, fileErrs := p.loadFile(path)
			files = append(files, path)
			if len(fileErrs) > 0 {
				errs = append(errs, fileErrs...)
				continue
			}
			if value.Exists() {
				value = value.Unify(val)
			} else {
				value = val
			}
		}
	}

	if len(errs) > 0 {
		return nil, &ParseError{Errors: errs}
	}

	file, err := p.decode(value)
	if err != nil {
		return nil, err
	}
	file.BaseDir = baseDir
	file.SourceFiles = files
	return file, nil
}

// ParseInline parses CUE content. Relative paths resolve against baseDir.
func (p *Parser) ParseInline(content, baseDir string) (*File, error) {
	val := p.ctx.CompileString(content, cue.Filename("inline.cue"))
	if err := val.Err(); err != nil {
		return nil, &ParseError{Errors: convertCUEErrors(err)}
	}
	file, err := p.decode(val)
	if err != nil {
		return nil, err
	}
	file.BaseDir = baseDir
	file.SourceFiles = []string{"inline"}
	return file, nil
}

func (p *Parser) listCUEFiles(dir string) ([]string, error) {
	entries, err := afero.ReadDir(p.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".cue") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

func (p *Parser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
		}}
	}

	val := p.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// decode unifies val with the schema, decodes it and runs the struct and
// cross-field checks.
func (p *Parser) decode(val cue.Value) (*File, error) {
	if !val.Exists() {
		val = p.ctx.CompileString("{}")
	}
	unified := p.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &ParseError{Errors: convertCUEErrors(err)}
	}

	var file File
	if err := unified.Decode(&file); err != nil {
		return nil, &ParseError{Errors: convertCUEErrors(err)}
	}

	if errs := p.validate(&file); len(errs) > 0 {
		return nil, &ParseError{Errors: errs}
	}
	return &file, nil
}

// validate runs the struct tags and the rules that span fields.
func (p *Parser) validate(f *File) []ValidationError {
	var errs []ValidationError

	if err := p.validator.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []ValidationError{{Message: err.Error()}}
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{
				Path:    fe.Namespace(),
				Message: fmt.Sprintf("failed on the %q rule", fe.Tag()),
			})
		}
	}

	if f.Storage.Backend == "s3" && f.Storage.S3 == nil {
		errs = append(errs, ValidationError{Path: "storage.s3", Message: "s3 backend needs a bucket"})
	}

	for _, name := range slices.Sorted(maps.Keys(f.Flows)) {
		errs = append(errs, validateFlow(name, f.Flows[name])...)
	}

	return errs
}

// validateFlow checks that item IDs are unique and that dependencies refer
// to items of the same flow. Cycles are reported when the graph is built.
func validateFlow(name string, flow FlowConfig) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(flow.Items))

	for i, item := range flow.Items {
		path := fmt.Sprintf("flows.%s.items[%d]", name, i)
		if _, err := engine.NewItemID(item.ID); err != nil {
			errs = append(errs, ValidationError{Path: path + ".id", Message: err.Error()})
		}
		if seen[item.ID] {
			errs = append(errs, ValidationError{Path: path + ".id", Message: fmt.Sprintf("duplicate item ID %q", item.ID)})
		}
		seen[item.ID] = true
	}

	for i, item := range flow.Items {
		for _, dep := range item.DependsOn {
			if !seen[dep] {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("flows.%s.items[%d].depends_on", name, i),
					Message: fmt.Sprintf("unknown item %q", dep),
				})
			}
		}
	}

	return errs
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueMessage(e),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}

	return out
}

func cueMessage(e cueerrors.Error) string {
	format, args := e.Msg()
	return fmt.Sprintf(format, args...)
}
