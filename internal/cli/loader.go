package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/compositefk/internal/compiler"
	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/locale"
	"github.com/roach88/compositefk/internal/schema"
)

// LoadMode controls how errors are handled during declaration loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the declarations found in a directory.
type LoadResult struct {
	Entities  []compiler.EntityDecl
	CUEFiles  []string
	YAMLFiles []string
}

// FileCount is the number of declaration files found.
func (r *LoadResult) FileCount() int {
	return len(r.CUEFiles) + len(r.YAMLFiles)
}

// LoadError represents an error that occurred during declaration loading.
type LoadError struct {
	Code    string
	Message string
	Pos     compiler.Position
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s: %s", e.Pos, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDeclarations loads entity declarations from a directory: the CUE
// package in dir, then every YAML file below dir in lexical order.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
//
// A nil result means the directory itself could not be used.
func LoadDeclarations(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	// Verify directory exists
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("declarations directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing declarations directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, yamlFiles, err := FindDeclarationFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 && len(yamlFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE or YAML files found in %s", dir)}}
	}

	result := &LoadResult{CUEFiles: cueFiles, YAMLFiles: yamlFiles}

	if len(cueFiles) > 0 {
		value, loadErr := loadCUE(dir)
		if loadErr != nil {
			return nil, []error{loadErr}
		}

		entitiesVal := value.LookupPath(cue.ParsePath("entity"))
		if entitiesVal.Exists() {
			iter, iterErr := entitiesVal.Fields()
			if iterErr != nil {
				errs = append(errs, &LoadError{Code: ErrCodeDeclaration, Message: fmt.Sprintf("iterating entities: %v", iterErr)})
				if mode == LoadModeFailFast {
					return result, errs
				}
			} else {
				for iter.Next() {
					decl, compileErr := compiler.CompileEntity(iter.Value())
					if compileErr != nil {
						errs = append(errs, convertCompileError(compileErr, "entity."+iter.Label()))
						if mode == LoadModeFailFast {
							return result, errs
						}
						continue
					}
					result.Entities = append(result.Entities, *decl)
				}
			}
		}
	}

	for _, path := range yamlFiles {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, readErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}

		decls, compileErr := compiler.CompileYAML(path, data)
		if compileErr != nil {
			errs = append(errs, convertCompileError(compileErr, path))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Entities = append(result.Entities, decls...)
	}

	// Check if we found anything
	if len(result.Entities) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeDeclaration, Message: "no entities found in declarations"})
	}

	return result, errs
}

// loadCUE builds the CUE package in dir.
func loadCUE(dir string) (cue.Value, *LoadError) {
	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}

	// Check for load errors
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	// Build value from instance
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return value, nil
}

// FindDeclarationFiles returns the .cue files directly in dir and the
// .yaml/.yml files anywhere below it, each list sorted.
func FindDeclarationFiles(dir string) (cueFiles, yamlFiles []string, err error) {
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// cue.mod holds module metadata, not declarations
			if d.Name() == "cue.mod" {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".cue":
			if filepath.Dir(path) == filepath.Clean(dir) {
				cueFiles = append(cueFiles, path)
			}
		case ".yaml", ".yml":
			yamlFiles = append(yamlFiles, path)
		}
		return nil
	})
	sort.Strings(cueFiles)
	sort.Strings(yamlFiles)
	return cueFiles, yamlFiles, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeDeclaration,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
// Declaration codes reuse the compiler's E1xx codes; composite reference
// diagnostics keep their E00x codes.
const (
	ErrCodeDeclaration = "E050" // Malformed declaration
	ErrCodeScanError   = "E051" // Directory scan error
	ErrCodeNoFiles     = "E052" // No declaration files found
	ErrCodeLoadFailed  = "E053" // CUE load or file read failed
	ErrCodeNotFound    = "E054" // Path not found
	ErrCodeBuildFailed = "E055" // CUE build failed
	ErrCodeWriteFailed = "E056" // Database error
	ErrCodeBadArgument = "E057" // Invalid command argument
	ErrCodeScenario    = "E058" // One or more scenarios failed
)

// MapFieldToErrorCode maps a compiler error field path to an error code.
func MapFieldToErrorCode(field string) string {
	last := field
	if i := strings.LastIndex(field, "."); i >= 0 {
		last = field[i+1:]
	}
	switch {
	case last == "fields":
		return compiler.ErrEntityNoFields
	case last == "type", last == "value", last == "default":
		return compiler.ErrInvalidType
	case last == "remote" && strings.Contains(field, "to_fields["):
		return compiler.ErrInvalidPairing
	case last == "remote":
		return compiler.ErrReferenceNoRemote
	case strings.HasPrefix(last, "to_fields"):
		return compiler.ErrInvalidPairing
	case last == "on_delete":
		return compiler.ErrInvalidOnDelete
	default:
		return ErrCodeDeclaration
	}
}

// Declarations is a loaded and built set of declarations.
type Declarations struct {
	Result   *LoadResult
	Registry *schema.Registry
	Funcs    *compositefk.FuncRegistry
	Locale   *locale.Tracker
}

// newFuncs creates the value functions available to declarations, with
// the locale tracker switched to lang.
func newFuncs(lang string) (*compositefk.FuncRegistry, *locale.Tracker, error) {
	tracker, err := locale.NewTracker(SupportedLanguages...)
	if err != nil {
		return nil, nil, err
	}
	if lang != "" {
		if _, err := tracker.Activate(lang); err != nil {
			return nil, nil, err
		}
	}
	funcs, err := compositefk.NewFuncRegistry()
	if err != nil {
		return nil, nil, err
	}
	if err := tracker.Register(funcs); err != nil {
		return nil, nil, err
	}
	return funcs, tracker, nil
}

// LoadRegistry loads dir fail-fast and builds the registry. Every error is
// a command error: declarations are expected to pass check first.
func LoadRegistry(dir string, opts *RootOptions) (*Declarations, error) {
	result, loadErrs := LoadDeclarations(dir, LoadModeFailFast)
	if len(loadErrs) > 0 {
		return nil, loadErrs[0]
	}

	funcs, tracker, err := newFuncs(opts.Lang)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadArgument, Message: err.Error()}
	}

	logger := opts.logger()
	reg, err := compiler.Build(result.Entities, compiler.WithFuncs(funcs), compiler.WithLogger(logger))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeDeclaration, Message: err.Error()}
	}
	logger.Debug("declarations loaded",
		slog.String("dir", dir),
		slog.Int("files", result.FileCount()),
		slog.Int("entities", len(result.Entities)))

	return &Declarations{Result: result, Registry: reg, Funcs: funcs, Locale: tracker}, nil
}

// lookupReference resolves an "Entity.field" argument to its mapping.
func lookupReference(reg *schema.Registry, ref string) (*schema.Entity, string, *compositefk.Mapping, error) {
	entity, field, ok := strings.Cut(ref, ".")
	if !ok || entity == "" || field == "" {
		return nil, "", nil, &LoadError{Code: ErrCodeBadArgument, Message: fmt.Sprintf("reference must be Entity.field, got %q", ref)}
	}

	e, ok := reg.Entity(entity)
	if !ok {
		return nil, "", nil, &LoadError{Code: ErrCodeBadArgument, Message: fmt.Sprintf("unknown entity %q", entity)}
	}
	f, ok := e.Field(field)
	if !ok {
		return nil, "", nil, &LoadError{Code: ErrCodeBadArgument, Message: fmt.Sprintf("entity %s has no field %q", entity, field)}
	}
	m, ok := f.Reference.(*compositefk.Mapping)
	if !ok {
		return nil, "", nil, &LoadError{Code: ErrCodeBadArgument, Message: fmt.Sprintf("%s is not a composite reference", ref)}
	}
	return e, field, m, nil
}

// commandError reports err through the formatter and returns it as a
// command error (exit code 2).
func commandError(formatter *OutputFormatter, err error) error {
	code, message := ErrCodeDeclaration, err.Error()
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		code, message = loadErr.Code, loadErr.Message
		if loadErr.Pos.IsValid() {
			message = fmt.Sprintf("%s: %s", loadErr.Pos, message)
		}
	}
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}
