package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/entitystore/internal/record"
)

// rootField is the top-level struct holding per-resource definitions.
const rootField = "resource"

// Error describes a schema failure: either a schema that does not compile
// or a record that does not satisfy its resource's definition.
type Error struct {
	Resource string
	Path     string
	Message  string
	Pos      token.Pos
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Pos.IsValid() {
		fmt.Fprintf(&b, "%s:%d:%d: ", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	}
	if e.Resource != "" {
		fmt.Fprintf(&b, "%s: ", e.Resource)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, "%s: ", e.Path)
	}
	b.WriteString(e.Message)
	return b.String()
}

// Set is a compiled collection of resource schemas.
//
// Thread-safety: safe for concurrent use. CUE evaluation is serialized
// internally because a cue.Context is not safe for concurrent use.
type Set struct {
	mu        sync.Mutex
	ctx       *cue.Context
	resources map[string]cue.Value
}

// Compile builds a Set from CUE source. filename labels error positions.
func Compile(filename, src string) (*Set, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError("", err)
	}
	return newSet(ctx, v)
}

// Load compiles every .cue file in dir as one CUE instance.
func Load(dir string) (*Set, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema directory: %s is not a directory", dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan schema directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError("", inst.Err)
	}

	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError("", err)
	}
	return newSet(ctx, v)
}

// FindCUEFiles returns the .cue files directly under dir.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func newSet(ctx *cue.Context, v cue.Value) (*Set, error) {
	s := &Set{ctx: ctx, resources: map[string]cue.Value{}}

	root := v.LookupPath(cue.ParsePath(rootField))
	if !root.Exists() {
		return s, nil
	}
	iter, err := root.Fields(cue.Definitions(false))
	if err != nil {
		return nil, formatCUEError("", err)
	}
	for iter.Next() {
		key := iter.Selector().Unquoted()
		if err := record.CheckResource(key); err != nil {
			return nil, &Error{Resource: key, Message: err.Error(), Pos: iter.Value().Pos()}
		}
		s.resources[key] = iter.Value()
	}
	return s, nil
}

// Resources returns the resource keys with a definition, sorted.
func (s *Set) Resources() []string {
	keys := make([]string, 0, len(s.resources))
	for k := range s.resources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether resource has a definition.
func (s *Set) Has(resource string) bool {
	_, ok := s.resources[resource]
	return ok
}

// Validate checks rec against resource's definition.
// Implements adapter.Validator.
func (s *Set) Validate(resource string, rec record.Record) error {
	def, ok := s.resources[resource]
	if !ok {
		return nil
	}

	data, err := record.MarshalCanonical(rec.Map())
	if err != nil {
		return &Error{Resource: resource, Message: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.ctx.CompileBytes(data, cue.Filename(resource+".json"))
	if err := v.Err(); err != nil {
		return formatCUEError(resource, err)
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(resource, err)
	}
	return nil
}

// formatCUEError keeps the first CUE error with its path and position.
func formatCUEError(resource string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &Error{Resource: resource, Message: err.Error()}
	}

	first := errs[0]
	format, args := first.Msg()
	out := &Error{
		Resource: resource,
		Path:     strings.Join(relativePath(first.Path(), resource), "."),
		Message:  fmt.Sprintf(format, args...),
	}
	if positions := errors.Positions(first); len(positions) > 0 {
		out.Pos = positions[0]
	}
	return out
}

// relativePath strips the "resource.<key>" prefix so paths name record
// fields.
func relativePath(path []string, resource string) []string {
	if len(path) >= 2 && path[0] == rootField && path[1] == resource {
		return path[2:]
	}
	return path
}
