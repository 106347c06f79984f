package compiler

import (
	"fmt"
	"log/slog"

	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/schema"
)

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	funcs  *compositefk.FuncRegistry
	logger *slog.Logger
}

// WithFuncs resolves computed values by name through funcs.
func WithFuncs(funcs *compositefk.FuncRegistry) BuildOption {
	return func(c *buildConfig) { c.funcs = funcs }
}

// WithLogger sets the logger of every built mapping.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(c *buildConfig) { c.logger = logger }
}

// Build turns validated declarations into a registry, entities in
// declaration order. Declarations failing Validate are rejected with the
// first error; the composite reference checks are left to the caller.
func Build(decls []EntityDecl, opts ...BuildOption) (*schema.Registry, error) {
	cfg := &buildConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if errs := Validate(decls, cfg.funcs); len(errs) > 0 {
		return nil, fmt.Errorf("%d declaration errors, first: %w", len(errs), errs[0])
	}

	reg := schema.NewRegistry()
	for _, d := range decls {
		fields := make([]schema.Field, 0, len(d.Fields))
		for _, fd := range d.Fields {
			f, err := buildField(fd, cfg)
			if err != nil {
				return nil, fmt.Errorf("entity %s: field %s: %w", d.Name, fd.Name, err)
			}
			fields = append(fields, f)
		}

		e, err := schema.NewEntity(d.Name, fields...)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(e); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildField(fd FieldDecl, cfg *buildConfig) (schema.Field, error) {
	if fd.Reference == nil {
		return schema.Field{
			Name:     fd.Name,
			Kind:     schema.Kind(fd.Type),
			Nullable: fd.Nullable,
			Default:  fd.Default,
		}, nil
	}

	m, err := BuildMapping(fd.Reference, cfg.funcs, cfg.logger)
	if err != nil {
		return schema.Field{}, err
	}
	return schema.Field{Name: fd.Name, Kind: schema.KindReference, Reference: m}, nil
}

// BuildMapping builds the mapping a reference declaration describes.
// A nil logger keeps the mapping's default.
func BuildMapping(r *ReferenceDecl, funcs *compositefk.FuncRegistry, logger *slog.Logger) (*compositefk.Mapping, error) {
	pairs := make([]compositefk.Pairing, 0, len(r.ToFields))
	for _, p := range r.ToFields {
		var part compositefk.Part
		switch {
		case p.Local != "":
			part = compositefk.Local(p.Local)
		case p.Raw != nil:
			part = compositefk.RawValue{Value: p.Raw}
		case p.Computed != "":
			fn, ok := funcs.Lookup(p.Computed)
			if !ok {
				return nil, fmt.Errorf("remote column %s: unknown value function %q (%s)", p.Remote, p.Computed, funcs.Available())
			}
			part = compositefk.Computed(fn)
		}
		pairs = append(pairs, compositefk.Pairing{Remote: p.Remote, Part: part})
	}

	var opts []compositefk.Option
	if r.Null {
		opts = append(opts, compositefk.Nullable())
	}
	for _, s := range r.NullIfEqual {
		opts = append(opts, compositefk.WithNullIfEqual(s.Field, s.Value))
	}
	for _, nf := range r.NullableFields {
		opts = append(opts, compositefk.WithNullableField(nf.Field, nf.Null))
	}
	if r.Unique {
		opts = append(opts, compositefk.Unique())
	}
	if r.RelatedName != "" {
		opts = append(opts, compositefk.RelatedName(r.RelatedName))
	}
	if r.OnDelete != "" {
		opts = append(opts, compositefk.OnDelete(compositefk.OnDeleteAction(r.OnDelete)))
	}
	if logger != nil {
		opts = append(opts, compositefk.WithLogger(logger))
	}

	return compositefk.New(r.Remote, pairs, opts...)
}
