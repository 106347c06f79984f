package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/schema"
)

// DeconstructedReference is the canonical declaration of one reference.
type DeconstructedReference struct {
	Reference   string `json:"reference"`
	Declaration string `json:"declaration"` // canonical JSON
	Fingerprint string `json:"fingerprint"`
}

// NewDeconstructCommand creates the deconstruct command.
func NewDeconstructCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deconstruct <declarations-dir> [Entity.field]",
		Short: "Print the canonical declaration of composite references",
		Long: `Print the canonical declaration of a composite foreign key.

The declaration is the stable text form of the reference: equal references
have byte-identical declarations and equal fingerprints. Without a
reference argument, every composite reference is printed in registry order.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) == 2 {
				ref = args[1]
			}
			return runDeconstruct(rootOpts, args[0], ref, cmd)
		},
	}

	return cmd
}

func runDeconstruct(opts *RootOptions, dir, ref string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	decls, err := LoadRegistry(dir, opts)
	if err != nil {
		return commandError(formatter, err)
	}

	var out []DeconstructedReference
	if ref != "" {
		e, field, m, err := lookupReference(decls.Registry, ref)
		if err != nil {
			return commandError(formatter, err)
		}
		d, err := deconstruct(e, field, m)
		if err != nil {
			return commandError(formatter, err)
		}
		out = append(out, d)
	} else {
		for _, e := range decls.Registry.Entities() {
			for _, f := range e.References() {
				m, ok := f.Reference.(*compositefk.Mapping)
				if !ok {
					continue
				}
				d, err := deconstruct(e, f.Name, m)
				if err != nil {
					return commandError(formatter, err)
				}
				out = append(out, d)
			}
		}
	}

	if formatter.IsJSON() {
		if ref != "" {
			return formatter.Success(out[0])
		}
		return formatter.Success(out)
	}

	// A single reference prints only its declaration so it can be piped
	if ref != "" {
		fmt.Fprintln(formatter.Writer, out[0].Declaration)
		return nil
	}
	for _, d := range out {
		fmt.Fprintf(formatter.Writer, "%s %s\n", d.Reference, d.Declaration)
	}
	return nil
}

func deconstruct(e *schema.Entity, field string, m *compositefk.Mapping) (DeconstructedReference, error) {
	ref := e.Name + "." + field

	d, err := m.Deconstruct()
	if err != nil {
		return DeconstructedReference{}, fmt.Errorf("%s: %w", ref, err)
	}
	text, err := d.MarshalCanonical()
	if err != nil {
		return DeconstructedReference{}, fmt.Errorf("%s: %w", ref, err)
	}
	fp, err := d.Fingerprint()
	if err != nil {
		return DeconstructedReference{}, fmt.Errorf("%s: %w", ref, err)
	}
	return DeconstructedReference{Reference: ref, Declaration: string(text), Fingerprint: fp}, nil
}
