package compositefk

import (
	"fmt"

	"github.com/roach88/compositefk/internal/ir"
)

// DeclarationKind names the constructor of a composite reference.
const DeclarationKind = "compositefk.CompositeForeignKey"

// Part kinds in a declaration.
const (
	partLocal    = "local"
	partRaw      = "raw"
	partComputed = "computed"
)

// Declaration is the reduced form of a mapping: a constructor name with
// positional and keyword arguments. It holds only IR values so it has a
// canonical text form.
type Declaration struct {
	Kind   string
	Args   ir.IRArray
	Kwargs ir.IRObject
}

// Deconstruct reduces the mapping to a Declaration.
// Keyword arguments holding their default value are omitted.
// Computed values are referred to by function name; unnamed functions
// cannot be deconstructed.
func (m *Mapping) Deconstruct() (Declaration, error) {
	toFields := make(ir.IRArray, 0, len(m.pairs))
	for _, p := range m.pairs {
		part, err := deconstructPart(p.Part)
		if err != nil {
			return Declaration{}, configErrorf(m.remote, "remote column %s: %v", p.Remote, err)
		}
		toFields = append(toFields, ir.IRObject{
			"remote": ir.IRString(p.Remote),
			"part":   part,
		})
	}

	kwargs := ir.IRObject{"to_fields": toFields}
	if len(m.nullIfEqual) > 0 {
		sentinels := make(ir.IRArray, 0, len(m.nullIfEqual))
		for _, s := range m.nullIfEqual {
			sentinels = append(sentinels, ir.IRArray{ir.IRString(s.Field), nullToIR(s.Value)})
		}
		kwargs["null_if_equal"] = sentinels
	}
	if len(m.nullable) > 0 {
		nullable := make(ir.IRObject, len(m.nullable))
		order := make(ir.IRArray, 0, len(m.nullable))
		for _, nf := range m.nullable {
			nullable[nf.Field] = nullToIR(nf.Null)
			order = append(order, ir.IRString(nf.Field))
		}
		kwargs["nullable_fields"] = ir.IRObject{"order": order, "values": nullable}
	}
	if m.nullRef {
		kwargs["null"] = ir.IRBool(true)
	}
	if m.unique {
		kwargs["unique"] = ir.IRBool(true)
	}
	if m.relatedName != "" {
		kwargs["related_name"] = ir.IRString(m.relatedName)
	}
	if m.onDelete != Cascade {
		kwargs["on_delete"] = ir.IRString(m.onDelete)
	}

	return Declaration{
		Kind:   DeclarationKind,
		Args:   ir.IRArray{ir.IRString(m.remote)},
		Kwargs: kwargs,
	}, nil
}

func deconstructPart(p Part) (ir.IRObject, error) {
	switch part := p.(type) {
	case LocalColumn:
		return ir.IRObject{"kind": ir.IRString(partLocal), "value": ir.IRString(part.Name)}, nil
	case RawValue:
		return ir.IRObject{"kind": ir.IRString(partRaw), "value": part.Value}, nil
	case ComputedValue:
		if part.Func == nil || part.Func.Name == "" {
			return nil, fmt.Errorf("computed value has no function name")
		}
		return ir.IRObject{"kind": ir.IRString(partComputed), "value": ir.IRString(part.Func.Name)}, nil
	default:
		return nil, fmt.Errorf("unsupported part %T", p)
	}
}

func nullToIR(v ir.IRValue) ir.IRValue {
	if v == nil {
		return ir.IRNull{}
	}
	return v
}

// Reconstruct builds the mapping a Declaration describes.
// Computed values are looked up by name in funcs.
func Reconstruct(d Declaration, funcs *FuncRegistry) (*Mapping, error) {
	if d.Kind != DeclarationKind {
		return nil, configErrorf("", "cannot reconstruct %q", d.Kind)
	}
	if len(d.Args) != 1 {
		return nil, configErrorf("", "want 1 positional argument, got %d", len(d.Args))
	}
	remote, ok := d.Args[0].(ir.IRString)
	if !ok {
		return nil, configErrorf("", "remote entity must be a string, got %T", d.Args[0])
	}

	pairs, err := reconstructPairs(string(remote), d.Kwargs["to_fields"], funcs)
	if err != nil {
		return nil, err
	}

	var opts []Option
	for key, v := range d.Kwargs {
		opt, err := reconstructOption(string(remote), key, v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt...)
	}

	return New(string(remote), pairs, opts...)
}

func reconstructPairs(remote string, v ir.IRValue, funcs *FuncRegistry) ([]Pairing, error) {
	arr, ok := v.(ir.IRArray)
	if !ok {
		return nil, configErrorf(remote, "to_fields must be a list, got %T", v)
	}

	pairs := make([]Pairing, 0, len(arr))
	for i, item := range arr {
		obj, ok := item.(ir.IRObject)
		if !ok {
			return nil, configErrorf(remote, "to_fields[%d] must be an object", i)
		}
		name, ok := obj["remote"].(ir.IRString)
		if !ok {
			return nil, configErrorf(remote, "to_fields[%d] has no remote column", i)
		}
		partObj, ok := obj["part"].(ir.IRObject)
		if !ok {
			return nil, configErrorf(remote, "to_fields[%d] has no part", i)
		}
		part, err := reconstructPart(partObj, funcs)
		if err != nil {
			return nil, configErrorf(remote, "remote column %s: %v", name, err)
		}
		pairs = append(pairs, Pairing{Remote: string(name), Part: part})
	}
	return pairs, nil
}

func reconstructPart(obj ir.IRObject, funcs *FuncRegistry) (Part, error) {
	kind, _ := obj["kind"].(ir.IRString)
	switch kind {
	case partLocal:
		name, ok := obj["value"].(ir.IRString)
		if !ok {
			return nil, fmt.Errorf("local column name must be a string")
		}
		return LocalColumn{Name: string(name)}, nil
	case partRaw:
		return RawValue{Value: obj["value"]}, nil
	case partComputed:
		name, ok := obj["value"].(ir.IRString)
		if !ok {
			return nil, fmt.Errorf("computed value name must be a string")
		}
		fn, ok := funcs.Lookup(string(name))
		if !ok {
			return nil, fmt.Errorf("unknown value function %q (%s)", name, funcs.Available())
		}
		return ComputedValue{Func: fn}, nil
	default:
		return nil, fmt.Errorf("unknown part kind %q", kind)
	}
}

func reconstructOption(remote, key string, v ir.IRValue) ([]Option, error) {
	switch key {
	case "to_fields":
		return nil, nil
	case "null_if_equal":
		arr, ok := v.(ir.IRArray)
		if !ok {
			return nil, configErrorf(remote, "null_if_equal must be a list")
		}
		opts := make([]Option, 0, len(arr))
		for _, item := range arr {
			pair, ok := item.(ir.IRArray)
			if !ok || len(pair) != 2 {
				return nil, configErrorf(remote, "null_if_equal entries must be [field, value] pairs")
			}
			field, ok := pair[0].(ir.IRString)
			if !ok {
				return nil, configErrorf(remote, "null_if_equal field must be a string")
			}
			opts = append(opts, WithNullIfEqual(string(field), pair[1]))
		}
		return opts, nil
	case "nullable_fields":
		obj, ok := v.(ir.IRObject)
		if !ok {
			return nil, configErrorf(remote, "nullable_fields must be an object")
		}
		order, _ := obj["order"].(ir.IRArray)
		values, _ := obj["values"].(ir.IRObject)
		opts := make([]Option, 0, len(order))
		for _, item := range order {
			field, ok := item.(ir.IRString)
			if !ok {
				return nil, configErrorf(remote, "nullable_fields order must list strings")
			}
			null, ok := values[string(field)]
			if !ok {
				return nil, configErrorf(remote, "nullable_fields %s has no value", field)
			}
			opts = append(opts, WithNullableField(string(field), null))
		}
		return opts, nil
	case "null":
		if b, ok := v.(ir.IRBool); ok && bool(b) {
			return []Option{Nullable()}, nil
		}
		return nil, nil
	case "unique":
		if b, ok := v.(ir.IRBool); ok && bool(b) {
			return []Option{Unique()}, nil
		}
		return nil, nil
	case "related_name":
		s, ok := v.(ir.IRString)
		if !ok {
			return nil, configErrorf(remote, "related_name must be a string")
		}
		return []Option{RelatedName(string(s))}, nil
	case "on_delete":
		s, ok := v.(ir.IRString)
		if !ok {
			return nil, configErrorf(remote, "on_delete must be a string")
		}
		return []Option{OnDelete(OnDeleteAction(s))}, nil
	default:
		return nil, configErrorf(remote, "unknown keyword argument %q", key)
	}
}

// MarshalCanonical renders the declaration as RFC 8785 canonical JSON.
func (d Declaration) MarshalCanonical() ([]byte, error) {
	return ir.MarshalCanonical(d.object())
}

// Fingerprint is the content hash of the canonical declaration. Equal
// mappings have equal fingerprints.
func (d Declaration) Fingerprint() (string, error) {
	return ir.Fingerprint(ir.DomainDeclaration, d.object())
}

// ParseDeclaration reads the JSON form written by MarshalCanonical.
func ParseDeclaration(data []byte) (Declaration, error) {
	v, err := ir.UnmarshalValue(data)
	if err != nil {
		return Declaration{}, fmt.Errorf("parse declaration: %w", err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return Declaration{}, fmt.Errorf("parse declaration: want an object, got %T", v)
	}

	kind, ok := obj["kind"].(ir.IRString)
	if !ok {
		return Declaration{}, fmt.Errorf("parse declaration: missing kind")
	}
	d := Declaration{Kind: string(kind), Args: ir.IRArray{}, Kwargs: ir.IRObject{}}
	if args, ok := obj["args"].(ir.IRArray); ok {
		d.Args = args
	}
	if kwargs, ok := obj["kwargs"].(ir.IRObject); ok {
		d.Kwargs = kwargs
	}
	return d, nil
}

func (d Declaration) object() ir.IRObject {
	args := d.Args
	if args == nil {
		args = ir.IRArray{}
	}
	kwargs := d.Kwargs
	if kwargs == nil {
		kwargs = ir.IRObject{}
	}
	return ir.IRObject{
		"kind":   ir.IRString(d.Kind),
		"args":   args,
		"kwargs": kwargs,
	}
}
