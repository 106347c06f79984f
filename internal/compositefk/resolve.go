package compositefk

import (
	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/queryir"
	"github.com/roach88/compositefk/internal/schema"
)

// Resolution is the outcome of forward resolution: either Absent, or the
// filter selecting the referenced row on the remote table.
type Resolution struct {
	Absent bool

	// Filter has one Equals leaf per pairing, in declaration order.
	Filter queryir.And

	// Sentinel is the null_if_equal entry that collapsed the reference.
	Sentinel *Sentinel
}

// Resolve computes how to fetch the row referenced by inst.
//
// null_if_equal sentinels are checked first against the current column
// values of inst; the first match returns an absent resolution. Otherwise
// every pairing contributes remote = value, where LocalColumn reads inst,
// RawValue is its constant and ComputedValue is called now.
//
// Resolve does not query anything.
func (m *Mapping) Resolve(inst *schema.Instance) (Resolution, error) {
	for i, s := range m.nullIfEqual {
		if ir.Equal(inst.Get(s.Field), s.Value) {
			return Resolution{Absent: true, Sentinel: &m.nullIfEqual[i]}, nil
		}
	}

	preds := make([]queryir.Predicate, 0, len(m.pairs))
	for _, p := range m.pairs {
		v, err := m.partValue(p, inst)
		if err != nil {
			return Resolution{}, err
		}
		preds = append(preds, queryir.Equals{Field: p.Remote, Value: v})
	}
	return Resolution{Filter: queryir.And{Predicates: preds}}, nil
}

// partValue obtains the right-hand value of one pairing.
func (m *Mapping) partValue(p Pairing, inst *schema.Instance) (ir.IRValue, error) {
	switch part := p.Part.(type) {
	case LocalColumn:
		return inst.Get(part.Name), nil
	case RawValue:
		return part.Value, nil
	case ComputedValue:
		return part.Func.Call(), nil
	default:
		return nil, configErrorf(m.remote, "remote column %s: unsupported part %T", p.Remote, p.Part)
	}
}

// ExtraFilter returns remote = value for the pairings that carry no local
// column, evaluating computed values now. Joins apply it to the remote side
// on top of JoinOn.
func (m *Mapping) ExtraFilter() ([]queryir.Predicate, error) {
	var preds []queryir.Predicate
	for _, p := range m.pairs {
		switch part := p.Part.(type) {
		case LocalColumn:
		case RawValue:
			preds = append(preds, queryir.Equals{Field: p.Remote, Value: part.Value})
		case ComputedValue:
			preds = append(preds, queryir.Equals{Field: p.Remote, Value: part.Func.Call()})
		default:
			return nil, configErrorf(m.remote, "remote column %s: unsupported part %T", p.Remote, p.Part)
		}
	}
	return preds, nil
}

// Lookup selects local rows whose referenced row matches remoteFilter.
// Field names in remoteFilter are remote columns.
func (m *Mapping) Lookup(local, remote *schema.Entity, remoteFilter queryir.Predicate) (queryir.Join, error) {
	extra, err := m.ExtraFilter()
	if err != nil {
		return queryir.Join{}, err
	}

	var right []queryir.Predicate
	if remoteFilter != nil {
		right = append(right, remoteFilter)
	}
	right = append(right, extra...)

	return queryir.Join{
		Left:  queryir.Select{From: local.Table},
		Right: queryir.Select{From: remote.Table, Filter: andOrNil(right)},
		On:    m.JoinOn(queryir.LeftSide, queryir.RightSide),
	}, nil
}

// ReverseLookup selects remote rows referenced by at least one local row
// matching localFilter. Field names in localFilter are local columns.
func (m *Mapping) ReverseLookup(local, remote *schema.Entity, localFilter queryir.Predicate) (queryir.Join, error) {
	extra, err := m.ExtraFilter()
	if err != nil {
		return queryir.Join{}, err
	}

	pairs := m.JoinPairs()
	on := make([]queryir.Predicate, 0, len(pairs))
	for _, cp := range pairs {
		on = append(on, queryir.ColumnEquals{
			Left:  queryir.ColumnRef{Table: queryir.LeftSide, Column: cp.Remote},
			Right: queryir.ColumnRef{Table: queryir.RightSide, Column: cp.Local},
		})
	}

	return queryir.Join{
		Left:  queryir.Select{From: remote.Table, Filter: andOrNil(extra)},
		Right: queryir.Select{From: local.Table, Filter: localFilter},
		On:    queryir.And{Predicates: on},
	}, nil
}

func andOrNil(preds []queryir.Predicate) queryir.Predicate {
	if len(preds) == 0 {
		return nil
	}
	return queryir.And{Predicates: preds}
}
