package store

import (
	"context"
	"fmt"

	"github.com/roach88/compositefk/internal/compositefk"
)

// DeclarationStatus tells how a recorded declaration differs from the
// previous run.
type DeclarationStatus string

const (
	DeclarationAdded   DeclarationStatus = "added"
	DeclarationChanged DeclarationStatus = "changed"
	DeclarationRemoved DeclarationStatus = "removed"
)

// DeclarationChange is one composite reference whose declaration changed.
type DeclarationChange struct {
	Entity      string            `json:"entity"`
	Field       string            `json:"field"`
	Status      DeclarationStatus `json:"status"`
	Fingerprint string            `json:"fingerprint,omitempty"` // Empty when removed
}

// RecordDeclarations stores the canonical declaration of every composite
// reference in the registry and reports the references added, changed or
// removed since the previous call. Unchanged references are not reported.
//
// Changes are ordered by registry order; removals come last.
func (s *Store) RecordDeclarations(ctx context.Context) ([]DeclarationChange, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("record declarations: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stored, order, err := readFingerprints(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("record declarations: %w", err)
	}

	changes := []DeclarationChange{}
	seen := make(map[declKey]bool)
	if s.reg != nil {
		for _, e := range s.reg.Entities() {
			for _, f := range e.References() {
				m, ok := f.Reference.(*compositefk.Mapping)
				if !ok {
					continue
				}
				key := declKey{entity: e.Name, field: f.Name}
				seen[key] = true

				text, fp, err := canonicalDeclaration(m)
				if err != nil {
					return nil, fmt.Errorf("record declarations: %s.%s: %w", e.Name, f.Name, err)
				}

				old, exists := stored[key]
				if exists && old == fp {
					continue
				}

				_, err = tx.ExecContext(ctx, `
					INSERT INTO compositefk_declarations (entity, field, fingerprint, declaration)
					VALUES (?, ?, ?, ?)
					ON CONFLICT(entity, field) DO UPDATE SET
						fingerprint = excluded.fingerprint,
						declaration = excluded.declaration
				`, e.Name, f.Name, fp, text)
				if err != nil {
					return nil, fmt.Errorf("record declarations: write %s.%s: %w", e.Name, f.Name, err)
				}

				status := DeclarationAdded
				if exists {
					status = DeclarationChanged
				}
				changes = append(changes, DeclarationChange{
					Entity: e.Name, Field: f.Name, Status: status, Fingerprint: fp,
				})
			}
		}
	}

	for _, key := range order {
		if seen[key] {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM compositefk_declarations WHERE entity = ? AND field = ?
		`, key.entity, key.field)
		if err != nil {
			return nil, fmt.Errorf("record declarations: remove %s.%s: %w", key.entity, key.field, err)
		}
		changes = append(changes, DeclarationChange{
			Entity: key.entity, Field: key.field, Status: DeclarationRemoved,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("record declarations: commit: %w", err)
	}

	for _, c := range changes {
		s.logger.Info("declaration recorded",
			"reference", c.Entity+"."+c.Field,
			"status", string(c.Status))
	}
	return changes, nil
}

// StoredDeclaration returns the recorded declaration of entity.field.
// Returns sql.ErrNoRows if none was recorded.
func (s *Store) StoredDeclaration(ctx context.Context, entity, field string) (compositefk.Declaration, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `
		SELECT declaration FROM compositefk_declarations
		WHERE entity = ? AND field = ?
	`, entity, field).Scan(&text)
	if err != nil {
		return compositefk.Declaration{}, err
	}
	return compositefk.ParseDeclaration([]byte(text))
}

type declKey struct {
	entity string
	field  string
}

// readFingerprints loads every recorded fingerprint, ordered by key.
func readFingerprints(ctx context.Context, db querier) (map[declKey]string, []declKey, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT entity, field, fingerprint FROM compositefk_declarations
		ORDER BY entity COLLATE BINARY ASC, field COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	stored := make(map[declKey]string)
	var order []declKey
	for rows.Next() {
		var key declKey
		var fp string
		if err := rows.Scan(&key.entity, &key.field, &fp); err != nil {
			return nil, nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		stored[key] = fp
		order = append(order, key)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return stored, order, nil
}

// canonicalDeclaration returns the canonical text and fingerprint of m.
func canonicalDeclaration(m *compositefk.Mapping) (string, string, error) {
	d, err := m.Deconstruct()
	if err != nil {
		return "", "", err
	}
	data, err := d.MarshalCanonical()
	if err != nil {
		return "", "", err
	}
	fp, err := d.Fingerprint()
	if err != nil {
		return "", "", err
	}
	return string(data), fp, nil
}
