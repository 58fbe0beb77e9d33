package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const characterColumns = `id, work_id, name, aliases, character_facts, description, model_version, version`

func scanCharacter(row rowScanner) (*CharacterRecord, error) {
	var (
		rec          CharacterRecord
		aliasesRaw   string
		factsRaw     string
		modelVersion sql.NullString
	)
	if err := row.Scan(
		&rec.ID, &rec.WorkID, &rec.Name, &aliasesRaw, &factsRaw,
		&rec.Description, &modelVersion, &rec.Version,
	); err != nil {
		return nil, err
	}
	rec.ModelVersion = modelVersion.String
	if err := json.Unmarshal([]byte(aliasesRaw), &rec.Aliases); err != nil {
		return nil, fmt.Errorf("decode aliases: %w", err)
	}
	if err := json.Unmarshal([]byte(factsRaw), &rec.Facts); err != nil {
		return nil, fmt.Errorf("decode character facts: %w", err)
	}
	if rec.Aliases == nil {
		rec.Aliases = []string{}
	}
	if rec.Facts == nil {
		rec.Facts = []CharacterFact{}
	}
	return &rec, nil
}

// ListWorkCharacters returns the full roster for a work.
func (s *Store) ListWorkCharacters(ctx context.Context, workID string) ([]*CharacterRecord, error) {
	rows, err := s.query(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE work_id = ? ORDER BY name`,
		workID,
	)
	if err != nil {
		return nil, fmt.Errorf("list work characters: %w", err)
	}
	defer rows.Close()

	var out []*CharacterRecord
	for rows.Next() {
		rec, scanErr := scanCharacter(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan character: %w", scanErr)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetCharacter fetches one character record by id.
func (s *Store) GetCharacter(ctx context.Context, id string) (*CharacterRecord, error) {
	row := s.queryRow(ctx, `SELECT `+characterColumns+` FROM characters WHERE id = ?`, id)
	rec, err := scanCharacter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	return rec, nil
}

// InsertCharacter creates a new roster entry at version 1.
func (s *Store) InsertCharacter(ctx context.Context, rec *CharacterRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	aliases, facts, err := encodeCharacterJSON(rec)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`INSERT INTO characters (id, work_id, name, aliases, character_facts, description, model_version, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		rec.ID, rec.WorkID, rec.Name, aliases, facts, rec.Description, rec.ModelVersion,
	)
	if err != nil {
		return fmt.Errorf("insert character: %w", err)
	}
	rec.Version = 1
	return nil
}

// UpdateCharacter writes a modified record, guarded by the version the
// caller read. Concurrent merges for the same record serialize through this
// check: the loser gets ErrVersionConflict and must re-read and re-merge,
// so neither side's facts are dropped.
func (s *Store) UpdateCharacter(ctx context.Context, rec *CharacterRecord) error {
	aliases, facts, err := encodeCharacterJSON(rec)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx,
		`UPDATE characters
		 SET aliases = ?, character_facts = ?, description = ?, model_version = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		aliases, facts, rec.Description, rec.ModelVersion, rec.ID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("update character: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update character rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	rec.Version++
	return nil
}

func encodeCharacterJSON(rec *CharacterRecord) (aliases, facts string, err error) {
	a := rec.Aliases
	if a == nil {
		a = []string{}
	}
	f := rec.Facts
	if f == nil {
		f = []CharacterFact{}
	}
	ab, err := json.Marshal(a)
	if err != nil {
		return "", "", fmt.Errorf("encode aliases: %w", err)
	}
	fb, err := json.Marshal(f)
	if err != nil {
		return "", "", fmt.Errorf("encode character facts: %w", err)
	}
	return string(ab), string(fb), nil
}
