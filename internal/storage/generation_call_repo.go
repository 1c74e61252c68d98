package storage

import (
	"context"
	"fmt"

	"examforge/internal/models"
)

type GenerationCallRepo struct {
	db *DB
}

func NewGenerationCallRepo(db *DB) *GenerationCallRepo {
	return &GenerationCallRepo{db: db}
}

func (r *GenerationCallRepo) InsertGenerationCall(ctx context.Context, rec models.GenerationCall) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO generation_calls(call_id, section_id, attempt_id, batch_number, try, prompt_hash, provider_name, model, status, error_type,
  prompt_tokens, completion_tokens, duration_ms)
VALUES (COALESCE(NULLIF($1,'')::uuid, gen_random_uuid()), $2, NULLIF($3,'')::uuid, $4, $5, NULLIF($6,''), $7, NULLIF($8,''), $9, NULLIF($10,''),
  $11, $12, $13)`,
		rec.CallID, rec.SectionID, rec.AttemptID, rec.BatchNumber, rec.Try, rec.PromptHash, rec.ProviderName, rec.Model, rec.Status, rec.ErrorType,
		rec.PromptTokens, rec.CompletionTokens, rec.DurationMs)
	if err != nil {
		return fmt.Errorf("insert generation call: %w", err)
	}
	return nil
}
