package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// DeductForVideo charges a user's token balance for a finished video through
// the deduct_tokens_for_video database function.
func (db *DB) DeductForVideo(ctx context.Context, userID, videoID uuid.UUID, amount int, description string) error {
	query := `SELECT deduct_tokens_for_video($1, $2, $3, $4)`

	if _, err := db.ExecContext(ctx, query, userID, amount, description, videoID); err != nil {
		return fmt.Errorf("failed to deduct tokens: %w", err)
	}
	return nil
}
