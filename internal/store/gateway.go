package store

import (
	"context"
	"errors"
	"fmt"

	"codepad/api/internal/collab"
)

// ContentGateway adapts file content storage to the collaboration engine's
// persistence boundary, translating store errors into the engine's
// vocabulary so the engine never learns about SQL.
type ContentGateway struct {
	store *PostgresStore
}

func NewContentGateway(store *PostgresStore) *ContentGateway {
	return &ContentGateway{store: store}
}

func (g *ContentGateway) LoadDocument(ctx context.Context, fileID string) (collab.Snapshot, error) {
	content, err := g.store.GetFileContent(ctx, fileID)
	if errors.Is(err, ErrNotFound) {
		return collab.Snapshot{}, collab.ErrNotFound
	}
	if err != nil {
		return collab.Snapshot{}, fmt.Errorf("load file content: %w", err)
	}
	return collab.Snapshot{Content: content.Content, Version: content.Version}, nil
}

func (g *ContentGateway) SaveDocument(ctx context.Context, fileID string, snap collab.Snapshot, expectedVersion int64) error {
	err := g.store.WriteFileContent(ctx, fileID, snap.Content, snap.Version, expectedVersion, nil)
	switch {
	case errors.Is(err, ErrNotFound):
		return collab.ErrNotFound
	case errors.Is(err, ErrVersionConflict):
		return collab.ErrConflict
	case err != nil:
		return fmt.Errorf("save file content: %w", err)
	}
	return nil
}
