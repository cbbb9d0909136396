package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/functionland/fulasync/pkg/share"
)

// SaveToken creates or replaces a share token record.
func (s *Store) SaveToken(ctx context.Context, token *share.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if token.ID == "" {
		return fmt.Errorf("token ID is required")
	}
	return s.setJSON(keyToken(token.ID), token)
}

// GetToken returns the token with the given ID, or share.ErrTokenNotFound.
func (s *Store) GetToken(ctx context.Context, id string) (*share.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var token share.Token
	err := s.getJSON(keyToken(id), &token)
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("token %s: %w", id, share.ErrTokenNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token %s: %w", id, err)
	}
	return &token, nil
}

// ListTokens returns all stored tokens ordered by creation time.
func (s *Store) ListTokens(ctx context.Context) ([]*share.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tokens []*share.Token
	err := s.scanPrefix(prefixToken, func(val []byte) error {
		var token share.Token
		if err := json.Unmarshal(val, &token); err != nil {
			return fmt.Errorf("corrupt token record: %w", err)
		}
		tokens = append(tokens, &token)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	// Token IDs are random UUIDs, so key order is not creation order.
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})

	return tokens, nil
}

// SaveAcceptedShare persists an accepted-share record.
func (s *Store) SaveAcceptedShare(ctx context.Context, rec *share.AcceptedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Token == nil || rec.Token.ID == "" {
		return fmt.Errorf("accepted share requires a token with an ID")
	}
	return s.setJSON(keyAccepted(rec.Token.ID), rec)
}

// GetAcceptedShare returns the accepted-share record for a share ID.
func (s *Store) GetAcceptedShare(ctx context.Context, shareID string) (*share.AcceptedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec share.AcceptedRecord
	err := s.getJSON(keyAccepted(shareID), &rec)
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("accepted share %s: %w", shareID, share.ErrTokenNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get accepted share %s: %w", shareID, err)
	}
	return &rec, nil
}

// ListAcceptedShares returns all accepted-share records.
func (s *Store) ListAcceptedShares(ctx context.Context) ([]*share.AcceptedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []*share.AcceptedRecord
	err := s.scanPrefix(prefixAccepted, func(val []byte) error {
		var rec share.AcceptedRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("corrupt accepted-share record: %w", err)
		}
		records = append(records, &rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list accepted shares: %w", err)
	}

	return records, nil
}
