// Package search keeps a display-name index of users.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/meilisearch/meilisearch-go"

	"projectzero/internal/model"
)

const usersIndex = "users"

// UserIndex is implemented by MeiliUserIndex. The user service falls back to SQL
// prefix search when no index is configured.
type UserIndex interface {
	IndexUser(ctx context.Context, u *model.User) error
	SearchUsers(ctx context.Context, query string, limit int) ([]string, error)
}

type userDoc struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

type MeiliUserIndex struct {
	client meilisearch.ServiceManager
}

func NewMeiliUserIndex(host, apiKey string) *MeiliUserIndex {
	client := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))
	idx := &MeiliUserIndex{client: client}
	idx.initIndex()
	return idx
}

func (m *MeiliUserIndex) initIndex() {
	searchable := []string{"display_name"}
	if _, err := m.client.Index(usersIndex).UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("[Search] Failed to update users searchable attributes: %v", err)
	}
}

// IndexUser upserts the user's document. Anonymous accounts are not searchable.
func (m *MeiliUserIndex) IndexUser(ctx context.Context, u *model.User) error {
	index := m.client.Index(usersIndex)
	if u.IsAnonymous {
		if _, err := index.DeleteDocument(u.ID); err != nil {
			return fmt.Errorf("remove user from index: %w", err)
		}
		return nil
	}

	docs := []userDoc{{ID: u.ID, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}}
	primaryKey := "id"
	if _, err := index.AddDocuments(docs, &primaryKey); err != nil {
		return fmt.Errorf("index user: %w", err)
	}
	return nil
}

// SearchUsers returns matching user ids in relevance order.
func (m *MeiliUserIndex) SearchUsers(ctx context.Context, query string, limit int) ([]string, error) {
	raw, err := m.client.Index(usersIndex).SearchRaw(query, &meilisearch.SearchRequest{
		Limit:                int64(limit),
		AttributesToRetrieve: []string{"id"},
	})
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	var resp struct {
		Hits []userDoc `json:"hits"`
	}
	if err := json.Unmarshal(*raw, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	ids := make([]string, len(resp.Hits))
	for i, h := range resp.Hits {
		ids[i] = h.ID
	}
	return ids, nil
}
