package postgres

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

// cursor is the opaque continuation token for listings. For base-table pages
// only PK/SK are set; GSI pages also carry the index keys for the tie-break.
type cursor struct {
	PK  string `json:"pk"`
	SK  string `json:"sk"`
	GPK string `json:"gpk,omitempty"`
	GSK string `json:"gsk,omitempty"`
}

func encodeCursor(c cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	if s == "" {
		return c, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("op=store.cursor: %w", domain.ErrInvalidArgument)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("op=store.cursor: %w", domain.ErrInvalidArgument)
	}
	return c, nil
}
