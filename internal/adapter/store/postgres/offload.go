package postgres

import (
	"context"
	"fmt"
	"maps"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

// offloadThreshold is the largest attribute value stored inline. Anything
// bigger moves to the object store and the item keeps {ref, bytes}.
const offloadThreshold = 256 << 10

// offloadable lists the dat attributes that can carry large code or text:
// reference solution, constraints, submitted code, generator code.
var offloadable = []string{"sol", "cons", "code", "gen_code"}

// WithBlobStore enables large-field offloading through the given object
// store. Without one, oversized fields stay inline.
func (t *Table) WithBlobStore(blobs domain.ObjectStore) *Table {
	t.blobs = blobs
	return t
}

// offloadKey is deterministic per (item, field) so rewrites overwrite the
// previous blob instead of leaking versions.
func offloadKey(pk, sk, field string) string {
	return "offload/" + pk + "/" + sk + "/" + field
}

// offloadOversized replaces oversized string attributes with a blob
// reference. The input map is cloned before the first replacement, so callers
// never see their own maps mutated.
func (t *Table) offloadOversized(ctx context.Context, pk, sk string, dat map[string]any) (map[string]any, error) {
	if t.blobs == nil || len(dat) == 0 {
		return dat, nil
	}
	cloned := false
	for _, k := range offloadable {
		s, ok := dat[k].(string)
		if !ok || len(s) <= offloadThreshold {
			continue
		}
		key := offloadKey(pk, sk, k)
		if _, err := t.blobs.Put(ctx, key, []byte(s)); err != nil {
			return nil, fmt.Errorf("op=store.offload: %w", err)
		}
		if !cloned {
			dat = maps.Clone(dat)
			cloned = true
		}
		dat[k] = map[string]any{"ref": key, "bytes": len(s)}
	}
	return dat, nil
}

// rehydrate resolves blob references left by offloadOversized back into the
// inline attribute.
func (t *Table) rehydrate(ctx context.Context, it *Item) error {
	if len(it.Dat) == 0 {
		return nil
	}
	for _, k := range offloadable {
		m, ok := it.Dat[k].(map[string]any)
		if !ok {
			continue
		}
		ref, _ := m["ref"].(string)
		if ref == "" {
			continue
		}
		if t.blobs == nil {
			return fmt.Errorf("op=store.rehydrate: %w: no blob store for ref %s", domain.ErrInternal, ref)
		}
		body, _, err := t.blobs.Get(ctx, ref)
		if err != nil {
			return fmt.Errorf("op=store.rehydrate: %w", err)
		}
		it.Dat[k] = string(body)
	}
	return nil
}
