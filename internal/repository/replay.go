package repository

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/charlesng35/dentaldesk/internal/cache"
	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/errorhandler"
)

const payloadWrites = "writes"

// encodeWrites stores a batch in a queued write's payload using only plain
// maps and slices so it survives a JSON round trip.
func encodeWrites(writes []docstore.Write) docstore.Document {
	items := make([]any, 0, len(writes))
	for _, w := range writes {
		items = append(items, map[string]any{
			"type": string(w.Type),
			"id":   w.ID,
			"data": map[string]any(w.Data.Clone()),
		})
	}
	return docstore.Document{payloadWrites: items}
}

func decodeWrites(payload docstore.Document) ([]docstore.Write, error) {
	var raw []struct {
		Type string         `mapstructure:"type"`
		ID   string         `mapstructure:"id"`
		Data map[string]any `mapstructure:"data"`
	}
	if err := mapstructure.Decode(payload[payloadWrites], &raw); err != nil {
		return nil, fmt.Errorf("decode queued batch: %w", err)
	}

	writes := make([]docstore.Write, 0, len(raw))
	for i, item := range raw {
		w := docstore.Write{Type: docstore.WriteType(item.Type), ID: item.ID, Data: docstore.Document(item.Data)}
		if !w.Type.Valid() {
			return nil, fmt.Errorf("decode queued batch: write %d has unknown type %q", i, item.Type)
		}
		writes = append(writes, w)
	}
	return writes, nil
}

// Replay applies a write that was deferred under quota pressure. Updates
// and deletes are checked against the queuing owner first, since the write
// may have been queued before ownership could be verified. Errors are
// returned as the store reports them so the caller can classify them.
func (r *Repository) Replay(ctx context.Context, w errorhandler.PendingWrite) error {
	var err error
	switch w.Operation {
	case "create":
		_, err = r.store.Add(ctx, r.collection, w.Payload)
	case "update":
		if err = r.checkOwner(ctx, w.DocID, w.OwnerID); err == nil {
			_, err = r.store.Update(ctx, r.collection, w.DocID, w.Payload)
		}
	case "delete":
		if err = r.checkOwner(ctx, w.DocID, w.OwnerID); err == nil {
			err = r.store.Delete(ctx, r.collection, w.DocID)
		}
	case "batch":
		var writes []docstore.Write
		if writes, err = decodeWrites(w.Payload); err == nil {
			err = r.checkBatchOwner(ctx, writes, w.OwnerID)
		}
		if err == nil {
			err = r.store.Commit(ctx, r.collection, writes)
		}
	default:
		err = fmt.Errorf("repository %s: cannot replay operation %q", r.collection, w.Operation)
	}
	if err != nil {
		r.record("replay", err)
		return err
	}

	if w.OwnerID != "" {
		r.cache.InvalidatePattern(cache.Pattern{Owner: w.OwnerID})
	} else {
		r.cache.Clear()
	}
	r.record("replay", nil)
	return nil
}

func (r *Repository) checkBatchOwner(ctx context.Context, writes []docstore.Write, owner string) error {
	for _, w := range writes {
		if w.Type == docstore.WriteCreate {
			continue
		}
		if err := r.checkOwner(ctx, w.ID, owner); err != nil {
			return err
		}
	}
	return nil
}
