package docstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/dentaldesk/internal/models"
)

// GormStore keeps documents in the documents table of a SQL database. The
// collection and owner filters are pushed down to SQL; remaining
// constraints are evaluated in process.
type GormStore struct {
	db   *gorm.DB
	feed *feed
	now  func() time.Time
}

// NewGormStore wraps an open, migrated database handle.
func NewGormStore(db *gorm.DB, opts ...Option) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("docstore: db is nil")
	}
	o := buildOptions(opts)
	return &GormStore{db: db, feed: newFeed(), now: o.now}, nil
}

func (s *GormStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, Errorf(CodeInvalidArgument, "empty document id")
	}

	var row models.Document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Take(&row).Error
	if err != nil {
		return nil, translate(err, "get "+collection+"/"+id)
	}
	return fromRow(row)
}

func (s *GormStore) Add(ctx context.Context, collection string, data Document) (Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		doc, err = s.insert(tx, collection, data)
		return err
	})
	if err != nil {
		return nil, translate(err, "add "+collection)
	}

	s.publish(collection)
	return doc, nil
}

func (s *GormStore) Update(ctx context.Context, collection, id string, updates Document) (Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		doc, err = s.update(tx, collection, id, updates)
		return err
	})
	if err != nil {
		return nil, translate(err, "update "+collection+"/"+id)
	}

	s.publish(collection)
	return doc, nil
}

func (s *GormStore) Delete(ctx context.Context, collection, id string) error {
	result := s.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Delete(&models.Document{})
	if result.Error != nil {
		return translate(result.Error, "delete "+collection+"/"+id)
	}
	if result.RowsAffected > 0 {
		s.publish(collection)
	}
	return nil
}

func (s *GormStore) Query(ctx context.Context, q Query) ([]Document, error) {
	tx := s.db.WithContext(ctx).Where("collection = ?", q.Collection)
	if owner, ok := q.OwnerFilter(); ok {
		tx = tx.Where("owner_id = ?", owner)
	}

	var rows []models.Document
	if err := tx.Find(&rows).Error; err != nil {
		return nil, translate(err, "query "+q.Collection)
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return Apply(docs, q.Constraints), nil
}

func (s *GormStore) Listen(ctx context.Context, q Query, onSnapshot func(Snapshot), onError func(error)) (func(), error) {
	if q.Collection == "" {
		return nil, Errorf(CodeInvalidArgument, "listen: empty collection")
	}
	initial, err := s.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	l, stop := s.feed.add(q, onSnapshot, onError)
	l.deliver(initial, nil, true)
	return stop, nil
}

func (s *GormStore) Commit(ctx context.Context, collection string, writes []Write) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range writes {
			switch w.Type {
			case WriteCreate:
				data := w.Data.Clone()
				if data == nil {
					data = Document{}
				}
				if w.ID != "" {
					data[FieldID] = w.ID
				}
				if _, err := s.insert(tx, collection, data); err != nil {
					return err
				}
			case WriteUpdate:
				if _, err := s.update(tx, collection, w.ID, w.Data); err != nil {
					return err
				}
			case WriteDelete:
				if err := tx.Where("collection = ? AND id = ?", collection, w.ID).
					Delete(&models.Document{}).Error; err != nil {
					return err
				}
			default:
				return Errorf(CodeInvalidArgument, "commit: unknown write type %q", w.Type)
			}
		}
		return nil
	})
	if err != nil {
		return translate(err, "commit "+collection)
	}

	s.publish(collection)
	return nil
}

// ListenerCount reports how many live queries are registered.
func (s *GormStore) ListenerCount() int {
	return s.feed.count()
}

func (s *GormStore) insert(tx *gorm.DB, collection string, data Document) (Document, error) {
	now := s.now().UTC()
	doc := data.Merge(Document{FieldCreatedAt: now, FieldUpdatedAt: now})
	if doc.ID() == "" {
		doc[FieldID] = uuid.NewString()
	} else {
		var count int64
		if err := tx.Model(&models.Document{}).
			Where("collection = ? AND id = ?", collection, doc.ID()).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, Errorf(CodeAlreadyExists, "%s/%s already exists", collection, doc.ID())
		}
	}

	row, err := toRow(collection, doc)
	if err != nil {
		return nil, err
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, err
	}
	return fromRow(row)
}

func (s *GormStore) update(tx *gorm.DB, collection, id string, updates Document) (Document, error) {
	var row models.Document
	if err := tx.Where("collection = ? AND id = ?", collection, id).Take(&row).Error; err != nil {
		return nil, err
	}
	current, err := fromRow(row)
	if err != nil {
		return nil, err
	}

	patch := updates.Clone()
	delete(patch, FieldID)
	delete(patch, FieldCreatedAt)
	doc := current.Merge(patch)
	doc[FieldUpdatedAt] = s.now().UTC()

	next, err := toRow(collection, doc)
	if err != nil {
		return nil, err
	}
	if err := tx.Model(&models.Document{}).
		Where("collection = ? AND id = ?", collection, id).
		Updates(map[string]any{
			"owner_id":   next.OwnerID,
			"data":       next.Data,
			"updated_at": next.UpdatedAt,
		}).Error; err != nil {
		return nil, err
	}
	return fromRow(next)
}

func (s *GormStore) publish(collection string) {
	s.feed.publish(collection, func(q Query) ([]Document, error) {
		return s.Query(context.Background(), q)
	})
}

func toRow(collection string, doc Document) (models.Document, error) {
	payload, err := json.Marshal(doc.Fields())
	if err != nil {
		return models.Document{}, WrapError(CodeInvalidArgument, "encode document", err)
	}
	return models.Document{
		Collection: collection,
		ID:         doc.ID(),
		OwnerID:    doc.UserID(),
		Data:       datatypes.JSON(payload),
		CreatedAt:  doc.CreatedAt(),
		UpdatedAt:  doc.UpdatedAt(),
	}, nil
}

func fromRow(row models.Document) (Document, error) {
	doc := Document{}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &doc); err != nil {
			return nil, WrapError(CodeInternal, "decode document "+row.ID, err)
		}
	}
	doc[FieldID] = row.ID
	if row.OwnerID != "" {
		doc[FieldUserID] = row.OwnerID
	}
	doc[FieldCreatedAt] = row.CreatedAt.UTC()
	doc[FieldUpdatedAt] = row.UpdatedAt.UTC()
	return doc, nil
}

// translate maps driver failures onto store codes.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}

	var storeErr *Error
	if errors.As(err, &storeErr) {
		return err
	}

	var netErr net.Error
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return WrapError(CodeNotFound, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(CodeDeadlineExceeded, op, err)
	case errors.Is(err, context.Canceled):
		return WrapError(CodeCancelled, op, err)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.As(err, &netErr):
		return WrapError(CodeUnavailable, op, err)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return WrapError(CodeUnavailable, op, err)
	case strings.Contains(msg, "too many connections"), strings.Contains(msg, "disk is full"),
		strings.Contains(msg, "database or disk is full"):
		return WrapError(CodeResourceExhausted, op, err)
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "access denied"),
		strings.Contains(msg, "readonly database"):
		return WrapError(CodePermissionDenied, op, err)
	case strings.Contains(msg, "unique constraint"), strings.Contains(msg, "duplicate"):
		return WrapError(CodeAlreadyExists, op, err)
	}
	return WrapError(CodeInternal, op, err)
}
