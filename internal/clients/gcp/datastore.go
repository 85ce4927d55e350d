package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

// jsonValuePrefix marks property values that hold a serialized map or list;
// Datastore properties are otherwise flat scalars.
const jsonValuePrefix = "JSON:"

// Document is one stored entity: a kind, a name unique within that kind, and
// a flat bag of properties.
type Document struct {
	Kind  string
	Name  string
	Props map[string]any
}

type Filter struct {
	Field string
	Op    string
	Value any
}

// Query describes a filtered lookup over one kind. Order accepts a leading
// '-' for descending. KeysOnly skips property fetch.
type Query struct {
	Filters  []Filter
	Order    string
	KeysOnly bool
	Limit    int
}

type DocumentService interface {
	Get(ctx context.Context, kind, name string) (map[string]any, error)
	Put(ctx context.Context, kind, name string, props map[string]any) error
	Delete(ctx context.Context, kind, name string) error
	Query(ctx context.Context, kind string, q Query) ([]Document, error)
}

type documentService struct {
	log    *logger.Logger
	client *datastore.Client
}

func NewDocumentService(log *logger.Logger, projectID string) (DocumentService, error) {
	serviceLog := log.With("service", "DocumentService")

	ctx := context.Background()
	client, err := datastore.NewClient(ctx, projectID, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore client: %w", err)
	}

	return &documentService{log: serviceLog, client: client}, nil
}

func (ds *documentService) Get(ctx context.Context, kind, name string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var pl datastore.PropertyList
	if err := ds.client.Get(ctx, datastore.NameKey(kind, name, nil), &pl); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, &apperrors.NotFoundError{Kind: kind, Name: name}
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", kind, name, err)
	}
	return propsFromList(pl), nil
}

// Put upserts the document and stamps created_on on first write and
// modified_on on every write.
func (ds *documentService) Put(ctx context.Context, kind, name string, props map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	key := datastore.NameKey(kind, name, nil)
	now := time.Now().UTC()

	_, err := ds.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		merged := map[string]any{}
		for k, v := range props {
			merged[k] = v
		}

		var existing datastore.PropertyList
		switch err := tx.Get(key, &existing); {
		case err == nil:
			if created, ok := propsFromList(existing)["created_on"]; ok {
				merged["created_on"] = created
			}
		case errors.Is(err, datastore.ErrNoSuchEntity):
			// first write
		default:
			return err
		}
		if _, ok := merged["created_on"]; !ok {
			merged["created_on"] = now
		}
		merged["modified_on"] = now

		pl, err := propsToList(merged)
		if err != nil {
			return err
		}
		_, err = tx.Put(key, &pl)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", kind, name, err)
	}
	return nil
}

func (ds *documentService) Delete(ctx context.Context, kind, name string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := ds.client.Delete(ctx, datastore.NameKey(kind, name, nil)); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", kind, name, err)
	}
	return nil
}

func (ds *documentService) Query(ctx context.Context, kind string, q Query) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	dq := datastore.NewQuery(kind)
	for _, f := range q.Filters {
		dq = dq.FilterField(f.Field, f.Op, f.Value)
	}
	if q.Order != "" {
		dq = dq.Order(q.Order)
	}
	if q.KeysOnly {
		dq = dq.KeysOnly()
	}
	if q.Limit > 0 {
		dq = dq.Limit(q.Limit)
	}

	out := []Document{}
	it := ds.client.Run(ctx, dq)
	for {
		var pl datastore.PropertyList
		key, err := it.Next(&pl)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("query %s failed: %w", kind, err)
		}
		doc := Document{Kind: kind, Name: key.Name}
		if !q.KeysOnly {
			doc.Props = propsFromList(pl)
		}
		out = append(out, doc)
	}
	return out, nil
}

func propsToList(props map[string]any) (datastore.PropertyList, error) {
	pl := make(datastore.PropertyList, 0, len(props))
	for name, value := range props {
		v, noIndex, err := encodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		pl = append(pl, datastore.Property{Name: name, Value: v, NoIndex: noIndex})
	}
	return pl, nil
}

func encodeValue(value any) (any, bool, error) {
	switch v := value.(type) {
	case nil, bool, string, float64, int64, time.Time, []byte:
		return v, false, nil
	case int:
		return int64(v), false, nil
	case int32:
		return int64(v), false, nil
	case float32:
		return float64(v), false, nil
	case map[string]any, []any, []string:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, false, err
		}
		return jsonValuePrefix + string(b), true, nil
	default:
		return nil, false, fmt.Errorf("unsupported property type %T", value)
	}
}

func propsFromList(pl datastore.PropertyList) map[string]any {
	props := make(map[string]any, len(pl))
	for _, p := range pl {
		if s, ok := p.Value.(string); ok && strings.HasPrefix(s, jsonValuePrefix) {
			var decoded any
			if err := json.Unmarshal([]byte(s[len(jsonValuePrefix):]), &decoded); err == nil {
				props[p.Name] = decoded
				continue
			}
		}
		props[p.Name] = p.Value
	}
	return props
}
