// Package store defines the document-store contract every engine mutates
// state through. The store guarantees single-document atomicity: an UpdateOne
// whose filter embeds a precondition on a field either applies atomically or
// reports no match. There is no multi-document transaction primitive; all
// cross-document consistency is handled by the callers' optimistic-retry
// protocol.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ID is the document id field. Render as a plain string in API output.
const ID = "_id"

var (
	// ErrNoDocuments signals a FindOne miss. Callers translate to their own
	// not-found errors.
	ErrNoDocuments = errors.New("store: no documents in result")
	// ErrDuplicateID signals an InsertOne with an explicit _id that already
	// exists in the collection.
	ErrDuplicateID = errors.New("store: duplicate document id")
)

// Doc is a JSON-shaped document. Monetary fields hold decimal values
// (decimal.Decimal in memory, numeric strings once round-tripped through
// JSON); the store compares them numerically either way.
type Doc map[string]any

// Filter selects documents. Values are matched by equality unless wrapped in
// an operator (Gte, In). An equality precondition on a mutable field is how
// conditional updates are expressed.
type Filter map[string]any

// OpKind enumerates non-equality filter operators.
type OpKind int

const (
	OpGte OpKind = iota + 1
	OpIn
)

// Op is a non-equality filter operator.
type Op struct {
	kind   OpKind
	value  any
	values []any
}

func (o Op) Kind() OpKind  { return o.kind }
func (o Op) Value() any    { return o.value }
func (o Op) Values() []any { return o.values }

// Gte matches documents whose field is numerically >= v.
func Gte(v any) Op { return Op{kind: OpGte, value: v} }

// In matches documents whose field equals any of vs.
func In(vs ...any) Op { return Op{kind: OpIn, values: vs} }

// Update describes a partial mutation: Set overwrites fields, Inc adds a
// numeric delta to fields (missing fields count as zero).
type Update struct {
	Set Doc
	Inc Doc
}

// Sort orders FindMany results by a numeric field.
type Sort struct {
	Field string
	Desc  bool
}

// UpdateOptions modifies UpdateOne behavior.
type UpdateOptions struct {
	// Upsert inserts a new document built from the filter's equality fields
	// plus the update when no document matches. Concurrent upserts of the
	// same logical document must not produce duplicates.
	Upsert bool
}

// Store is the Ledger Store capability (document CRUD plus conditional
// update). Implementations must make UpdateOne atomic per document.
type Store interface {
	FindOne(ctx context.Context, collection string, filter Filter) (Doc, error)
	FindMany(ctx context.Context, collection string, filter Filter, sortBy *Sort, limit int) ([]Doc, error)
	InsertOne(ctx context.Context, collection string, doc Doc) (string, error)
	// UpdateOne applies update to the first document matching filter and
	// reports whether a document matched at the moment of update.
	UpdateOne(ctx context.Context, collection string, filter Filter, update Update, opts ...UpdateOptions) (bool, error)
	DeleteOne(ctx context.Context, collection string, filter Filter) (bool, error)
	DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error)
	Count(ctx context.Context, collection string, filter Filter) (int64, error)
	Close() error
}

// Decode unmarshals a document into a typed struct via a JSON round-trip, so
// decimal fields parse from either decimal values or numeric strings.
func Decode(doc Doc, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// ToDoc converts a typed struct into a Doc through its JSON form.
func ToDoc(in any) (Doc, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// UpsertSeed builds the base document for an upsert miss: the filter's
// equality fields become the new document's identity.
func UpsertSeed(filter Filter) Doc {
	seed := Doc{}
	for k, v := range filter {
		if _, isOp := v.(Op); isOp {
			continue
		}
		seed[k] = v
	}
	return seed
}

// UpsertKey derives a deterministic identity for an upserted document from
// the filter's equality fields, so racing upserts of the same logical
// document collapse onto one row.
func UpsertKey(collection string, filter Filter) string {
	keys := make([]string, 0, len(filter))
	for k, v := range filter {
		if _, isOp := v.(Op); isOp {
			continue
		}
		keys = append(keys, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(keys)
	out := collection
	for _, k := range keys {
		out += "|" + k
	}
	return out
}
