package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func jsonObject(doc store.Doc) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(raw), nil
}

func scanDoc(raw []byte) (store.Doc, error) {
	var doc store.Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func (s *Store) FindOne(ctx context.Context, collection string, filter store.Filter) (store.Doc, error) {
	a := &argList{}
	where := whereClause(collection, filter, a)
	row := s.Pool.QueryRow(ctx, fmt.Sprintf("SELECT doc FROM documents WHERE %s LIMIT 1", where), a.args...)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return nil, store.ErrNoDocuments
		}
		return nil, fmt.Errorf("find one in %s: %w", collection, err)
	}
	return scanDoc(raw)
}

func (s *Store) FindMany(ctx context.Context, collection string, filter store.Filter, sortBy *store.Sort, limit int) ([]store.Doc, error) {
	a := &argList{}
	query := fmt.Sprintf("SELECT doc FROM documents WHERE %s", whereClause(collection, filter, a))
	if sortBy != nil {
		dir := "ASC"
		if sortBy.Desc {
			dir = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY (doc->>'%s')::numeric %s", sortBy.Field, dir)
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.Pool.Query(ctx, query, a.args...)
	if err != nil {
		return nil, fmt.Errorf("find many in %s: %w", collection, err)
	}
	defer rows.Close()

	var out []store.Doc
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan document in %s: %w", collection, err)
		}
		doc, err := scanDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) InsertOne(ctx context.Context, collection string, doc store.Doc) (string, error) {
	id, _ := doc[store.ID].(string)
	if id == "" {
		id = uuid.NewString()
	}
	insert := make(store.Doc, len(doc)+1)
	for k, v := range doc {
		insert[k] = v
	}
	insert[store.ID] = id

	raw, err := jsonObject(insert)
	if err != nil {
		return "", err
	}

	tag, err := s.Pool.Exec(ctx,
		"INSERT INTO documents (id, collection, doc) VALUES ($1, $2, $3::jsonb) ON CONFLICT (id) DO NOTHING",
		id, collection, raw)
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", collection, err)
	}
	if tag.RowsAffected() == 0 {
		return "", store.ErrDuplicateID
	}
	return id, nil
}

// UpdateOne applies update to the single document matching filter. The
// precondition is re-evaluated by the UPDATE itself, so a concurrent commit
// between the subselect and the write still reports no match.
func (s *Store) UpdateOne(ctx context.Context, collection string, filter store.Filter, update store.Update, opts ...store.UpdateOptions) (bool, error) {
	a := &argList{}
	expr, err := updateExpr("doc", update, a)
	if err != nil {
		return false, err
	}
	inner := whereClause(collection, filter, a)
	outer := whereClause(collection, filter, a)

	query := fmt.Sprintf(
		"UPDATE documents SET doc = %s WHERE id IN (SELECT id FROM documents WHERE %s LIMIT 1) AND %s",
		expr, inner, outer)

	tag, err := s.Pool.Exec(ctx, query, a.args...)
	if err != nil {
		return false, fmt.Errorf("update in %s: %w", collection, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	if len(opts) == 0 || !opts[0].Upsert {
		return false, nil
	}
	return s.upsert(ctx, collection, filter, update)
}

// upsertSeed builds the document inserted on an upsert miss: the filter's
// equality fields with the update applied. A filter carrying an explicit
// _id keeps it, so well-known singletons stay reachable by their own
// filter; an id is generated only when the filter names none.
func upsertSeed(filter store.Filter, update store.Update) store.Doc {
	seed := store.ApplyUpdate(store.UpsertSeed(filter), update)
	if id, _ := seed[store.ID].(string); id == "" {
		seed[store.ID] = uuid.NewString()
	}
	return seed
}

// upsert inserts the document when the update matched nothing. The unique
// (collection, key) index makes racing upserts of the same logical document
// land on one row, with the loser's update applied in the conflict arm. An
// insert that collides on an existing id (the filter's precondition missed
// against a live document) surfaces the primary-key violation.
func (s *Store) upsert(ctx context.Context, collection string, filter store.Filter, update store.Update) (bool, error) {
	seed := upsertSeed(filter, update)
	raw, err := jsonObject(seed)
	if err != nil {
		return false, err
	}

	a := &argList{}
	idArg := a.add(seed[store.ID])
	collectionArg := a.add(collection)
	keyArg := a.add(store.UpsertKey(collection, filter))
	docArg := a.add(raw)
	conflictExpr, err := updateExpr("documents.doc", update, a)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(
		`INSERT INTO documents (id, collection, key, doc) VALUES (%s, %s, %s, %s::jsonb)
		 ON CONFLICT (collection, key) WHERE key IS NOT NULL DO UPDATE SET doc = %s`,
		idArg, collectionArg, keyArg, docArg, conflictExpr)

	if _, err := s.Pool.Exec(ctx, query, a.args...); err != nil {
		return false, fmt.Errorf("upsert into %s: %w", collection, err)
	}
	return true, nil
}

func (s *Store) DeleteOne(ctx context.Context, collection string, filter store.Filter) (bool, error) {
	a := &argList{}
	inner := whereClause(collection, filter, a)
	query := fmt.Sprintf("DELETE FROM documents WHERE id IN (SELECT id FROM documents WHERE %s LIMIT 1)", inner)

	tag, err := s.Pool.Exec(ctx, query, a.args...)
	if err != nil {
		return false, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeleteMany(ctx context.Context, collection string, filter store.Filter) (int64, error) {
	a := &argList{}
	query := fmt.Sprintf("DELETE FROM documents WHERE %s", whereClause(collection, filter, a))

	tag, err := s.Pool.Exec(ctx, query, a.args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Count(ctx context.Context, collection string, filter store.Filter) (int64, error) {
	a := &argList{}
	query := fmt.Sprintf("SELECT COUNT(*) FROM documents WHERE %s", whereClause(collection, filter, a))

	var n int64
	if err := s.Pool.QueryRow(ctx, query, a.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count in %s: %w", collection, err)
	}
	return n, nil
}
