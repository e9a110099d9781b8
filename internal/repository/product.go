package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowtrade/engine/internal/auction"
)

// CreateProduct inserts a new root product (no parent, no partition ratio).
func (db *DB) CreateProduct(ctx context.Context, p *auction.Product) error {
	query := `INSERT INTO products (id, name, app_data, parent_id, parent_ratio, valid_from, created_at)
	          VALUES ($1, $2, $3, NULL, NULL, $4, $5)`
	if _, err := db.write.ExecContext(ctx, query, p.Id, p.Name, nullableJSON(p.AppData), p.ValidFrom, p.CreatedAt); err != nil {
		return fmt.Errorf("%w: failed to create product: %v", auction.ErrRepository, err)
	}
	return nil
}

// PartitionProduct atomically splits parent into the given children
// (invariant I4): every child carries a strictly positive ParentRatio, and
// the whole set is inserted in one statement so no reader ever observes
// only some of a partition's children. asOf becomes each child's
// ValidFrom. The parent row itself is never mutated: it simply stops being
// a leaf the moment it has any children.
func (db *DB) PartitionProduct(ctx context.Context, parent auction.ProductId, children []auction.ProductPartitionChild, asOf auction.DateTime) ([]auction.ProductId, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: partition requires at least one child", auction.ErrValidation)
	}
	for _, c := range children {
		if !(c.Ratio > 0) {
			return nil, fmt.Errorf("%w: partition ratio %v must be strictly positive", auction.ErrValidation, c.Ratio)
		}
	}

	tx, err := db.write.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %v", auction.ErrRepository, err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, parent).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%w: failed to check parent product: %v", auction.ErrRepository, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: product %s", auction.ErrNotFound, parent)
	}

	// One multi-row INSERT, grounded on the original's partition_product
	// QueryBuilder: all children land in a single statement, so the split
	// is all-or-nothing.
	var sb strings.Builder
	sb.WriteString(`INSERT INTO products (id, name, app_data, parent_id, parent_ratio, valid_from, created_at) VALUES `)
	args := make([]any, 0, len(children)*7)
	ids := make([]auction.ProductId, len(children))
	for i, c := range children {
		id := auction.NewProductId()
		ids[i] = id
		if i > 0 {
			sb.WriteString(", ")
		}
		base := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, id, c.Name, nullableJSON(c.AppData), parent, c.Ratio, asOf, asOf)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("%w: failed to insert partition children: %v", auction.ErrRepository, err)
	}

	return ids, tx.Commit()
}

// GetProduct retrieves a product by id.
func (db *DB) GetProduct(ctx context.Context, id auction.ProductId) (*auction.Product, error) {
	return db.getProductWith(ctx, db.conn, id)
}

func (db *DB) getProductWith(ctx context.Context, q querier, id auction.ProductId) (*auction.Product, error) {
	query := `SELECT id, name, app_data, parent_id, parent_ratio, valid_from, created_at FROM products WHERE id = $1`
	var p auction.Product
	var appData []byte
	var parentId sql.NullString
	var parentRatio sql.NullFloat64
	err := q.QueryRowContext(ctx, query, id).Scan(&p.Id, &p.Name, &appData, &parentId, &parentRatio, &p.ValidFrom, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: product %s", auction.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get product: %v", auction.ErrRepository, err)
	}
	if appData != nil {
		p.AppData = json.RawMessage(appData)
	}
	if parentId.Valid {
		parsed, err := auction.ParseProductId(parentId.String)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt parent_id: %v", auction.ErrRepository, err)
		}
		p.ParentId = &parsed
	}
	if parentRatio.Valid {
		p.ParentRatio = &parentRatio.Float64
	}
	return &p, nil
}

// Children returns every product whose parent_id is id, i.e. the direct
// children of id in the product partition forest.
func (db *DB) Children(ctx context.Context, id auction.ProductId) ([]*auction.Product, error) {
	query := `SELECT id, name, app_data, parent_id, parent_ratio, valid_from, created_at FROM products WHERE parent_id = $1`
	rows, err := db.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query children: %v", auction.ErrRepository, err)
	}
	defer rows.Close()

	var out []*auction.Product
	for rows.Next() {
		var p auction.Product
		var appData []byte
		var parentId sql.NullString
		var parentRatio sql.NullFloat64
		if err := rows.Scan(&p.Id, &p.Name, &appData, &parentId, &parentRatio, &p.ValidFrom, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan product: %v", auction.ErrRepository, err)
		}
		if appData != nil {
			p.AppData = json.RawMessage(appData)
		}
		if parentId.Valid {
			parsed, err := auction.ParseProductId(parentId.String)
			if err != nil {
				return nil, fmt.Errorf("%w: corrupt parent_id: %v", auction.ErrRepository, err)
			}
			p.ParentId = &parsed
		}
		if parentRatio.Valid {
			p.ParentRatio = &parentRatio.Float64
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// expandProduct rewrites a single (productId, weight) pair into a leaf
// weight map, recursively walking the partition forest (spec.md §4.4 P9):
// a parent's weight w is redistributed over its children as w * ratio,
// repeated until every contributing id has no children. A product with no
// children is already a leaf and passes its weight through unchanged.
func (db *DB) expandProduct(ctx context.Context, id auction.ProductId, weight float64, out auction.ProductGroup) error {
	children, err := db.Children(ctx, id)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		out[id] += weight
		return nil
	}
	for _, child := range children {
		if child.ParentRatio == nil {
			return fmt.Errorf("%w: product %s has a parent but no partition ratio", auction.ErrRepository, child.Id)
		}
		if err := db.expandProduct(ctx, child.Id, weight*(*child.ParentRatio), out); err != nil {
			return err
		}
	}
	return nil
}

// ExpandBasis rewrites every product in basis to its leaf-level weighted
// equivalent, applying the partition ratios recorded by PartitionProduct
// (spec.md §4.4's basis expansion, invariant P9).
func (db *DB) ExpandBasis(ctx context.Context, basis auction.ProductGroup) (auction.ProductGroup, error) {
	out := auction.ProductGroup{}
	for id, weight := range basis {
		if weight == 0 {
			continue
		}
		if err := db.expandProduct(ctx, id, weight, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func nullableJSON(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return []byte(raw)
}
