package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Catalog is the category/criterion mapping the aggregation core
// consumes: category names in catalog order (the first entry is
// the fallback bucket) and criterion -> category routing.
type Catalog struct {
	CategoryKeys        []string
	CriterionToCategory map[string]string
}

// LoadCatalog reads the full category/criterion catalog.
func (db *DB) LoadCatalog(ctx context.Context) (Catalog, error) {
	cat := Catalog{
		CriterionToCategory: make(map[string]string),
	}

	rows, err := db.reader.QueryContext(ctx,
		`SELECT name FROM categories ORDER BY id`,
	)
	if err != nil {
		return Catalog{}, fmt.Errorf("querying categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return Catalog{}, fmt.Errorf("scanning category: %w", err)
		}
		cat.CategoryKeys = append(cat.CategoryKeys, name)
	}
	if err := rows.Err(); err != nil {
		return Catalog{}, fmt.Errorf("iterating categories: %w", err)
	}

	crit, err := db.reader.QueryContext(ctx,
		`SELECT cr.name, ca.name
		 FROM criteria cr
		 JOIN categories ca ON ca.id = cr.category_id
		 ORDER BY cr.id`,
	)
	if err != nil {
		return Catalog{}, fmt.Errorf("querying criteria: %w", err)
	}
	defer crit.Close()
	for crit.Next() {
		var criterion, category string
		if err := crit.Scan(&criterion, &category); err != nil {
			return Catalog{}, fmt.Errorf("scanning criterion: %w", err)
		}
		cat.CriterionToCategory[criterion] = category
	}
	if err := crit.Err(); err != nil {
		return Catalog{}, fmt.Errorf("iterating criteria: %w", err)
	}

	return cat, nil
}

// SeedCatalog upserts categories and their criteria. Used at
// startup to install a default catalog, and by tests.
func (db *DB) SeedCatalog(
	ctx context.Context, categories []string,
	criteria map[string][]string,
) error {
	return db.Update(func(tx *sql.Tx) error {
		for _, cat := range categories {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO categories (name) VALUES (?)
				 ON CONFLICT(name) DO NOTHING`,
				cat,
			); err != nil {
				return fmt.Errorf("seeding category %s: %w", cat, err)
			}
			for _, cr := range criteria[cat] {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO criteria (category_id, name)
					 SELECT id, ? FROM categories WHERE name = ?
					 ON CONFLICT(name) DO NOTHING`,
					cr, cat,
				); err != nil {
					return fmt.Errorf("seeding criterion %s: %w", cr, err)
				}
			}
		}
		return nil
	})
}
