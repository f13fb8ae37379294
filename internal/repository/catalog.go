package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ndmitriev/storefront-system/internal/model"
)

// CreateCategory создаёт категорию с уникальным именем.
func (r *PostgresRepository) CreateCategory(ctx context.Context, name string) (*model.Category, error) {
	var c model.Category
	err := r.pool.QueryRow(ctx,
		`INSERT INTO categories (name) VALUES ($1) RETURNING id, name`,
		name,
	).Scan(&c.ID, &c.Name)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrCategoryExists, name)
		}
		return nil, fmt.Errorf("create category: %w", err)
	}
	return &c, nil
}

// UpdateCategory переименовывает категорию.
func (r *PostgresRepository) UpdateCategory(ctx context.Context, id int64, name string) (*model.Category, error) {
	var c model.Category
	err := r.pool.QueryRow(ctx,
		`UPDATE categories SET name = $2 WHERE id = $1 RETURNING id, name`,
		id, name,
	).Scan(&c.ID, &c.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrCategoryExists, name)
		}
		return nil, fmt.Errorf("update category: %w", err)
	}
	return &c, nil
}

// DeleteCategory удаляет категорию.
func (r *PostgresRepository) DeleteCategory(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCategoryNotFound
	}
	return nil
}

// ListCategories возвращает все категории.
func (r *PostgresRepository) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select categories: %w", err)
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return categories, nil
}

// GetCategoryByID возвращает категорию по идентификатору.
func (r *PostgresRepository) GetCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	var c model.Category
	err := r.pool.QueryRow(ctx, `SELECT id, name FROM categories WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

const productColumns = `id, name, image, brand, description, price, count_in_stock, category_id, rating, num_reviews, created_at, updated_at`

// CreateProduct создаёт товар каталога.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p *model.Product) (*model.Product, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (name, image, brand, description, price, count_in_stock, category_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+productColumns,
		p.Name, p.Image, p.Brand, p.Description, p.PriceCents, p.CountInStock, p.CategoryID,
	).Scan(
		&p.ID, &p.Name, &p.Image, &p.Brand, &p.Description, &p.PriceCents,
		&p.CountInStock, &p.CategoryID, &p.Rating, &p.NumReviews, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("create product: %w", err)
	}
	return p, nil
}

// UpdateProduct обновляет товар каталога.
func (r *PostgresRepository) UpdateProduct(ctx context.Context, p *model.Product) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE products
		 SET name = $2, image = $3, brand = $4, description = $5, price = $6,
		     count_in_stock = $7, category_id = $8, updated_at = now()
		 WHERE id = $1`,
		p.ID, p.Name, p.Image, p.Brand, p.Description, p.PriceCents, p.CountInStock, p.CategoryID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("update product: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// DeleteProduct удаляет товар.
func (r *PostgresRepository) DeleteProduct(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// GetProductByID возвращает товар вместе с отзывами.
func (r *PostgresRepository) GetProductByID(ctx context.Context, id int64) (*model.Product, error) {
	var p model.Product
	err := r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id,
	).Scan(
		&p.ID, &p.Name, &p.Image, &p.Brand, &p.Description, &p.PriceCents,
		&p.CountInStock, &p.CategoryID, &p.Rating, &p.NumReviews, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, product_id, user_id, name, rating, comment, created_at
		 FROM product_reviews WHERE product_id = $1 ORDER BY created_at DESC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("select reviews: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rv model.Review
		if err := rows.Scan(&rv.ID, &rv.ProductID, &rv.UserID, &rv.Name, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		p.Reviews = append(p.Reviews, rv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &p, nil
}

// GetProductsByIDs возвращает товары по списку идентификаторов.
func (r *PostgresRepository) GetProductsByIDs(ctx context.Context, ids []int64) ([]model.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// SearchProducts возвращает страницу товаров по ключевому слову и их общее количество.
func (r *PostgresRepository) SearchProducts(ctx context.Context, keyword string, limit, offset int) ([]model.Product, int, error) {
	where := sq.Expr("TRUE")
	if keyword != "" {
		where = sq.ILike{"name": "%" + keyword + "%"}
	}

	countSQL, countArgs, err := psql.Select("COUNT(*)").From("products").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	querySQL, queryArgs, err := psql.Select(productColumns).
		From("products").
		Where(where).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build search query: %w", err)
	}

	rows, err := r.pool.Query(ctx, querySQL, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	products, err := scanProducts(rows)
	if err != nil {
		return nil, 0, err
	}

	return products, total, nil
}

// ListProducts возвращает последние добавленные товары.
func (r *PostgresRepository) ListProducts(ctx context.Context, limit int) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// TopProducts возвращает товары с наивысшим рейтингом.
func (r *PostgresRepository) TopProducts(ctx context.Context, limit int) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY rating DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select top products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// NewProducts возвращает новинки каталога.
func (r *PostgresRepository) NewProducts(ctx context.Context, limit int) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY id DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select new products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// FilterProducts возвращает товары, отфильтрованные по категориям и диапазону цен.
func (r *PostgresRepository) FilterProducts(ctx context.Context, categoryIDs []int64, minPriceCents, maxPriceCents int64) ([]model.Product, error) {
	q := psql.Select(productColumns).From("products")

	if len(categoryIDs) > 0 {
		q = q.Where(sq.Eq{"category_id": categoryIDs})
	}
	if minPriceCents > 0 {
		q = q.Where(sq.GtOrEq{"price": minPriceCents})
	}
	if maxPriceCents > 0 {
		q = q.Where(sq.LtOrEq{"price": maxPriceCents})
	}

	querySQL, queryArgs, err := q.OrderBy("created_at DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build filter query: %w", err)
	}

	rows, err := r.pool.Query(ctx, querySQL, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("select filtered products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

func scanProducts(rows pgx.Rows) ([]model.Product, error) {
	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Image, &p.Brand, &p.Description, &p.PriceCents,
			&p.CountInStock, &p.CategoryID, &p.Rating, &p.NumReviews, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// AddReview сохраняет отзыв и пересчитывает рейтинг товара. Пользователь
// может оставить только один отзыв на товар.
func (r *PostgresRepository) AddReview(ctx context.Context, review *model.Review) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO product_reviews (product_id, user_id, name, rating, comment)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		review.ProductID, review.UserID, review.Name, review.Rating, review.Comment,
	).Scan(&review.ID, &review.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return ErrAlreadyReviewed
			case pgerrcode.ForeignKeyViolation:
				return ErrProductNotFound
			}
		}
		return fmt.Errorf("insert review: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE products p
		 SET rating = sub.avg_rating, num_reviews = sub.cnt, updated_at = now()
		 FROM (
		     SELECT AVG(rating)::DOUBLE PRECISION AS avg_rating, COUNT(*) AS cnt
		     FROM product_reviews WHERE product_id = $1
		 ) sub
		 WHERE p.id = $1`,
		review.ProductID,
	)
	if err != nil {
		return fmt.Errorf("update product rating: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
