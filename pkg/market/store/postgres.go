package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vango-go/agrimarket/pkg/core/types"
)

const uniqueViolation = "23505"

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Pool() *pgxpool.Pool { return s.pool }

func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func notFound(err error, what string, key any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, key, ErrNotFound)
	}
	return fmt.Errorf("%s %v: %w", what, key, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const userColumns = `id, username, password_hash, name, user_type, location, created_at, updated_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var userType string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Name, &userType, &u.Location, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.UserType = types.UserType(userType)
	return &u, nil
}

func (s *Postgres) CreateUser(ctx context.Context, u *types.User) (*types.User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, name, user_type, location)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		u.Username, u.PasswordHash, u.Name, string(u.UserType), u.Location)
	out, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("username %q: %w", u.Username, ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return out, nil
}

func (s *Postgres) GetUser(ctx context.Context, id int64) (*types.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func (s *Postgres) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username))
	if err != nil {
		return nil, notFound(err, "user", username)
	}
	return u, nil
}

func (s *Postgres) UpdateUser(ctx context.Context, u *types.User) (*types.User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users
		SET password_hash = $2, name = $3, user_type = $4, location = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		u.ID, u.PasswordHash, u.Name, string(u.UserType), u.Location)
	out, err := scanUser(row)
	if err != nil {
		return nil, notFound(err, "user", u.ID)
	}
	return out, nil
}

const productColumns = `id, title, description, price, category, images, user_id, status, current_bid, bidding_end_time, created_at, updated_at`

func scanProduct(row pgx.Row) (*types.Product, error) {
	var p types.Product
	var status string
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Price, &p.Category, &p.Images, &p.UserID,
		&status, &p.CurrentBid, &p.BiddingEndTime, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = types.ProductStatus(status)
	if p.Images == nil {
		p.Images = []string{}
	}
	return &p, nil
}

func collectProducts(rows pgx.Rows) ([]*types.Product, error) {
	defer rows.Close()
	var out []*types.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateProduct(ctx context.Context, p *types.Product) (*types.Product, error) {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO products (title, description, price, category, images, user_id, status, current_bid, bidding_end_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+productColumns,
		p.Title, p.Description, p.Price, p.Category, images, p.UserID, string(p.Status), p.CurrentBid, p.BiddingEndTime, createdAt)
	out, err := scanProduct(row)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	return out, nil
}

func (s *Postgres) GetProduct(ctx context.Context, id int64) (*types.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return p, nil
}

func (s *Postgres) ListProducts(ctx context.Context, f ProductFilter) ([]*types.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE status <> 'deleted'
		  AND ($1 = '' OR status = $1)
		  AND ($2 = 0 OR user_id = $2)
		ORDER BY id DESC`, string(f.Status), f.UserID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	out, err := collectProducts(rows)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

func (s *Postgres) UpdateProduct(ctx context.Context, p *types.Product) (*types.Product, error) {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE products
		SET title = $2, description = $3, price = $4, category = $5, images = $6,
		    status = $7, current_bid = $8, bidding_end_time = $9, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		p.ID, p.Title, p.Description, p.Price, p.Category, images, string(p.Status), p.CurrentBid, p.BiddingEndTime)
	out, err := scanProduct(row)
	if err != nil {
		return nil, notFound(err, "product", p.ID)
	}
	return out, nil
}

func (s *Postgres) SetProductStatus(ctx context.Context, id int64, from, to types.ProductStatus) (*types.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `
		UPDATE products SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+productColumns, id, string(from), string(to)))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, err)
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("product %d: %w", id, err)
	}
	if !exists {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return nil, fmt.Errorf("product %d: %w", id, ErrStatusChanged)
}

func (s *Postgres) ListExpiredProducts(ctx context.Context, now time.Time) ([]*types.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE status = 'active' AND bidding_end_time <= $1
		ORDER BY id`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired products: %w", err)
	}
	out, err := collectProducts(rows)
	if err != nil {
		return nil, fmt.Errorf("list expired products: %w", err)
	}
	return out, nil
}

func (s *Postgres) PlaceBid(ctx context.Context, b *types.Bid) (*types.Bid, *types.Product, error) {
	var (
		bid     *types.Bid
		product *types.Product
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		p, err := scanProduct(tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, b.ProductID))
		if err != nil {
			return notFound(err, "product", b.ProductID)
		}
		if !p.BiddingOpen(b.CreatedAt) {
			return fmt.Errorf("product %d: %w", b.ProductID, ErrBiddingClosed)
		}
		if b.Amount <= p.MinimumBid() {
			return fmt.Errorf("amount %d <= %d: %w", b.Amount, p.MinimumBid(), ErrBidTooLow)
		}

		out := *b
		if err := tx.QueryRow(ctx, `
			INSERT INTO bids (product_id, user_id, amount, created_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id`, b.ProductID, b.UserID, b.Amount, b.CreatedAt).Scan(&out.ID); err != nil {
			return fmt.Errorf("insert bid: %w", err)
		}
		updated, err := scanProduct(tx.QueryRow(ctx, `
			UPDATE products SET current_bid = $2, updated_at = now()
			WHERE id = $1
			RETURNING `+productColumns, b.ProductID, b.Amount))
		if err != nil {
			return fmt.Errorf("update current bid: %w", err)
		}
		bid, product = &out, updated
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return bid, product, nil
}

func (s *Postgres) ListBids(ctx context.Context, productID int64) ([]*types.Bid, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, user_id, amount, created_at FROM bids
		WHERE product_id = $1
		ORDER BY amount DESC, id`, productID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()
	var out []*types.Bid
	for rows.Next() {
		var b types.Bid
		if err := rows.Scan(&b.ID, &b.ProductID, &b.UserID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

const postColumns = `id, title, content, user_id, video_url, video_thumbnail, likes, shares, saves, created_at, updated_at`

func scanPost(row pgx.Row) (*types.Post, error) {
	var p types.Post
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &p.UserID, &p.VideoURL, &p.VideoThumbnail,
		&p.Likes, &p.Shares, &p.Saves, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) CreatePost(ctx context.Context, p *types.Post) (*types.Post, error) {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO posts (title, content, user_id, video_url, video_thumbnail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+postColumns,
		p.Title, p.Content, p.UserID, p.VideoURL, p.VideoThumbnail, createdAt)
	out, err := scanPost(row)
	if err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}
	return out, nil
}

func (s *Postgres) GetPost(ctx context.Context, id int64) (*types.Post, error) {
	p, err := scanPost(s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "post", id)
	}
	return p, nil
}

func (s *Postgres) ListPosts(ctx context.Context) ([]*types.Post, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+postColumns+` FROM posts ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	var out []*types.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) DeletePost(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Postgres) IncrementPostCounter(ctx context.Context, id int64, c types.PostCounter) (*types.Post, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown post counter %q", c)
	}
	// c is one of three fixed column names.
	p, err := scanPost(s.pool.QueryRow(ctx, `
		UPDATE posts SET `+string(c)+` = `+string(c)+` + 1, updated_at = now()
		WHERE id = $1
		RETURNING `+postColumns, id))
	if err != nil {
		return nil, notFound(err, "post", id)
	}
	return p, nil
}
