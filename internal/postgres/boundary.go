package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-pickup-slots/internal/apperr"
	"github.com/ariefcatur/go-pickup-slots/internal/catalog"
	"github.com/ariefcatur/go-pickup-slots/internal/reservation"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotModifiable     = errors.New("reservation not modifiable")
)

// Boundary serves the catalog and reservation contract from Postgres. The
// account comes from the request context.
type Boundary struct{ DB *pgxpool.Pool }

const productColumns = `p.id, p.name, p.price_cents, p.stock, p.images, p.description,
	p.sell_date, p.sell_time, p.order_index, p.sold,
	p.delivery_eligible, p.self_pickup_eligible, p.recommended`

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p        catalog.Product
		sellDate pgtype.Date
		sellTime pgtype.Time
		orderIdx pgtype.Int4
	)
	err := row.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.Images, &p.Description,
		&sellDate, &sellTime, &orderIdx, &p.Sold,
		&p.DeliveryEligible, &p.SelfPickupEligible, &p.Recommended)
	if err != nil {
		return p, err
	}
	if sellDate.Valid {
		d := catalog.DateOf(sellDate.Time)
		p.SellDate = &d
	}
	if sellTime.Valid {
		mins := sellTime.Microseconds / int64(time.Minute/time.Microsecond)
		p.SellTime = &catalog.TimeOfDay{Hour: int(mins / 60), Minute: int(mins % 60)}
	}
	if orderIdx.Valid {
		v := int(orderIdx.Int32)
		p.OrderIndex = &v
	}
	return p, nil
}

func dateArg(d catalog.Date) time.Time { return d.In(time.UTC) }

// FetchProducts lists products selling within [from, to], optionally limited
// to one category.
func (b *Boundary) FetchProducts(ctx context.Context, from, to catalog.Date, categoryID string) ([]catalog.Product, error) {
	rows, err := b.DB.Query(ctx, `
		SELECT `+productColumns+`
		FROM products p
		WHERE p.sell_date BETWEEN $1 AND $2
		  AND ($3::text = '' OR EXISTS (
		        SELECT 1 FROM category_products cp
		        WHERE cp.category_id = $3 AND cp.product_id = p.id))
		ORDER BY p.sell_date, p.id`,
		dateArg(from), dateArg(to), categoryID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanProduct)
}

func (b *Boundary) FetchServerTime(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := b.DB.QueryRow(ctx, `SELECT now()`).Scan(&now)
	return now, err
}

// ---- categories ----

func (b *Boundary) FetchCategories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := b.DB.Query(ctx, `SELECT id, name, order_index FROM categories ORDER BY order_index, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Category, error) {
		var c catalog.Category
		err := row.Scan(&c.ID, &c.Name, &c.OrderIndex)
		return c, err
	})
}

func (b *Boundary) CreateCategory(ctx context.Context, name string, orderIndex int) (catalog.Category, error) {
	c := catalog.Category{ID: uuid.NewString(), Name: name, OrderIndex: orderIndex}
	_, err := b.DB.Exec(ctx, `INSERT INTO categories(id, name, order_index) VALUES ($1, $2, $3)`,
		c.ID, c.Name, c.OrderIndex)
	if err != nil {
		return catalog.Category{}, err
	}
	return c, nil
}

func (b *Boundary) RenameCategory(ctx context.Context, id, name string) error {
	ct, err := b.DB.Exec(ctx, `UPDATE categories SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DeleteCategory drops the category (membership rows cascade) and closes the
// gap in order_index.
func (b *Boundary) DeleteCategory(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, b.DB, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return apperr.ErrNotFound
		}
		_, err = tx.Exec(ctx, `
			UPDATE categories c SET order_index = s.rn - 1
			FROM (SELECT id, row_number() OVER (ORDER BY order_index, id) AS rn FROM categories) s
			WHERE c.id = s.id`)
		return err
	})
}

// ReorderCategories rewrites every order_index in one statement.
func (b *Boundary) ReorderCategories(ctx context.Context, idsInOrder []string) error {
	return pgx.BeginFunc(ctx, b.DB, func(tx pgx.Tx) error {
		var total int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM categories`).Scan(&total); err != nil {
			return err
		}
		if total != len(idsInOrder) {
			return fmt.Errorf("reorder: got %d ids for %d categories", len(idsInOrder), total)
		}
		ct, err := tx.Exec(ctx, `
			UPDATE categories c SET order_index = o.ord - 1
			FROM unnest($1::text[]) WITH ORDINALITY AS o(id, ord)
			WHERE c.id = o.id`, idsInOrder)
		if err != nil {
			return err
		}
		if int(ct.RowsAffected()) != total {
			return fmt.Errorf("reorder: unknown category id in %v", idsInOrder)
		}
		return nil
	})
}

func (b *Boundary) FetchCategoryMembership(ctx context.Context, categoryID string) ([]string, error) {
	rows, err := b.DB.Query(ctx,
		`SELECT product_id FROM category_products WHERE category_id = $1 ORDER BY product_id`, categoryID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (b *Boundary) ReplaceCategoryMembership(ctx context.Context, categoryID string, productIDs []string) error {
	return pgx.BeginFunc(ctx, b.DB, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, categoryID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperr.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM category_products WHERE category_id = $1`, categoryID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO category_products(category_id, product_id)
			SELECT $1, unnest($2::text[])
			ON CONFLICT DO NOTHING`, categoryID, productIDs)
		return err
	})
}

func (b *Boundary) SetRecommended(ctx context.Context, productID string, recommended bool) error {
	ct, err := b.DB.Exec(ctx,
		`UPDATE products SET recommended = $2, updated_at = now() WHERE id = $1`, productID, recommended)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// FetchRecommended ignores sell dates so products outside the horizon stay
// visible to membership replacement.
func (b *Boundary) FetchRecommended(ctx context.Context) ([]string, error) {
	rows, err := b.DB.Query(ctx, `SELECT id FROM products WHERE recommended ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (b *Boundary) MissingProducts(ctx context.Context, productIDs []string) ([]string, error) {
	rows, err := b.DB.Query(ctx, `
		SELECT w.id FROM unnest($1::text[]) AS w(id)
		WHERE NOT EXISTS (SELECT 1 FROM products p WHERE p.id = w.id)
		ORDER BY w.id`, productIDs)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ---- reservations ----

// SubmitReservation locks the product row, takes the stock and records the
// reservation in one transaction. The amount is recomputed from the stored
// price.
func (b *Boundary) SubmitReservation(ctx context.Context, req reservation.Request) (string, error) {
	account := reservation.AccountFromContext(ctx)
	id := uuid.NewString()
	err := pgx.BeginFunc(ctx, b.DB, func(tx pgx.Tx) error {
		var stock int
		var price int64
		err := tx.QueryRow(ctx, `SELECT stock, price_cents FROM products WHERE id = $1 FOR UPDATE`, req.ProductID).
			Scan(&stock, &price)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return err
		}
		if stock < req.Quantity {
			return fmt.Errorf("%w: product %s has %d, requested %d", ErrInsufficientStock, req.ProductID, stock, req.Quantity)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock - $2, sold = sold + $2, updated_at = now()
			WHERE id = $1`, req.ProductID, req.Quantity); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO reservations(id, account_id, product_id, quantity, pickup_date, amount_cents)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, account, req.ProductID, req.Quantity, dateArg(req.PickupDate), price*int64(req.Quantity))
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (b *Boundary) FetchReservation(ctx context.Context, id string) (reservation.Reservation, error) {
	var (
		r      reservation.Reservation
		pickup pgtype.Date
		choice string
		status string
	)
	err := b.DB.QueryRow(ctx, `
		SELECT id, account_id, product_id, quantity, pickup_date, amount_cents, choice, status
		FROM reservations WHERE id = $1 AND status <> 'cancelled'`, id).
		Scan(&r.ID, &r.AccountID, &r.ProductID, &r.Quantity, &pickup, &r.AmountCents, &choice, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, apperr.ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.PickupDate = catalog.DateOf(pickup.Time)
	r.Choice = reservation.Choice(choice)
	r.Status = reservation.PickupStatus(status)
	return r, nil
}

func (b *Boundary) SubmitSelfPickup(ctx context.Context, reservationID string) error {
	return b.setChoice(ctx, reservationID, reservation.ChoiceSelfPickup)
}

func (b *Boundary) SubmitDelivery(ctx context.Context, reservationID string) error {
	return b.setChoice(ctx, reservationID, reservation.ChoiceDelivery)
}

func (b *Boundary) setChoice(ctx context.Context, id string, choice reservation.Choice) error {
	ct, err := b.DB.Exec(ctx, `
		UPDATE reservations SET choice = $3, updated_at = now()
		WHERE id = $1 AND account_id = $2 AND choice = 'none' AND status = 'pending'`,
		id, reservation.AccountFromContext(ctx), string(choice))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotModifiable
	}
	return nil
}

// CancelReservation marks the reservation cancelled and returns its stock.
func (b *Boundary) CancelReservation(ctx context.Context, reservationID string) error {
	account := reservation.AccountFromContext(ctx)
	return pgx.BeginFunc(ctx, b.DB, func(tx pgx.Tx) error {
		var productID string
		var qty int
		err := tx.QueryRow(ctx, `
			SELECT product_id, quantity FROM reservations
			WHERE id = $1 AND account_id = $2 AND status = 'pending'
			FOR UPDATE`, reservationID, account).Scan(&productID, &qty)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotModifiable
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock + $2, sold = GREATEST(sold - $2, 0), updated_at = now()
			WHERE id = $1`, productID, qty); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE reservations SET status = 'cancelled', updated_at = now() WHERE id = $1`, reservationID)
		return err
	})
}

func (b *Boundary) CheckSelfPickupEligibility(ctx context.Context) (bool, error) {
	var ok bool
	err := b.DB.QueryRow(ctx, `SELECT self_pickup_eligible FROM accounts WHERE id = $1`,
		reservation.AccountFromContext(ctx)).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return ok, err
}

func (b *Boundary) FetchDeliveryConfig(ctx context.Context) (reservation.DeliveryConfig, error) {
	var cfg reservation.DeliveryConfig
	err := b.DB.QueryRow(ctx, `SELECT enabled, min_amount_cents FROM delivery_config WHERE id = 1`).
		Scan(&cfg.Enabled, &cfg.MinAmountCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return reservation.DeliveryConfig{}, nil
	}
	return cfg, err
}
