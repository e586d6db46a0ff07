package repo

import (
	"database/sql"
	"encoding/json"

	_ "github.com/lib/pq"

	"storefront-backend/internal/domain"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	r := &PostgresRepo{db: db}
	if err := r.init(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PostgresRepo) init() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		payment_ref TEXT,
		provider TEXT,
		status TEXT,
		items TEXT,
		customer TEXT,
		shipping_address TEXT,
		billing_address TEXT,
		summary TEXT,
		special_instructions TEXT,
		coupon_code TEXT,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ
	);`)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS orders_payment_ref ON orders (payment_ref) WHERE payment_ref <> '';`)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`CREATE TABLE IF NOT EXISTS webhook_events (
		event_id TEXT PRIMARY KEY,
		processed_at TIMESTAMPTZ DEFAULT now()
	);`)
	return err
}

func (r *PostgresRepo) PutOrder(o *domain.Order) error {
	items, _ := json.Marshal(o.Items)
	customer, _ := json.Marshal(o.Customer)
	shipping, _ := json.Marshal(o.ShippingAddress)
	billing, _ := json.Marshal(o.BillingAddress)
	summary, _ := json.Marshal(o.Summary)
	_, err := r.db.Exec(`INSERT INTO orders (order_id,payment_ref,provider,status,items,customer,shipping_address,billing_address,summary,special_instructions,coupon_code,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (order_id) DO UPDATE SET payment_ref=$2,provider=$3,status=$4,items=$5,customer=$6,shipping_address=$7,billing_address=$8,summary=$9,special_instructions=$10,coupon_code=$11,updated_at=$13`,
		o.OrderID, o.PaymentRef, o.Provider, string(o.Status), string(items), string(customer), string(shipping), string(billing), string(summary), o.SpecialInstructions, o.CouponCode, o.CreatedAt, o.UpdatedAt)
	return err
}

const orderCols = `order_id,payment_ref,provider,status,items,customer,shipping_address,billing_address,summary,special_instructions,coupon_code,created_at,updated_at`

func (r *PostgresRepo) GetOrder(id string) (*domain.Order, bool) {
	row := r.db.QueryRow(`SELECT `+orderCols+` FROM orders WHERE order_id=$1`, id)
	return scanOrder(row)
}

func (r *PostgresRepo) GetOrderByPaymentRef(ref string) (*domain.Order, bool) {
	row := r.db.QueryRow(`SELECT `+orderCols+` FROM orders WHERE payment_ref=$1`, ref)
	return scanOrder(row)
}

func scanOrder(row *sql.Row) (*domain.Order, bool) {
	var o domain.Order
	var items, customer, shipping, billing, summary string
	err := row.Scan(&o.OrderID, &o.PaymentRef, &o.Provider, (*string)(&o.Status), &items, &customer, &shipping, &billing, &summary, &o.SpecialInstructions, &o.CouponCode, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, false
	}
	_ = json.Unmarshal([]byte(items), &o.Items)
	_ = json.Unmarshal([]byte(customer), &o.Customer)
	_ = json.Unmarshal([]byte(shipping), &o.ShippingAddress)
	if billing != "" && billing != "null" {
		_ = json.Unmarshal([]byte(billing), &o.BillingAddress)
	}
	_ = json.Unmarshal([]byte(summary), &o.Summary)
	return &o, true
}

func (r *PostgresRepo) ListOrders(page, pageSize int) ([]domain.Order, int) {
	if page < 1 {
		page = 1
	}
	rows, err := r.db.Query(`SELECT `+orderCols+` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0
	}
	defer rows.Close()
	out := make([]domain.Order, 0, pageSize)
	for rows.Next() {
		var o domain.Order
		var items, customer, shipping, billing, summary string
		if err := rows.Scan(&o.OrderID, &o.PaymentRef, &o.Provider, (*string)(&o.Status), &items, &customer, &shipping, &billing, &summary, &o.SpecialInstructions, &o.CouponCode, &o.CreatedAt, &o.UpdatedAt); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(items), &o.Items)
		_ = json.Unmarshal([]byte(customer), &o.Customer)
		_ = json.Unmarshal([]byte(shipping), &o.ShippingAddress)
		if billing != "" && billing != "null" {
			_ = json.Unmarshal([]byte(billing), &o.BillingAddress)
		}
		_ = json.Unmarshal([]byte(summary), &o.Summary)
		out = append(out, o)
	}
	var total int
	_ = r.db.QueryRow(`SELECT COUNT(1) FROM orders`).Scan(&total)
	return out, total
}

// MarkEventProcessed inserts the event id; a conflict means a duplicate
// delivery.
func (r *PostgresRepo) MarkEventProcessed(eventID string) (bool, error) {
	res, err := r.db.Exec(`INSERT INTO webhook_events (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING`, eventID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
