package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/moneybridge/server/internal/model"
)

// PostgresStore is the durable Store implementation. Each mutating
// operation is one atomic UPDATE of only the columns the calling role owns,
// so a reader can never observe a half-applied multi-field change, and the
// two sessions' writes to disjoint fields commute.
type PostgresStore struct {
	db       *sql.DB
	notifier Notifier
}

// NewPostgresStore wraps an open database handle. The notifier distributes
// change notifications; use NewLocalNotifier for single-instance setups.
func NewPostgresStore(db *sql.DB, notifier Notifier) *PostgresStore {
	return &PostgresStore{db: db, notifier: notifier}
}

func (s *PostgresStore) RegisterSeller(ctx context.Context, phone, idNumber string) (model.SellerProfile, error) {
	query := `
		INSERT INTO sellers (phone, id_number, registered_at)
		VALUES ($1, $2, now())
		ON CONFLICT (phone, id_number) DO UPDATE SET registered_at = EXCLUDED.registered_at
		RETURNING registered_at
	`
	profile := model.SellerProfile{Phone: phone, IDNumber: idNumber}
	if err := s.db.QueryRowContext(ctx, query, phone, idNumber).Scan(&profile.RegisteredAt); err != nil {
		return model.SellerProfile{}, fmt.Errorf("register seller: %w", err)
	}
	return profile, nil
}

func (s *PostgresStore) IsSellerRegistered(ctx context.Context, phone, idNumber string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM sellers WHERE phone = $1 AND id_number = $2)`
	if err := s.db.QueryRowContext(ctx, query, phone, idNumber).Scan(&exists); err != nil {
		return false, fmt.Errorf("check seller: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req NewRequest) (model.TransactionRequest, error) {
	insert := `
		INSERT INTO requests (
			id, client_key, buyer_phone, buyer_name, seller_phone, seller_id_number,
			plate, make, model, year, trim,
			min_price, max_price, avg_price, owner_count, mileage, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 'pending')
		ON CONFLICT (client_key) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, insert,
		uuid.NewString(), req.ClientKey, req.BuyerPhone, req.BuyerName, req.SellerPhone, req.SellerIDNumber,
		req.Vehicle.Plate, req.Vehicle.Make, req.Vehicle.Model, req.Vehicle.Year, req.Vehicle.Trim,
		req.Pricing.MinPrice, req.Pricing.MaxPrice, req.Pricing.AvgPrice, req.OwnerCount, req.Mileage,
	)
	if err != nil {
		return model.TransactionRequest{}, fmt.Errorf("insert request: %w", err)
	}

	// Select by the idempotency key: covers both the fresh insert and a
	// retry that hit the conflict clause.
	row := s.db.QueryRowContext(ctx, selectRequest+` WHERE client_key = $1`, req.ClientKey)
	record, err := scanRequest(row)
	if err != nil {
		return model.TransactionRequest{}, fmt.Errorf("read created request: %w", err)
	}
	s.notifyRequest(ctx, record.ID, record.SellerPhone)
	return record, nil
}

const selectRequest = `
	SELECT id, buyer_phone, buyer_name, seller_phone, seller_id_number,
	       plate, make, model, year, trim,
	       min_price, max_price, avg_price, owner_count, mileage,
	       status, agreed_price, payment_complete, transfer_complete, created_at
	FROM requests`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (model.TransactionRequest, error) {
	var r model.TransactionRequest
	var agreed sql.NullInt64
	err := row.Scan(
		&r.ID, &r.BuyerPhone, &r.BuyerName, &r.SellerPhone, &r.SellerIDNumber,
		&r.Vehicle.Plate, &r.Vehicle.Make, &r.Vehicle.Model, &r.Vehicle.Year, &r.Vehicle.Trim,
		&r.Pricing.MinPrice, &r.Pricing.MaxPrice, &r.Pricing.AvgPrice, &r.OwnerCount, &r.Mileage,
		&r.Status, &agreed, &r.PaymentComplete, &r.TransferComplete, &r.CreatedAt,
	)
	if err != nil {
		return model.TransactionRequest{}, err
	}
	if agreed.Valid {
		p := int(agreed.Int64)
		r.AgreedPrice = &p
	}
	return r, nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (model.TransactionRequest, error) {
	row := s.db.QueryRowContext(ctx, selectRequest+` WHERE id = $1`, id)
	record, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TransactionRequest{}, ErrNotFound
	}
	if err != nil {
		return model.TransactionRequest{}, fmt.Errorf("query request: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) ApproveRequest(ctx context.Context, id string) error {
	return s.applyUpdate(ctx, true,
		`UPDATE requests SET status = 'approved' WHERE id = $1 AND status = 'pending' RETURNING seller_phone`, id)
}

func (s *PostgresStore) RejectRequest(ctx context.Context, id string) error {
	return s.applyUpdate(ctx, true,
		`UPDATE requests SET status = 'rejected' WHERE id = $1 AND status = 'pending' RETURNING seller_phone`, id)
}

func (s *PostgresStore) SetAgreedPrice(ctx context.Context, id string, price int) error {
	return s.applyUpdate(ctx, false,
		`UPDATE requests SET agreed_price = $2, status = 'price_set' WHERE id = $1 RETURNING seller_phone`, id, price)
}

func (s *PostgresStore) ConfirmPrice(ctx context.Context, id string) error {
	return s.applyUpdate(ctx, false,
		`UPDATE requests SET status = 'price_confirmed' WHERE id = $1 RETURNING seller_phone`, id)
}

func (s *PostgresStore) MarkPaymentComplete(ctx context.Context, id string) error {
	return s.applyUpdate(ctx, false,
		`UPDATE requests SET payment_complete = TRUE, status = 'paid' WHERE id = $1 RETURNING seller_phone`, id)
}

func (s *PostgresStore) MarkTransferComplete(ctx context.Context, id string) error {
	return s.applyUpdate(ctx, false,
		`UPDATE requests SET transfer_complete = TRUE, status = 'completed' WHERE id = $1 RETURNING seller_phone`, id)
}

// applyUpdate runs a single-row UPDATE that returns seller_phone, maps a
// missed guard condition to ErrConflict, and publishes the change. args[0]
// must be the request id.
func (s *PostgresStore) applyUpdate(ctx context.Context, guarded bool, query string, args ...interface{}) error {
	id := args[0].(string)
	var sellerPhone string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&sellerPhone)
	if errors.Is(err, sql.ErrNoRows) {
		if !guarded {
			return ErrNotFound
		}
		var exists bool
		checkErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)`, id).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("check request: %w", checkErr)
		}
		if exists {
			return ErrConflict
		}
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	s.notifyRequest(ctx, id, sellerPhone)
	return nil
}

func (s *PostgresStore) notifyRequest(ctx context.Context, id, sellerPhone string) {
	s.notifier.Publish(ctx, requestChannel(id))
	s.notifier.Publish(ctx, sellerChannel(sellerPhone))
}

func (s *PostgresStore) SubscribeToRequest(id string, fn func(*model.TransactionRequest)) Unsubscribe {
	g := &deliveryGuard{}
	deliver := func() {
		g.deliver(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			record, err := s.GetRequest(ctx, id)
			if errors.Is(err, ErrNotFound) {
				fn(nil)
				return
			}
			if err != nil {
				log.Printf("request subscription %s: %v", id, err)
				return
			}
			fn(&record)
		})
	}

	unsub := s.notifier.Subscribe(requestChannel(id), deliver)
	deliver()
	return func() {
		unsub()
		g.close()
	}
}

func (s *PostgresStore) SubscribeToSellerRequests(phone, idNumber string, fn func([]model.TransactionRequest)) Unsubscribe {
	g := &deliveryGuard{}
	deliver := func() {
		g.deliver(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			list, err := s.sellerRequests(ctx, phone, idNumber)
			if err != nil {
				log.Printf("seller subscription %s: %v", phone, err)
				return
			}
			fn(list)
		})
	}

	unsub := s.notifier.Subscribe(sellerChannel(phone), deliver)
	deliver()
	return func() {
		unsub()
		g.close()
	}
}

// sellerRequests queries by phone (the store-side equality index) and
// filters by id number consumer-side, as the contract requires.
func (s *PostgresStore) sellerRequests(ctx context.Context, phone, idNumber string) ([]model.TransactionRequest, error) {
	rows, err := s.db.QueryContext(ctx, selectRequest+` WHERE seller_phone = $1 ORDER BY created_at`, phone)
	if err != nil {
		return nil, fmt.Errorf("query seller requests: %w", err)
	}
	defer rows.Close()

	var list []model.TransactionRequest
	for rows.Next() {
		record, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		if record.SellerIDNumber == idNumber {
			list = append(list, record)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return list, nil
}
