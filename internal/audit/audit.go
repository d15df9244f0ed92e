// Package audit records an append-only trail of significant flow actions.
// Entries carry a hashed phone rather than the number itself so the trail
// can be inspected without exposing PII. Recording is best-effort and never
// interrupts the main flow.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Action names a recordable event.
type Action string

const (
	ActionRoleSelected         Action = "ROLE_SELECTED"
	ActionVehicleLookup        Action = "VEHICLE_LOOKUP"
	ActionSellerRegistered     Action = "SELLER_REGISTERED"
	ActionRequestCreated       Action = "REQUEST_CREATED"
	ActionRequestApproved      Action = "REQUEST_APPROVED"
	ActionRequestRejected      Action = "REQUEST_REJECTED"
	ActionPriceSet             Action = "PRICE_SET"
	ActionPriceConfirmed       Action = "PRICE_CONFIRMED"
	ActionBankDetailsSubmitted Action = "BANK_DETAILS_SUBMITTED"
	ActionPaymentCompleted     Action = "PAYMENT_COMPLETED"
	ActionTransferCompleted    Action = "TRANSFER_COMPLETED"
	ActionTransactionCancelled Action = "TRANSACTION_CANCELLED"
)

// Entry is one audit record.
type Entry struct {
	Action    Action            `json:"action"`
	Role      string            `json:"role"`
	PhoneHash string            `json:"phone_hash,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	At        time.Time         `json:"at"`
}

// Recorder accepts audit entries. Implementations must not fail the caller.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Nop discards all entries. Used by tests.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}

// HashPhone returns a short stable hash of a phone number for actor
// attribution without storing the number.
func HashPhone(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])[:12]
}

const auditQueue = "transaction.audit"

// Log writes entries to the audit_log table and, when an AMQP URL is
// configured, publishes them to a durable queue for downstream consumers.
// Either sink may be absent; failures are logged and swallowed.
type Log struct {
	db      *sql.DB
	amqpURL string
}

// NewLog builds a recorder. db and amqpURL may each be nil/empty.
func NewLog(db *sql.DB, amqpURL string) *Log {
	return &Log{db: db, amqpURL: amqpURL}
}

func (l *Log) Record(ctx context.Context, e Entry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if l.db != nil {
		l.insert(ctx, e)
	}
	if l.amqpURL != "" {
		// publish off the request path; audit must not add latency
		go l.publish(e)
	}
}

func (l *Log) insert(ctx context.Context, e Entry) {
	details, err := json.Marshal(e.Details)
	if err != nil {
		log.Printf("audit: marshal details: %v", err)
		details = []byte("{}")
	}
	query := `
		INSERT INTO audit_log (action, role, phone_hash, request_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := l.db.ExecContext(ctx, query,
		string(e.Action), e.Role, e.PhoneHash, e.RequestID, details, e.At); err != nil {
		log.Printf("audit: insert %s: %v", e.Action, err)
	}
}

// publish sends the entry to the audit queue as a persistent JSON message.
// Connections are short-lived; audit volume here does not justify a pooled
// channel.
func (l *Log) publish(e Entry) {
	conn, err := amqp.Dial(l.amqpURL)
	if err != nil {
		log.Printf("audit: amqp dial: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("audit: amqp channel: %v", err)
		return
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(auditQueue, true, false, false, false, nil); err != nil {
		log.Printf("audit: queue declare: %v", err)
		return
	}

	body, err := json.Marshal(e)
	if err != nil {
		log.Printf("audit: marshal entry: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = ch.PublishWithContext(ctx, "", auditQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.At,
		Body:         body,
	})
	if err != nil {
		log.Printf("audit: publish %s: %v", e.Action, err)
	}
}
