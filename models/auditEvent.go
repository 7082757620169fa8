package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/policy"
	"github.com/mmdatafocus/retail_backend/utils"
	"gorm.io/gorm"
)

type AuditAction string

const (
	AuditSaleCreated        AuditAction = "SALE_CREATED"
	AuditSaleEdited         AuditAction = "SALE_EDITED"
	AuditSaleCancelled      AuditAction = "SALE_CANCELLED"
	AuditPriceOverride      AuditAction = "PRICE_OVERRIDE"
	AuditPurchaseCreated    AuditAction = "PURCHASE_CREATED"
	AuditPurchaseEdited     AuditAction = "PURCHASE_EDITED"
	AuditPurchaseCancelled  AuditAction = "PURCHASE_CANCELLED"
	AuditPaymentCreated     AuditAction = "PAYMENT_CREATED"
	AuditPaymentCancelled   AuditAction = "PAYMENT_CANCELLED"
	AuditCustomerCreated    AuditAction = "CUSTOMER_CREATED"
	AuditProductCostUpdated AuditAction = "PRODUCT_COST_UPDATED"
)

const (
	ResourceSale       = "sale"
	ResourcePurchase   = "purchase"
	ResourcePayment    = "payment"
	ResourceReceivable = "receivable"
	ResourceCustomer   = "customer"
	ResourceProduct    = "product"
)

var ErrAuditEventImmutable = errors.New("audit events cannot be changed")

// AuditEvent is append-only. Details is the JSON snapshot taken when the
// mutation happened.
type AuditEvent struct {
	ID            int         `gorm:"primary_key" json:"id"`
	BusinessId    string      `gorm:"size:64;not null;index" json:"business_id"`
	ActorId       int         `gorm:"not null;index" json:"actor_id"`
	ActorName     string      `gorm:"size:100" json:"actor_name"`
	Action        AuditAction `gorm:"size:40;not null;index" json:"action"`
	ResourceType  string      `gorm:"size:40;not null;index:idx_audit_resource" json:"resource_type"`
	ResourceId    int         `gorm:"not null;index:idx_audit_resource" json:"resource_id"`
	Details       string      `gorm:"type:text" json:"details"`
	CorrelationId string      `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func (e *AuditEvent) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditEventImmutable
}

func (e *AuditEvent) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditEventImmutable
}

// AuditOutbox carries the publish state of an audit event so the event row
// itself never changes.
type AuditOutbox struct {
	ID               int        `gorm:"primary_key" json:"id"`
	BusinessId       string     `gorm:"size:64;not null;index" json:"business_id"`
	AuditEventId     int        `gorm:"not null;uniqueIndex" json:"audit_event_id"`
	PublishStatus    string     `gorm:"size:20;not null;index:idx_outbox_ready" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index:idx_outbox_ready" json:"next_attempt_at"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:64" json:"locked_by"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:128" json:"pub_sub_message_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	AuditEvent AuditEvent `gorm:"foreignKey:AuditEventId" json:"-"`
}

type pendingAuditEvent struct {
	action       AuditAction
	resourceType string
	resourceId   int
	details      map[string]any
}

// AuditTrail collects the events of one operation. Flush writes them in the
// operation's transaction, right before commit.
type AuditTrail struct {
	identity policy.Identity
	events   []pendingAuditEvent
}

func NewAuditTrail(identity policy.Identity) *AuditTrail {
	return &AuditTrail{identity: identity}
}

func (t *AuditTrail) Record(action AuditAction, resourceType string, resourceId int, details map[string]any) {
	t.events = append(t.events, pendingAuditEvent{
		action:       action,
		resourceType: resourceType,
		resourceId:   resourceId,
		details:      details,
	})
}

func (t *AuditTrail) Len() int {
	return len(t.events)
}

// Flush fails when nothing was recorded, so a mutation cannot commit
// unaudited. Any write failure aborts the transaction.
func (t *AuditTrail) Flush(tx *gorm.DB) error {
	if len(t.events) == 0 {
		return errors.New("audit trail is empty")
	}
	correlationId := correlationIdFromContextOrNew(tx.Statement.Context)
	for _, ev := range t.events {
		if _, err := RecordAuditEvent(tx, t.identity.BusinessId, t.identity.UserId, t.identity.UserName,
			ev.action, ev.resourceType, ev.resourceId, ev.details, correlationId); err != nil {
			return err
		}
	}
	t.events = nil
	return nil
}

// RecordAuditEvent appends one event and its outbox row using tx.
func RecordAuditEvent(tx *gorm.DB, businessId string, actorId int, actorName string, action AuditAction,
	resourceType string, resourceId int, details map[string]any, correlationId string) (*AuditEvent, error) {
	if businessId == "" || actorId <= 0 {
		return nil, utils.NewValidationError("AUDIT_ACTOR_REQUIRED", "an audit event needs a business and an actor")
	}
	raw, err := utils.MarshalToJSON(utils.SanitizeMetadata(details))
	if err != nil {
		return nil, err
	}
	event := AuditEvent{
		BusinessId:    businessId,
		ActorId:       actorId,
		ActorName:     actorName,
		Action:        action,
		ResourceType:  resourceType,
		ResourceId:    resourceId,
		Details:       raw,
		CorrelationId: correlationId,
	}
	if err := tx.Create(&event).Error; err != nil {
		return nil, err
	}
	outbox := AuditOutbox{
		BusinessId:    businessId,
		AuditEventId:  event.ID,
		PublishStatus: OutboxPublishStatusPending,
	}
	if err := tx.Omit("AuditEvent").Create(&outbox).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// ToAuditMessage is the published form of an event.
func (e AuditEvent) ToAuditMessage() config.AuditMessage {
	details := json.RawMessage(e.Details)
	if !json.Valid(details) {
		details = json.RawMessage("null")
	}
	return config.AuditMessage{
		EventId:       e.ID,
		BusinessId:    e.BusinessId,
		ActorId:       e.ActorId,
		Action:        string(e.Action),
		ResourceType:  e.ResourceType,
		ResourceId:    e.ResourceId,
		Details:       details,
		CorrelationId: e.CorrelationId,
		OccurredAt:    e.CreatedAt,
	}
}
