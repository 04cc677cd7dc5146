package repo

import "time"

// User is the persisted account row. Balance and counters change only
// through Store operations, never by direct save of a loaded row.
type User struct {
	TgID           int64  `gorm:"column:tg_id;primaryKey"`
	Username       string `gorm:"column:username"`
	FirstName      string `gorm:"column:first_name"`
	LastName       string `gorm:"column:last_name"`
	Balance        int64  `gorm:"column:balance;not null;default:0"`
	Spent          int64  `gorm:"column:spent;not null;default:0"`
	ReferrerID     *int64 `gorm:"column:referrer_id"`
	ReferralEarned int64  `gorm:"column:referral_earned;not null;default:0"`
	ReceiptEmail   string `gorm:"column:receipt_email"`
	CurrentModel   string `gorm:"column:current_model"`
	OutputFormat   string `gorm:"column:output_format"`
	Resolution     string `gorm:"column:resolution"`
	AspectRatio    string `gorm:"column:aspect_ratio"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (User) TableName() string { return "users" }

// PendingInput is one queued input reference awaiting the next submission.
type PendingInput struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    int64  `gorm:"column:user_id;not null;index"`
	FileRef   string `gorm:"column:file_ref;not null"`
	CreatedAt time.Time
}

func (PendingInput) TableName() string { return "pending_inputs" }

// ModelUsage accumulates per-model token spend for the profile screen.
type ModelUsage struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    int64  `gorm:"column:user_id;not null;index"`
	Model     string `gorm:"column:model;not null"`
	Tokens    int64  `gorm:"column:tokens;not null"`
	CreatedAt time.Time
}

func (ModelUsage) TableName() string { return "model_usage" }

// Payment records one successful purchase, keyed by the provider charge id.
type Payment struct {
	ID                      int64  `gorm:"primaryKey;autoIncrement"`
	UserID                  int64  `gorm:"column:user_id;not null;index"`
	ProviderPaymentChargeID string `gorm:"column:provider_payment_charge_id;uniqueIndex"`
	TelegramPaymentChargeID string `gorm:"column:telegram_payment_charge_id"`
	Payload                 string `gorm:"column:payload"`
	AmountRub               int    `gorm:"column:amount_rub;not null"`
	Tokens                  int64  `gorm:"column:tokens;not null"`
	Status                  string `gorm:"column:status;not null"`
	ReceiptEmail            string `gorm:"column:receipt_email"`
	Description             string `gorm:"column:description"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (Payment) TableName() string { return "payments" }

// PromoCode is a use-once token grant.
type PromoCode struct {
	Code      string `gorm:"column:code;primaryKey"`
	Tokens    int64  `gorm:"column:tokens;not null"`
	IsUsed    bool   `gorm:"column:is_used;not null;default:false"`
	UsedBy    *int64 `gorm:"column:used_by"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (PromoCode) TableName() string { return "promo_codes" }

// PendingAction is the tiny per-user dialog state row (awaiting promo
// input, awaiting admin grant input).
type PendingAction struct {
	UserID    int64  `gorm:"column:user_id;primaryKey"`
	State     string `gorm:"column:state;not null"`
	Data      string `gorm:"column:data"`
	UpdatedAt time.Time
}

func (PendingAction) TableName() string { return "pending_actions" }
