package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"annexbot/internal/domain"
)

const (
	busyRetryAttempts = 4
	busyRetryDelay    = 200 * time.Millisecond
)

// Store is the single durable state of the bot: account balances, pending
// input queues and the simple keyed records around them. It is backed by an
// embedded SQLite database; all balance-affecting writes are single
// read-modify-write statements retried briefly on lock contention.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wires a Store over an existing gorm handle. Used by tests.
func NewWithDB(db *gorm.DB) *Store { return &Store{db: db} }

// Migrate creates or extends the schema.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&User{},
		&PendingInput{},
		&ModelUsage{},
		&Payment{},
		&PromoCode{},
		&PendingAction{},
	)
}

// GetOrCreateAccount loads the account, creating it on first contact and
// refreshing the display names when they changed.
func (s *Store) GetOrCreateAccount(ctx context.Context, tgID int64, username, firstName, lastName string, referrerID *int64) (*domain.Account, error) {
	account, err := s.GetAccount(ctx, tgID)
	if err == nil {
		if account.Username != username || account.FirstName != firstName || account.LastName != lastName {
			updates := map[string]any{
				"username":   username,
				"first_name": firstName,
				"last_name":  lastName,
			}
			if err := s.db.WithContext(ctx).Model(&User{}).Where("tg_id = ?", tgID).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("update account names: %w", err)
			}
			account.Username = username
			account.FirstName = firstName
			account.LastName = lastName
		}
		return account, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	row := User{
		TgID:         tgID,
		Username:     username,
		FirstName:    firstName,
		LastName:     lastName,
		ReferrerID:   referrerID,
		OutputFormat: "auto",
		Resolution:   "2k",
		AspectRatio:  "auto",
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return s.GetAccount(ctx, tgID)
}

// GetAccount loads one account by messenger id.
func (s *Store) GetAccount(ctx context.Context, tgID int64) (*domain.Account, error) {
	var row User
	if err := s.db.WithContext(ctx).Where("tg_id = ?", tgID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return mapAccount(row), nil
}

// SetCurrentModel stores the selected model id.
func (s *Store) SetCurrentModel(ctx context.Context, tgID int64, model string) error {
	return s.setUserField(ctx, tgID, "current_model", model)
}

// SetOutputFormat stores the output format setting.
func (s *Store) SetOutputFormat(ctx context.Context, tgID int64, format string) error {
	return s.setUserField(ctx, tgID, "output_format", format)
}

// SetResolution stores the resolution setting.
func (s *Store) SetResolution(ctx context.Context, tgID int64, resolution string) error {
	return s.setUserField(ctx, tgID, "resolution", resolution)
}

// SetAspectRatio stores the aspect ratio setting.
func (s *Store) SetAspectRatio(ctx context.Context, tgID int64, ratio string) error {
	return s.setUserField(ctx, tgID, "aspect_ratio", ratio)
}

// SetReceiptEmail stores the receipt email captured from a payment.
func (s *Store) SetReceiptEmail(ctx context.Context, tgID int64, email string) error {
	return s.setUserField(ctx, tgID, "receipt_email", email)
}

func (s *Store) setUserField(ctx context.Context, tgID int64, field, value string) error {
	err := s.db.WithContext(ctx).Model(&User{}).Where("tg_id = ?", tgID).Update(field, value).Error
	if err != nil {
		return fmt.Errorf("update %s: %w", field, err)
	}
	return nil
}

// Credit adds amount to the balance.
func (s *Store) Credit(ctx context.Context, tgID int64, amount int64) error {
	return s.withBusyRetry(ctx, func() error {
		return s.db.WithContext(ctx).Model(&User{}).
			Where("tg_id = ?", tgID).
			Update("balance", gorm.Expr("balance + ?", amount)).Error
	})
}

// Debit subtracts amount from the balance in one conditional statement.
// Returns ErrInsufficientBalance when the balance cannot cover the amount,
// leaving the row untouched.
func (s *Store) Debit(ctx context.Context, tgID int64, amount int64) error {
	return s.withBusyRetry(ctx, func() error {
		result := s.db.WithContext(ctx).Model(&User{}).
			Where("tg_id = ? AND balance >= ?", tgID, amount).
			Update("balance", gorm.Expr("balance - ?", amount))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrInsufficientBalance
		}
		return nil
	})
}

// AddSpent increments the lifetime spend counter.
func (s *Store) AddSpent(ctx context.Context, tgID int64, tokens int64) error {
	return s.withBusyRetry(ctx, func() error {
		return s.db.WithContext(ctx).Model(&User{}).
			Where("tg_id = ?", tgID).
			Update("spent", gorm.Expr("spent + ?", tokens)).Error
	})
}

// RecordModelUsage appends a per-model spend row.
func (s *Store) RecordModelUsage(ctx context.Context, tgID int64, model string, tokens int64) error {
	row := ModelUsage{UserID: tgID, Model: model, Tokens: tokens}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("record model usage: %w", err)
	}
	return nil
}

// ModelUsageTotals sums token spend per model for one account.
func (s *Store) ModelUsageTotals(ctx context.Context, tgID int64) (map[string]int64, error) {
	type usageRow struct {
		Model string
		Total int64
	}
	var rows []usageRow
	err := s.db.WithContext(ctx).Model(&ModelUsage{}).
		Select("model, coalesce(sum(tokens),0) as total").
		Where("user_id = ?", tgID).
		Group("model").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sum model usage: %w", err)
	}
	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		totals[row.Model] = row.Total
	}
	return totals, nil
}

// AddPendingInput appends one input reference unless the queue already
// holds limit entries. The returned count is the queue length after the call;
// on ErrPendingInputFull the stored count is unchanged.
func (s *Store) AddPendingInput(ctx context.Context, tgID int64, fileRef string, limit int) (int, error) {
	count := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&PendingInput{}).Where("user_id = ?", tgID).Count(&existing).Error; err != nil {
			return err
		}
		count = int(existing)
		if count >= limit {
			return domain.ErrPendingInputFull
		}
		if err := tx.Create(&PendingInput{UserID: tgID, FileRef: fileRef}).Error; err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

// ConsumePendingInputs atomically reads and clears the queue in insertion
// order.
func (s *Store) ConsumePendingInputs(ctx context.Context, tgID int64) ([]string, error) {
	var refs []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []PendingInput
		if err := tx.Where("user_id = ?", tgID).Order("id ASC").Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		for _, row := range rows {
			refs = append(refs, row.FileRef)
		}
		return tx.Where("user_id = ?", tgID).Delete(&PendingInput{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("consume pending inputs: %w", err)
	}
	return refs, nil
}

// ClearPendingInputs drops every queued reference for one account.
func (s *Store) ClearPendingInputs(ctx context.Context, tgID int64) error {
	if err := s.db.WithContext(ctx).Where("user_id = ?", tgID).Delete(&PendingInput{}).Error; err != nil {
		return fmt.Errorf("clear pending inputs: %w", err)
	}
	return nil
}

// CountPendingInputs returns the current queue length.
func (s *Store) CountPendingInputs(ctx context.Context, tgID int64) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&PendingInput{}).Where("user_id = ?", tgID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count pending inputs: %w", err)
	}
	return int(count), nil
}

// CreatePromoCode mints a use-once grant.
func (s *Store) CreatePromoCode(ctx context.Context, code string, tokens int64) error {
	row := PromoCode{Code: normalizePromo(code), Tokens: tokens}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create promo code: %w", err)
	}
	return nil
}

// RedeemPromoCode marks the code used and credits its tokens. Returns the
// granted amount on success.
func (s *Store) RedeemPromoCode(ctx context.Context, tgID int64, code string) (int64, error) {
	normalized := normalizePromo(code)
	var tokens int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row PromoCode
		if err := tx.Where("code = ?", normalized).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrPromoNotFound
			}
			return err
		}
		if row.IsUsed {
			return domain.ErrPromoAlreadyUsed
		}
		now := time.Now().UTC()
		result := tx.Model(&PromoCode{}).
			Where("code = ? AND is_used = ?", normalized, false).
			Updates(map[string]any{"is_used": true, "used_by": tgID, "used_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrPromoAlreadyUsed
		}
		tokens = row.Tokens
		return tx.Model(&User{}).
			Where("tg_id = ?", tgID).
			Update("balance", gorm.Expr("balance + ?", row.Tokens)).Error
	})
	if err != nil {
		return 0, err
	}
	return tokens, nil
}

// UpsertPayment records a successful payment keyed by provider charge id.
// A repeated webhook for the same charge updates the existing row instead
// of crediting twice.
func (s *Store) UpsertPayment(ctx context.Context, payment Payment) (created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Payment{}).
			Where("provider_payment_charge_id = ?", payment.ProviderPaymentChargeID).
			Updates(map[string]any{
				"telegram_payment_charge_id": payment.TelegramPaymentChargeID,
				"payload":                    payment.Payload,
				"amount_rub":                 payment.AmountRub,
				"tokens":                     payment.Tokens,
				"status":                     "succeeded",
				"receipt_email":              payment.ReceiptEmail,
				"description":                payment.Description,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}
		payment.Status = "succeeded"
		if err := tx.Create(&payment).Error; err != nil {
			if isUniqueViolation(err) {
				return nil
			}
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upsert payment: %w", err)
	}
	return created, nil
}

// ListPayments returns succeeded payments, newest first.
func (s *Store) ListPayments(ctx context.Context, tgID int64) ([]Payment, error) {
	var rows []Payment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", tgID, "succeeded").
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return rows, nil
}

// SetPendingAction upserts the dialog-state row for one account.
func (s *Store) SetPendingAction(ctx context.Context, tgID int64, state, data string) error {
	row := PendingAction{UserID: tgID, State: state, Data: data}
	err := s.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return fmt.Errorf("set pending action: %w", err)
	}
	return nil
}

// GetPendingAction returns the dialog state, or ErrNotFound.
func (s *Store) GetPendingAction(ctx context.Context, tgID int64) (*PendingAction, error) {
	var row PendingAction
	if err := s.db.WithContext(ctx).Where("user_id = ?", tgID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get pending action: %w", err)
	}
	return &row, nil
}

// ClearPendingAction removes the dialog-state row.
func (s *Store) ClearPendingAction(ctx context.Context, tgID int64) error {
	if err := s.db.WithContext(ctx).Where("user_id = ?", tgID).Delete(&PendingAction{}).Error; err != nil {
		return fmt.Errorf("clear pending action: %w", err)
	}
	return nil
}

// SetReferrerIfEmpty links a referrer exactly once, rejecting self-referral.
func (s *Store) SetReferrerIfEmpty(ctx context.Context, tgID, referrerID int64) (bool, error) {
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("tg_id = ? AND referrer_id IS NULL AND tg_id <> ?", tgID, referrerID).
		Update("referrer_id", referrerID)
	if result.Error != nil {
		return false, fmt.Errorf("set referrer: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// AddReferralEarned credits a referral bonus: the earned counter and the
// balance move together.
func (s *Store) AddReferralEarned(ctx context.Context, tgID int64, tokens int64) error {
	return s.withBusyRetry(ctx, func() error {
		return s.db.WithContext(ctx).Model(&User{}).
			Where("tg_id = ?", tgID).
			Updates(map[string]any{
				"referral_earned": gorm.Expr("referral_earned + ?", tokens),
				"balance":         gorm.Expr("balance + ?", tokens),
			}).Error
	})
}

// CountReferrals counts accounts that joined through this account's link.
func (s *Store) CountReferrals(ctx context.Context, tgID int64) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("referrer_id = ?", tgID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return count, nil
}

// ListReferrals returns the newest invited accounts, up to limit.
func (s *Store) ListReferrals(ctx context.Context, tgID int64, limit int) ([]domain.Account, error) {
	var rows []User
	err := s.db.WithContext(ctx).
		Where("referrer_id = ?", tgID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	accounts := make([]domain.Account, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, *mapAccount(row))
	}
	return accounts, nil
}

// CountUsers returns the total number of accounts.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// withBusyRetry retries fn briefly when SQLite reports lock contention.
// This is distinct from the network retrier: it covers only the embedded
// store's transient busy state.
func (s *Store) withBusyRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(busyRetryAttempts, retry.NewConstant(busyRetryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err != nil && isBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database is busy")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}

func normalizePromo(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func mapAccount(row User) *domain.Account {
	return &domain.Account{
		TgID:           row.TgID,
		Username:       row.Username,
		FirstName:      row.FirstName,
		LastName:       row.LastName,
		Balance:        row.Balance,
		Spent:          row.Spent,
		ReferrerID:     row.ReferrerID,
		ReferralEarned: row.ReferralEarned,
		ReceiptEmail:   row.ReceiptEmail,
		CurrentModel:   row.CurrentModel,
		Settings: domain.Settings{
			OutputFormat: row.OutputFormat,
			Resolution:   row.Resolution,
			AspectRatio:  row.AspectRatio,
		},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
