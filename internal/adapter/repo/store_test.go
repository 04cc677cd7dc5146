package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"annexbot/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func createAccount(t *testing.T, store *Store, tgID int64) *domain.Account {
	t.Helper()
	account, err := store.GetOrCreateAccount(context.Background(), tgID, "user", "First", "Last", nil)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func TestGetOrCreateAccountDefaults(t *testing.T) {
	store := newTestStore(t)
	account := createAccount(t, store, 101)

	if account.Balance != 0 || account.Spent != 0 {
		t.Fatalf("fresh account has balance=%d spent=%d, want zeros", account.Balance, account.Spent)
	}
	if account.Settings.Resolution != "2k" {
		t.Fatalf("resolution = %q, want 2k", account.Settings.Resolution)
	}
	if account.Settings.OutputFormat != "auto" || account.Settings.AspectRatio != "auto" {
		t.Fatalf("settings = %+v, want auto format and ratio", account.Settings)
	}
}

func TestGetOrCreateAccountRefreshesNames(t *testing.T) {
	store := newTestStore(t)
	createAccount(t, store, 102)

	account, err := store.GetOrCreateAccount(context.Background(), 102, "renamed", "New", "Name", nil)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if account.Username != "renamed" || account.FirstName != "New" {
		t.Fatalf("names not refreshed: %+v", account)
	}
}

func TestDebitInsufficientLeavesBalance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccount(t, store, 103)
	if err := store.Credit(ctx, 103, 5_000); err != nil {
		t.Fatalf("credit: %v", err)
	}

	err := store.Debit(ctx, 103, 9_000)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("debit err = %v, want ErrInsufficientBalance", err)
	}

	account, err := store.GetAccount(ctx, 103)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance != 5_000 {
		t.Fatalf("balance = %d, want 5000 untouched", account.Balance)
	}
}

func TestDebitCreditRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccount(t, store, 104)
	if err := store.Credit(ctx, 104, 9_000); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := store.Debit(ctx, 104, 9_000); err != nil {
		t.Fatalf("debit: %v", err)
	}
	account, _ := store.GetAccount(ctx, 104)
	if account.Balance != 0 {
		t.Fatalf("balance after debit = %d, want 0", account.Balance)
	}
	if err := store.Credit(ctx, 104, 9_000); err != nil {
		t.Fatalf("refund: %v", err)
	}
	account, _ = store.GetAccount(ctx, 104)
	if account.Balance != 9_000 {
		t.Fatalf("balance after refund = %d, want 9000", account.Balance)
	}
	if account.Spent != 0 {
		t.Fatalf("spent = %d, want unchanged", account.Spent)
	}
}

func TestPendingInputCapRejectsWithoutMutation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccount(t, store, 105)

	const capacity = 10
	for i := 0; i < capacity; i++ {
		count, err := store.AddPendingInput(ctx, 105, fmt.Sprintf("file-%d", i), capacity)
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if count != i+1 {
			t.Fatalf("count after insert %d = %d", i, count)
		}
	}

	count, err := store.AddPendingInput(ctx, 105, "file-overflow", capacity)
	if !errors.Is(err, domain.ErrPendingInputFull) {
		t.Fatalf("11th insert err = %v, want ErrPendingInputFull", err)
	}
	if count != capacity {
		t.Fatalf("reported count = %d, want %d", count, capacity)
	}

	refs, err := store.ConsumePendingInputs(ctx, 105)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(refs) != capacity {
		t.Fatalf("drained %d refs, want %d", len(refs), capacity)
	}
	if refs[0] != "file-0" || refs[capacity-1] != fmt.Sprintf("file-%d", capacity-1) {
		t.Fatalf("drain order wrong: %v", refs)
	}

	left, err := store.CountPendingInputs(ctx, 105)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if left != 0 {
		t.Fatalf("queue not empty after consume: %d", left)
	}
}

func TestConsumePendingInputsEmptyQueue(t *testing.T) {
	store := newTestStore(t)
	createAccount(t, store, 106)
	refs, err := store.ConsumePendingInputs(context.Background(), 106)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("refs = %v, want empty", refs)
	}
}

func TestRedeemPromoCodeOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccount(t, store, 107)
	createAccount(t, store, 108)

	if err := store.CreatePromoCode(ctx, "annexAB12CD", 50_000); err != nil {
		t.Fatalf("create promo: %v", err)
	}

	tokens, err := store.RedeemPromoCode(ctx, 107, "ANNEXAB12CD")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if tokens != 50_000 {
		t.Fatalf("tokens = %d, want 50000", tokens)
	}
	account, _ := store.GetAccount(ctx, 107)
	if account.Balance != 50_000 {
		t.Fatalf("balance = %d, want 50000", account.Balance)
	}

	if _, err := store.RedeemPromoCode(ctx, 108, "annexab12cd"); !errors.Is(err, domain.ErrPromoAlreadyUsed) {
		t.Fatalf("second redeem err = %v, want ErrPromoAlreadyUsed", err)
	}
	if _, err := store.RedeemPromoCode(ctx, 108, "MISSING"); !errors.Is(err, domain.ErrPromoNotFound) {
		t.Fatalf("missing code err = %v, want ErrPromoNotFound", err)
	}
}

func TestUpsertPaymentIdempotentByChargeID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccount(t, store, 109)

	payment := Payment{
		UserID:                  109,
		ProviderPaymentChargeID: "charge-1",
		AmountRub:               99,
		Tokens:                  50_000,
	}
	created, err := store.UpsertPayment(ctx, payment)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !created {
		t.Fatalf("first upsert should create a row")
	}
	created, err = store.UpsertPayment(ctx, payment)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Fatalf("second upsert must update, not create")
	}

	payments, err := store.ListPayments(ctx, 109)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("payments = %d rows, want 1", len(payments))
	}
}

func TestSetReferrerIfEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccount(t, store, 110)
	createAccount(t, store, 111)

	linked, err := store.SetReferrerIfEmpty(ctx, 111, 110)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if !linked {
		t.Fatalf("first link should succeed")
	}
	linked, err = store.SetReferrerIfEmpty(ctx, 111, 110)
	if err != nil {
		t.Fatalf("relink: %v", err)
	}
	if linked {
		t.Fatalf("second link must be a no-op")
	}
	if linked, _ := store.SetReferrerIfEmpty(ctx, 110, 110); linked {
		t.Fatalf("self referral must be rejected")
	}

	count, err := store.CountReferrals(ctx, 110)
	if err != nil {
		t.Fatalf("count referrals: %v", err)
	}
	if count != 1 {
		t.Fatalf("referrals = %d, want 1", count)
	}
}

func TestModelUsageTotals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccount(t, store, 112)

	for _, tokens := range []int64{9_000, 9_000} {
		if err := store.RecordModelUsage(ctx, 112, domain.ModelNanoBanana, tokens); err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}
	if err := store.RecordModelUsage(ctx, 112, domain.ModelNanoBananaPro, 36_000); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	totals, err := store.ModelUsageTotals(ctx, 112)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals[domain.ModelNanoBanana] != 18_000 {
		t.Fatalf("nano total = %d, want 18000", totals[domain.ModelNanoBanana])
	}
	if totals[domain.ModelNanoBananaPro] != 36_000 {
		t.Fatalf("pro total = %d, want 36000", totals[domain.ModelNanoBananaPro])
	}
}
