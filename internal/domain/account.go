package domain

import "time"

// Account is the balance-and-settings record for one messenger user.
// Balance and spend counters are owned by the repo layer and change only
// through its debit/credit/spend operations.
type Account struct {
	TgID           int64
	Username       string
	FirstName      string
	LastName       string
	Balance        int64
	Spent          int64
	ReferrerID     *int64
	ReferralEarned int64
	ReceiptEmail   string
	CurrentModel   string
	Settings       Settings
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Settings are the per-account output knobs snapshotted into each job.
// Values are stored as the user picked them ("auto", "2k", "1:1"); the
// provider gateway maps them onto each model family's dialect.
type Settings struct {
	OutputFormat string
	Resolution   string
	AspectRatio  string
}
