package events

import "github.com/shopspring/decimal"

// Amount is a decimal money amount rendered as a bare JSON number.
type Amount struct {
	decimal.Decimal
}

func AmountFromInt(v int64) Amount {
	return Amount{Decimal: decimal.NewFromInt(v)}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

// UnmarshalJSON accepts both 100 and "100".
func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.Decimal.UnmarshalJSON(data)
}

// Risk is the fraud classification produced by the risk step.
type Risk string

const (
	RiskLow  Risk = "LOW"
	RiskHigh Risk = "HIGH"
)

func (r Risk) IsValid() bool {
	return r == RiskLow || r == RiskHigh
}

const (
	ReasonFraudHigh = "FraudHigh"

	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type TransactionInitiated struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Amount   Amount `json:"amount"`
	Currency string `json:"currency"`
}

type FundsReserved struct {
	Amount   Amount `json:"amount"`
	Currency string `json:"currency"`
	From     string `json:"from"`
}

type FraudChecked struct {
	Risk Risk `json:"risk"`
}

type Committed struct {
	LedgerTxID string `json:"ledgerTxId"`
	To         string `json:"to"`
	Amount     Amount `json:"amount"`
	Currency   string `json:"currency"`
}

type Reversed struct {
	Reason   string `json:"reason"`
	Amount   Amount `json:"amount"`
	Currency string `json:"currency"`
}

type Notified struct {
	Channels []string `json:"channels"`
	Message  string   `json:"message"`
}
