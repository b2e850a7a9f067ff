package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DueDateLayout is the stored format of installment due dates.
const DueDateLayout = "2006-01-02"

var (
	ErrNoInstallments        = errors.New("contract has no installments")
	ErrInstallmentsMalformed = errors.New("contract installments are malformed")
)

// Status is the payment state of a single installment.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

// Contract is a published agreement with a customer, split into installments.
// Corresponds to the 'contracts' table. Installments stay in their stored JSONB form until used.
type Contract struct {
	ID               int64
	CustomerID       int64
	Published        bool
	InstallmentsJSON []byte
}

// Installments decodes the stored installment list.
func (c *Contract) Installments() ([]RawInstallment, error) {
	return DecodeInstallments(c.InstallmentsJSON)
}

// RawInstallment is one installment as stored, before validation.
type RawInstallment struct {
	Amount  decimal.Decimal `json:"amount"`
	DueDate string          `json:"due_date"`
	Status  string          `json:"status"`

	decodeErr error
}

// Installment is a validated installment with its due date pinned to a calendar day.
type Installment struct {
	Index   int
	Amount  decimal.Decimal
	DueDate time.Time
	Status  Status
}

// IsPaid reports whether the installment has been settled.
func (i Installment) IsPaid() bool { return i.Status == StatusPaid }

// DataError describes a single installment that could not be interpreted.
type DataError struct {
	ContractID int64
	Index      int
	Reason     string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("contract %d installment %d: %s", e.ContractID, e.Index, e.Reason)
}

// DecodeInstallments decodes the stored JSON array. Individual entries are not validated here.
func DecodeInstallments(raw []byte) ([]RawInstallment, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, ErrNoInstallments
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInstallmentsMalformed, err)
	}
	if len(items) == 0 {
		return nil, ErrNoInstallments
	}

	out := make([]RawInstallment, len(items))
	for i, item := range items {
		// A single bad entry must not hide the others; Parse reports its decode error.
		if err := json.Unmarshal(item, &out[i]); err != nil {
			out[i] = RawInstallment{decodeErr: err}
		}
	}
	return out, nil
}

// Parse validates the raw entry. The due date is interpreted as a calendar day in loc.
func (r RawInstallment) Parse(contractID int64, index int, loc *time.Location) (Installment, error) {
	if loc == nil {
		loc = time.UTC
	}
	if r.decodeErr != nil {
		return Installment{}, &DataError{ContractID: contractID, Index: index, Reason: fmt.Sprintf("malformed entry: %v", r.decodeErr)}
	}
	dateStr := strings.TrimSpace(r.DueDate)
	if dateStr == "" {
		return Installment{}, &DataError{ContractID: contractID, Index: index, Reason: "missing due date"}
	}
	due, err := time.ParseInLocation(DueDateLayout, dateStr, loc)
	if err != nil {
		return Installment{}, &DataError{ContractID: contractID, Index: index, Reason: fmt.Sprintf("unparseable due date %q", r.DueDate)}
	}

	var status Status
	switch Status(strings.ToLower(strings.TrimSpace(r.Status))) {
	case StatusPaid:
		status = StatusPaid
	case StatusPending, "":
		status = StatusPending
	default:
		return Installment{}, &DataError{ContractID: contractID, Index: index, Reason: fmt.Sprintf("unknown status %q", r.Status)}
	}

	if !r.Amount.IsPositive() {
		return Installment{}, &DataError{ContractID: contractID, Index: index, Reason: "amount must be positive"}
	}
	if !r.Amount.Truncate(0).BigInt().IsInt64() {
		return Installment{}, &DataError{ContractID: contractID, Index: index, Reason: fmt.Sprintf("amount %s out of range", r.Amount.String())}
	}

	return Installment{
		Index:   index,
		Amount:  r.Amount,
		DueDate: due,
		Status:  status,
	}, nil
}
