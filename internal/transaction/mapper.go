package transaction

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/tigerroll/parabatch/pkg/batch/component/step/reader"
)

// Statement inserts one transaction through the relational sink.
const Statement = "INSERT INTO TRANSACTIONS(ACCOUNT, AMOUNT, TIMESTAMP) VALUES (@account, @amount, @timestamp)"

// FieldNames are the positional fields of a delimited transaction line.
var FieldNames = []string{"account", "amount", "timestamp"}

// FragmentRoot is the element each transaction is bound from in a markup document.
const FragmentRoot = "transaction"

// MapLine builds a Transaction from a delimited line.
func MapLine(fields reader.FieldSet) (Transaction, error) {
	return build(fields["account"], fields["amount"], fields["timestamp"])
}

// Record is the markup binding of a transaction fragment.
type Record struct {
	XMLName   xml.Name `xml:"transaction"`
	Account   string   `xml:"account"`
	Amount    string   `xml:"amount"`
	Timestamp string   `xml:"timestamp"`
}

// MapRecord builds a Transaction from a bound markup fragment.
func MapRecord(r Record) (Transaction, error) {
	return build(r.Account, r.Amount, r.Timestamp)
}

func build(account, amount, timestamp string) (Transaction, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return Transaction{}, fmt.Errorf("missing account")
	}
	a, err := ParseAmount(amount)
	if err != nil {
		return Transaction{}, err
	}
	ts, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(timestamp), time.UTC)
	if err != nil {
		return Transaction{}, fmt.Errorf("invalid timestamp %q: %w", timestamp, err)
	}
	return Transaction{Account: account, Amount: a, Timestamp: ts}, nil
}

// Params are the named statement parameters of t. The amount is passed as its exact
// decimal text so no database sees a binary float.
func Params(t Transaction) map[string]interface{} {
	return map[string]interface{}{
		"account":   t.Account,
		"amount":    t.Amount.String(),
		"timestamp": t.Timestamp,
	}
}

// Row is the parquet layout of a transaction.
type Row struct {
	Account   string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount    int64  `parquet:"name=amount, type=INT64, convertedtype=DECIMAL, scale=2, precision=18"`
	Timestamp int64  `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// ToRow converts a transaction to its parquet row.
func ToRow(t Transaction) Row {
	return Row{
		Account:   t.Account,
		Amount:    t.Amount.Cents(),
		Timestamp: t.Timestamp.UnixMilli(),
	}
}
