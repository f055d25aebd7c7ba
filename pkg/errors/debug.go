package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump flattens an error chain for structured logs. Postgres fields are
// filled from whichever driver error sits in the chain.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Retryable  bool     `json:"retryable,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error(), Retryable: Retryable(err)}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PGCode = pgxErr.Code
		d.PGConstraint = pgxErr.ConstraintName
		d.PGTable = pgxErr.TableName
		d.PGDetail = pgxErr.Detail
	case errors.As(err, &pqErr):
		d.PGCode = string(pqErr.Code)
		d.PGConstraint = pqErr.Constraint
		d.PGTable = pqErr.Table
		d.PGDetail = pqErr.Detail
	}
	return d
}

// Fields returns the dump as log fields, leaving out empty driver details.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error_code":  d.Code,
		"error_chain": d.Chain,
	}
	if d.Retryable {
		fields["retryable"] = true
	}
	if d.PGCode != "" {
		fields["pg_code"] = d.PGCode
		fields["pg_constraint"] = d.PGConstraint
		fields["pg_table"] = d.PGTable
		fields["pg_detail"] = d.PGDetail
	}
	return fields
}
