// internal/ledgerview/balance.go
package ledgerview

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"memberdesk/internal/journal"
	"memberdesk/internal/log"
	"memberdesk/internal/notify"
)

// Operation is the direction of a manual balance adjustment.
type Operation string

const (
	Add      Operation = "add"
	Subtract Operation = "subtract"
)

// ParseOperation accepts "add" and "subtract" in any case.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(s))); op {
	case Add, Subtract:
		return op, nil
	}
	return "", invalid(ErrInvalidOperation, MsgInvalidOperation)
}

// ParseAmount reads an operator-typed amount. Empty, non-numeric and
// negative input is refused.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, invalid(ErrInvalidAmount, MsgInvalidAmount)
	}
	amount, err := decimal.NewFromString(s)
	if err != nil || amount.IsNegative() {
		return decimal.Zero, invalid(ErrInvalidAmount, MsgInvalidAmount)
	}
	return amount, nil
}

// AddBalance credits the wallet.
func (v *View) AddBalance(ctx context.Context, amount decimal.Decimal) (Result, error) {
	return v.AdjustBalance(ctx, Add, amount)
}

// SubtractBalance debits the wallet.
func (v *View) SubtractBalance(ctx context.Context, amount decimal.Decimal) (Result, error) {
	return v.AdjustBalance(ctx, Subtract, amount)
}

// AdjustBalance writes balance+amount or balance-amount to the Member API.
// The local balance changes only after the API accepts the new value.
func (v *View) AdjustBalance(ctx context.Context, op Operation, amount decimal.Decimal) (Result, error) {
	ctx, span := v.tracer.Start(ctx, "ledgerview.adjust_balance",
		trace.WithAttributes(
			attribute.Int64("member.id", v.memberID),
			attribute.String("operation", string(op)),
		))
	defer span.End()

	res, err := v.adjustBalance(ctx, op, amount)

	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	v.adjustments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", string(op)),
		attribute.String("outcome", string(res.Outcome)),
	))
	return res, err
}

func (v *View) adjustBalance(ctx context.Context, op Operation, amount decimal.Decimal) (Result, error) {
	if !v.gate.TryAcquire() {
		return Result{Outcome: OutcomeRefused, Message: MsgBusy}, ErrBusy
	}
	defer v.gate.Release()

	logger := v.logger.With(log.FieldOperation, log.OpAdjust, "direction", string(op))
	if err := v.syncStale(ctx); err != nil {
		return Result{Outcome: OutcomeFailed, Message: MsgLoadFailed}, err
	}
	balance, _, _ := v.current()

	refuse := func(verr *ValidationError) (Result, error) {
		v.publish(ctx, notify.Error(v.memberID, verr.Message))
		logger.InfoContext(ctx, "balance adjustment refused", log.FieldError, verr.Err)
		return Result{Outcome: OutcomeRefused, Message: verr.Message, Balance: balance}, verr
	}

	if amount.IsNegative() {
		return refuse(invalid(ErrInvalidAmount, MsgInvalidAmount))
	}

	var newBalance decimal.Decimal
	var success string
	switch op {
	case Add:
		newBalance, success = balance.Add(amount), MsgBalanceAdded
	case Subtract:
		newBalance, success = balance.Sub(amount), MsgBalanceDeducted
	default:
		return refuse(invalid(ErrInvalidOperation, MsgInvalidOperation))
	}
	if newBalance.IsNegative() {
		return refuse(invalid(ErrInsufficientBalance, MsgInsufficientForOperation))
	}

	entry := journal.Entry{
		Amount:        amount,
		BalanceBefore: balance,
		Detail:        string(op),
	}
	if err := v.api.UpdateBalance(ctx, v.memberID, newBalance); err != nil {
		logger.ErrorContext(ctx, "failed to update balance", log.FieldError, err)
		v.publish(ctx, notify.Error(v.memberID, MsgUpdateBalanceFailed))
		entry.Type = journal.BalanceAdjustFailed
		entry.BalanceAfter = balance
		entry.Detail = fmt.Sprintf("%s: %v", op, err)
		v.record(ctx, entry)
		return Result{Outcome: OutcomeFailed, Message: MsgUpdateBalanceFailed, Balance: balance},
			fmt.Errorf("update balance: %w", err)
	}
	v.setBalance(newBalance)

	logger.InfoContext(ctx, "balance updated", log.FieldAmount, amount.String(), log.FieldBalance, newBalance.String())
	v.publish(ctx, notify.Success(v.memberID, success))
	entry.Type = journal.BalanceAdjusted
	entry.BalanceAfter = newBalance
	v.record(ctx, entry)
	return Result{Outcome: OutcomeSucceeded, Message: success, Balance: newBalance}, nil
}
