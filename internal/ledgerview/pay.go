// internal/ledgerview/pay.go
package ledgerview

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"memberdesk/internal/journal"
	"memberdesk/internal/ledger"
	"memberdesk/internal/log"
	"memberdesk/internal/membership"
	"memberdesk/internal/notify"
)

// Outcome classifies how a balance-affecting operation ended.
type Outcome string

const (
	// OutcomeRefused: nothing was sent to the Member API.
	OutcomeRefused Outcome = "refused"
	// OutcomeFailed: the first call failed and nothing changed.
	OutcomeFailed Outcome = "failed"
	// OutcomePartialSuccess: the payment record exists but the balance was
	// not updated.
	OutcomePartialSuccess Outcome = "partial_success"
	OutcomeSucceeded      Outcome = "succeeded"
)

// Result describes a finished operation. Balance is the locally known
// balance afterwards.
type Result struct {
	Outcome  Outcome                   `json:"outcome"`
	Message  string                    `json:"message"`
	MonthKey string                    `json:"month_key,omitempty"`
	Record   *membership.PaymentRecord `json:"record,omitempty"`
	Balance  decimal.Decimal           `json:"balance"`
}

// PayMonth pays one month of the current year from the wallet: it creates
// the payment record and then writes the reduced balance. The two calls are
// not atomic. When the second fails the record is kept, the balance stays as
// it was, and the error wraps ErrPartialPayment; Refresh reconciles. Once the
// record is created, cancelling ctx no longer stops the balance write.
func (v *View) PayMonth(ctx context.Context, monthKey string) (Result, error) {
	ctx, span := v.tracer.Start(ctx, "ledgerview.pay_month",
		trace.WithAttributes(
			attribute.Int64("member.id", v.memberID),
			attribute.String("month.key", monthKey),
		))
	defer span.End()

	res, err := v.payMonth(ctx, monthKey)

	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	v.payments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))
	return res, err
}

func (v *View) payMonth(ctx context.Context, monthKey string) (Result, error) {
	if !v.gate.TryAcquire() {
		return Result{Outcome: OutcomeRefused, Message: MsgBusy, MonthKey: monthKey}, ErrBusy
	}
	defer v.gate.Release()

	v.setProcessing(monthKey)
	defer v.setProcessing("")

	logger := v.logger.With(log.FieldOperation, log.OpPayMonth, log.FieldMonthKey, monthKey)
	if err := v.syncStale(ctx); err != nil {
		return Result{Outcome: OutcomeFailed, Message: MsgLoadFailed, MonthKey: monthKey}, err
	}
	balance, rate, paids := v.current()

	refuse := func(verr *ValidationError, notifyOperator bool) (Result, error) {
		if notifyOperator {
			v.publish(ctx, notify.Error(v.memberID, verr.Message))
		}
		logger.InfoContext(ctx, "payment refused", log.FieldError, verr.Err)
		return Result{Outcome: OutcomeRefused, Message: verr.Message, MonthKey: monthKey, Balance: balance}, verr
	}

	year, index, err := ledger.ParseMonthKey(monthKey)
	if err != nil {
		return refuse(invalid(fmt.Errorf("%w: %w", ErrInvalidMonth, err), MsgInvalidMonth), false)
	}
	now := v.now()
	if year != now.Year() {
		return refuse(invalid(ErrInvalidMonth, MsgInvalidMonth), false)
	}

	status := ledger.DeriveMonthStatuses(paids, year, int(now.Month())-1)[index]
	switch {
	case status.IsFuture:
		return refuse(invalid(ErrFutureMonth, MsgFutureMonth), false)
	case status.IsPaid:
		return refuse(invalid(ErrAlreadyPaid, MsgAlreadyPaid), false)
	case balance.LessThan(rate):
		return refuse(invalid(ErrInsufficientBalance, MsgInsufficientForMonth), true)
	}

	record, err := v.api.CreatePayment(ctx, v.memberID, ledger.PaymentDate(year, index), rate)
	if err != nil {
		logger.ErrorContext(ctx, "failed to create payment", log.FieldError, err)
		v.publish(ctx, notify.Error(v.memberID, MsgCreatePaymentFailed))
		v.record(ctx, journal.Entry{
			Type:          journal.PaymentFailed,
			MonthKey:      monthKey,
			Amount:        rate,
			BalanceBefore: balance,
			BalanceAfter:  balance,
			Detail:        err.Error(),
		})
		return Result{Outcome: OutcomeFailed, Message: MsgCreatePaymentFailed, MonthKey: monthKey, Balance: balance},
			fmt.Errorf("create payment for %s: %w", monthKey, err)
	}
	v.appendRecord(*record)

	// The record exists; the balance write must follow it even if the caller
	// has gone away. The client's own timeout still bounds it.
	ctx = context.WithoutCancel(ctx)
	newBalance := balance.Sub(rate)
	if err := v.api.UpdateBalance(ctx, v.memberID, newBalance); err != nil {
		logger.ErrorContext(ctx, "payment recorded but balance update failed",
			log.FieldError, err, "payment_id", record.ID, log.FieldBalance, balance.String())
		v.publish(ctx, notify.Error(v.memberID, MsgUpdateBalanceFailed))
		v.record(ctx, journal.Entry{
			Type:          journal.PaymentPartiallyApplied,
			MonthKey:      monthKey,
			Amount:        rate,
			BalanceBefore: balance,
			BalanceAfter:  balance,
			PaymentID:     record.ID,
			Detail:        err.Error(),
		})
		return Result{Outcome: OutcomePartialSuccess, Message: MsgUpdateBalanceFailed, MonthKey: monthKey, Record: record, Balance: balance},
			fmt.Errorf("%w: %w", ErrPartialPayment, err)
	}
	v.setBalance(newBalance)

	msg := paymentSucceeded(status.Label)
	logger.InfoContext(ctx, "payment processed", log.FieldAmount, rate.String(), log.FieldBalance, newBalance.String())
	v.publish(ctx, notify.Success(v.memberID, msg))
	v.record(ctx, journal.Entry{
		Type:          journal.PaymentApplied,
		MonthKey:      monthKey,
		Amount:        rate,
		BalanceBefore: balance,
		BalanceAfter:  newBalance,
		PaymentID:     record.ID,
	})
	return Result{Outcome: OutcomeSucceeded, Message: msg, MonthKey: monthKey, Record: record, Balance: newBalance}, nil
}
