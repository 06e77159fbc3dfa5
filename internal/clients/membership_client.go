// internal/clients/membership_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"memberdesk/internal/log"
	"memberdesk/internal/membership"
)

const (
	xsrfCookie   = "XSRF-TOKEN"
	xsrfHeader   = "X-XSRF-TOKEN"
	requestIDHdr = "X-Request-ID"
)

// Options tunes the Member API client. Zero values pick defaults.
type Options struct {
	Timeout   time.Duration
	RateLimit rate.Limit
	Burst     int
	// Retries is the number of attempts for idempotent reads.
	Retries uint
	// Backoff is the first retry interval.
	Backoff   time.Duration
	Transport http.RoundTripper
	Logger    *log.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 20
	}
	if o.Burst < 1 {
		o.Burst = 10
	}
	if o.Retries < 1 {
		o.Retries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = log.Discard()
	}
	return o
}

// MembershipClient talks to the Laravel Member API with a cookie session
// and the XSRF double-submit token. One client holds one operator session.
type MembershipClient struct {
	baseURL *url.URL
	http    *http.Client
	jar     *sessionJar
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retries uint
	backoff time.Duration
	logger  *log.Logger
	tracer  trace.Tracer
}

var _ membership.Service = (*MembershipClient)(nil)

func NewMembershipClient(baseURL string, opts Options) (*MembershipClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse member API URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("member API URL %q must be absolute", baseURL)
	}
	opts = opts.withDefaults()

	jar, err := newSessionJar()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.WithComponent(log.ComponentClient)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "member-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var re *RemoteError
			if errors.As(err, &re) {
				return !re.Temporary()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &MembershipClient{
		baseURL: u,
		http: &http.Client{
			Jar:       jar,
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
		},
		jar:     jar,
		limiter: rate.NewLimiter(opts.RateLimit, opts.Burst),
		breaker: breaker,
		retries: opts.Retries,
		backoff: opts.Backoff,
		logger:  logger,
		tracer:  otel.Tracer("memberdesk/internal/clients"),
	}, nil
}

// Authenticate bootstraps the CSRF cookie and signs in.
func (c *MembershipClient) Authenticate(ctx context.Context, email, password string, remember bool) error {
	if err := c.refreshCSRF(ctx); err != nil {
		return err
	}
	body := map[string]any{"email": email, "password": password, "remember": remember}
	err := c.call(ctx, "login", http.MethodPost, "login", nil, body, nil)
	if errors.Is(err, ErrUnauthorized) {
		return fmt.Errorf("%w: %w", membership.ErrInvalidCredentials, err)
	}
	return err
}

// Logout ends the API session. Local cookies are cleared even when the
// call fails.
func (c *MembershipClient) Logout(ctx context.Context) error {
	defer c.jar.Reset()
	return c.call(ctx, "logout", http.MethodPost, "logout", nil, nil, nil)
}

func (c *MembershipClient) ListMembers(ctx context.Context, q membership.ListQuery) (*membership.Page, error) {
	var resp struct {
		Members membership.Page `json:"members"`
	}
	if err := c.call(ctx, "list members", http.MethodGet, "api/members", q.Values(), nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Members.Data {
		resp.Members.Data[i].FillDefaults()
	}
	return &resp.Members, nil
}

func (c *MembershipClient) CreateMember(ctx context.Context, m membership.NewMember) (*membership.Member, error) {
	var resp struct {
		Member membership.Member `json:"member"`
	}
	if err := c.call(ctx, "create member", http.MethodPost, "api/members/store", nil, m, &resp); err != nil {
		return nil, err
	}
	resp.Member.FillDefaults()
	return &resp.Member, nil
}

func (c *MembershipClient) DeleteMember(ctx context.Context, id int64) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	path := "api/member/delete/" + strconv.FormatInt(id, 10)
	if err := c.call(ctx, "delete member", http.MethodDelete, path, nil, nil, &resp); err != nil {
		return "", err
	}
	if resp.Message == "" {
		resp.Message = "Member deleted successfully"
	}
	return resp.Message, nil
}

func (c *MembershipClient) BulkDeleteMembers(ctx context.Context, ids []int64) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	body := map[string]any{"member_ids": ids}
	if err := c.call(ctx, "bulk delete members", http.MethodPost, "api/members/bulk-delete", nil, body, &resp); err != nil {
		return "", err
	}
	if resp.Message == "" {
		resp.Message = fmt.Sprintf("%d members deleted successfully", len(ids))
	}
	return resp.Message, nil
}

// GetMember loads a member with wallet and payment records.
func (c *MembershipClient) GetMember(ctx context.Context, id int64) (*membership.Member, error) {
	var resp struct {
		Member *membership.Member `json:"member"`
	}
	path := "api/member/" + strconv.FormatInt(id, 10)
	if err := c.call(ctx, "get member", http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Member == nil {
		return nil, &RemoteError{Op: "get member", StatusCode: http.StatusOK, Message: "response has no member", Err: ErrUnexpected}
	}
	resp.Member.FillDefaults()
	return resp.Member, nil
}

// CreatePayment posts a payment for the given date. The API names the
// amount "balance".
func (c *MembershipClient) CreatePayment(ctx context.Context, memberID int64, paymentDate membership.Date, amount decimal.Decimal) (*membership.PaymentRecord, error) {
	body := map[string]any{
		"member_id":    memberID,
		"payment_date": paymentDate.String(),
		"balance":      json.Number(amount.String()),
	}
	var record membership.PaymentRecord
	if err := c.call(ctx, "create payment", http.MethodPost, "api/payments", nil, body, &record); err != nil {
		return nil, err
	}
	if record.AmountDefaulted {
		record.Amount = amount
		record.AmountDefaulted = false
	}
	if record.MemberID == 0 {
		record.MemberID = memberID
	}
	if record.PaymentDate.IsZero() {
		record.PaymentDate = paymentDate
	}
	return &record, nil
}

// UpdateBalance overwrites the wallet balance.
func (c *MembershipClient) UpdateBalance(ctx context.Context, memberID int64, balance decimal.Decimal) error {
	body := map[string]any{"balance": json.Number(balance.String())}
	path := "api/wallet/update-balance/member/" + strconv.FormatInt(memberID, 10)
	return c.call(ctx, "update balance", http.MethodPut, path, nil, body, nil)
}

// call runs one API operation. Reads retry with exponential backoff;
// writes are attempted once, plus one replay after a CSRF refresh.
func (c *MembershipClient) call(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "member_api."+strings.ReplaceAll(op, " ", "_"),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		))
	defer span.End()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
	}
	requestID := uuid.NewString()

	attempt := func() (struct{}, error) {
		err := c.attempt(ctx, op, method, path, query, payload, requestID, out)
		var re *RemoteError
		if errors.As(err, &re) && !re.Temporary() {
			return struct{}{}, backoff.Permanent(err)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	var err error
	if method == http.MethodGet {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = c.backoff
		_, err = backoff.Retry(ctx, attempt,
			backoff.WithBackOff(policy),
			backoff.WithMaxTries(c.retries),
			backoff.WithNotify(func(err error, next time.Duration) {
				c.logger.DebugContext(ctx, "retrying member API read",
					log.FieldOperation, op, log.FieldError, err, "next", next)
			}),
		)
	} else {
		_, err = attempt()
		if errors.Is(err, ErrCSRFMismatch) {
			if err = c.refreshCSRF(ctx); err == nil {
				_, err = attempt()
			}
		}
	}
	err = unwrapPermanent(err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var re *RemoteError
		if errors.As(err, &re) {
			span.SetAttributes(attribute.Int("http.status_code", re.StatusCode))
		}
		return err
	}
	return nil
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}

func (c *MembershipClient) attempt(ctx context.Context, op, method, path string, query url.Values, payload []byte, requestID string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &RemoteError{Op: op, Err: err}
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, op, method, path, query, payload, requestID, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &RemoteError{Op: op, Message: "circuit open", Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
	return err
}

func (c *MembershipClient) roundTrip(ctx context.Context, op, method, path string, query url.Values, payload []byte, requestID string, out any) error {
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set(requestIDHdr, requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && method != http.MethodHead {
		if token := c.jar.Token(c.baseURL); token != "" {
			req.Header.Set(xsrfHeader, token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(op, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: "malformed response", Err: fmt.Errorf("%w: %w", ErrUnexpected, err)}
	}
	return nil
}

func decodeError(op string, status int, data []byte) error {
	var body struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	// Non-JSON error pages still produce a RemoteError with the status.
	_ = json.Unmarshal(data, &body)
	return &RemoteError{Op: op, StatusCode: status, Message: body.Message, Fields: body.Errors}
}

// refreshCSRF fetches a fresh XSRF-TOKEN cookie.
func (c *MembershipClient) refreshCSRF(ctx context.Context) error {
	err := c.attempt(ctx, "csrf cookie", http.MethodGet, "csrf-cookie", nil, nil, uuid.NewString(), nil)
	if err != nil {
		return err
	}
	if c.jar.Token(c.baseURL) == "" {
		return &RemoteError{Op: "csrf cookie", Message: "no XSRF-TOKEN cookie set", Err: ErrUnexpected}
	}
	return nil
}

// sessionJar is a cookie jar that can be emptied on sign-out.
type sessionJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newSessionJar() (*sessionJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &sessionJar{jar: jar}, nil
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.jar.SetCookies(u, cookies)
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// Token returns the decoded XSRF-TOKEN cookie for u.
func (j *sessionJar) Token(u *url.URL) string {
	for _, c := range j.Cookies(u) {
		if c.Name == xsrfCookie {
			if v, err := url.QueryUnescape(c.Value); err == nil {
				return v
			}
			return c.Value
		}
	}
	return ""
}

// Reset drops every cookie.
func (j *sessionJar) Reset() {
	jar, _ := cookiejar.New(nil)
	j.mu.Lock()
	j.jar = jar
	j.mu.Unlock()
}
