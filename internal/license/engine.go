package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"licgate/internal/domaincheck"
	"licgate/internal/integrity"
	"licgate/internal/ratelimit"
	"licgate/internal/reputation"
	"licgate/internal/store"
	"licgate/pkg/contracts/domain"
)

// Store is the persistence contract the engine depends on. The Redis
// implementation lives in internal/store.
type Store interface {
	FindLicenseByKey(ctx context.Context, key string) (*domain.License, error)
	FindClientByEmail(ctx context.Context, email string) (*domain.Client, error)
	UpdateLicenseStatus(ctx context.Context, licenseKey string, status domain.LicenseStatus) (domain.LicenseStatus, error)
	TouchLicense(ctx context.Context, licenseKey string, at time.Time) error
	CreateTamperEvent(ctx context.Context, ev *domain.TamperEvent) error
	IncrementClientTamperCount(ctx context.Context, email string) (int64, error)
}

// IPGuard is the reputation contract.
type IPGuard interface {
	CheckStatus(ctx context.Context, ip string) (reputation.Verdict, error)
	RegisterSuspiciousAttempt(ctx context.Context, ip, reason string) error
}

// Notifier dispatches alerts. Fire-and-forget: failures are logged,
// never surfaced to the caller.
type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// ActivityLogger appends audit trail entries.
type ActivityLogger interface {
	LogActivity(ctx context.Context, act domain.Activity) error
}

// Options configures engine construction.
type Options struct {
	Store          Store
	Guard          IPGuard
	Limiter        ratelimit.Limiter
	Integrity      *integrity.Checker
	Notifier       Notifier
	Activity       ActivityLogger
	Signer         Signer
	Tokens         *TokenIssuer
	Metrics        *Metrics
	Tracer         trace.Tracer
	Logger         *slog.Logger
	KillThreshold  int
	NotifyTimeout  time.Duration
	Now            func() time.Time
}

// Engine is the lockdown state machine orchestrating every defensive
// layer of a validation call.
type Engine struct {
	store         Store
	guard         IPGuard
	limiter       ratelimit.Limiter
	integrity     *integrity.Checker
	notifier      Notifier
	activity      ActivityLogger
	signer        Signer
	tokens        *TokenIssuer
	metrics       *Metrics
	tracer        trace.Tracer
	logger        *slog.Logger
	killThreshold int
	notifyTimeout time.Duration
	now           func() time.Time

	inflight sync.WaitGroup
}

// Outcome is the verdict of one validation call, carrying everything
// the transport layer needs to answer.
type Outcome struct {
	HTTPStatus int
	Response   domain.ValidateResponse
	RateLimit  *ratelimit.Decision
}

var (
	validate   = validator.New()
	keyPattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)
)

// NewEngine wires the engine from explicitly injected collaborators.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		store:         opts.Store,
		guard:         opts.Guard,
		limiter:       opts.Limiter,
		integrity:     opts.Integrity,
		notifier:      opts.Notifier,
		activity:      opts.Activity,
		signer:        opts.Signer,
		tokens:        opts.Tokens,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
		logger:        opts.Logger,
		killThreshold: opts.KillThreshold,
		notifyTimeout: opts.NotifyTimeout,
		now:           opts.Now,
	}
	if e.integrity == nil {
		e.integrity = &integrity.Checker{}
	}
	if e.tracer == nil {
		e.tracer = tracenoop.NewTracerProvider().Tracer("license-engine")
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.killThreshold <= 0 {
		e.killThreshold = 3
	}
	if e.notifyTimeout <= 0 {
		e.notifyTimeout = 5 * time.Second
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Validate runs a single validation call. callerIP is the resolved
// source address; origin is the caller's explicit origin assertion
// (Origin or equivalent referring header), empty when absent.
//
// The checks run fail-fast, cheapest and most dangerous first; every
// security transition is persisted before the outcome is returned.
func (e *Engine) Validate(ctx context.Context, req domain.ValidateRequest, callerIP, origin string) Outcome {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "license_engine.validate",
		trace.WithAttributes(
			attribute.String("caller.ip", callerIP),
			attribute.Bool("request.tamper_signal", req.Tamper),
		),
	)
	defer span.End()

	e.count(ctx, e.metricAttempts())
	out := e.evaluate(ctx, req, callerIP, origin)

	span.SetAttributes(
		attribute.Int("http.status_code", out.HTTPStatus),
		attribute.Bool("license.valid", out.Response.Valid),
	)
	if e.metrics != nil {
		e.metrics.ValidationDuration.Record(ctx, e.now().Sub(start).Seconds())
		if out.Response.Valid {
			e.metrics.ValidationSuccess.Add(ctx, 1)
		} else {
			e.metrics.ValidationFailures.Add(ctx, 1)
		}
	}
	return out
}

func (e *Engine) evaluate(ctx context.Context, req domain.ValidateRequest, callerIP, origin string) Outcome {
	now := e.now().UTC()

	// 1. IP reputation: blocked sources are refused before anything
	// else, with no state mutation.
	verdict, err := e.guard.CheckStatus(ctx, callerIP)
	if err != nil {
		return e.internalError(ctx, "reputation check failed", err)
	}
	if verdict.Blocked {
		e.count(ctx, e.metricBlocked())
		e.logger.WarnContext(ctx, "request from blocked ip rejected",
			slog.String("ip", callerIP),
			slog.String("reason", verdict.Reason),
		)
		return Outcome{
			HTTPStatus: http.StatusForbidden,
			Response:   domain.ValidateResponse{Valid: false, Reason: "IP address blocked"},
		}
	}

	// 2. Per-source abuse window. Denial is an HTTP-level throttle
	// only; it never touches license state.
	decision := e.limiter.Check(callerIP)
	if !decision.Allowed {
		e.count(ctx, e.metricRateLimit())
		return Outcome{
			HTTPStatus: http.StatusTooManyRequests,
			Response:   domain.ValidateResponse{Valid: false, Reason: "Rate limit exceeded"},
			RateLimit:  &decision,
		}
	}

	// 3. Explicit tamper signal from a client-side detector. Evaluated
	// before normal field validation and lookup: the report itself is
	// the evidence.
	if req.Tamper {
		return e.handleTamperSignal(ctx, req, callerIP)
	}

	// 4. Required fields, including the origin assertion. No declared
	// origin is invalid input, never an implicit trust case.
	if origin == "" {
		return Outcome{
			HTTPStatus: http.StatusBadRequest,
			Response:   domain.ValidateResponse{Valid: false, Reason: "Missing origin header"},
		}
	}
	if err := validate.Struct(req); err != nil {
		return Outcome{
			HTTPStatus: http.StatusBadRequest,
			Response:   domain.ValidateResponse{Valid: false, Reason: "Missing required fields"},
		}
	}

	// 5. License lookup. Unknown keys get a soft rejection over HTTP
	// 200 so transport status alone cannot distinguish a probe hit
	// from a miss, and each probe counts toward the source's ban.
	if !keyPattern.MatchString(strings.ToUpper(req.LicenseKey)) {
		return e.rejectUnknownKey(ctx, callerIP)
	}
	lic, err := e.store.FindLicenseByKey(ctx, req.LicenseKey)
	if errors.Is(err, store.ErrNotFound) {
		return e.rejectUnknownKey(ctx, callerIP)
	}
	if err != nil {
		return e.internalError(ctx, "license lookup failed", err)
	}

	// 6. Terminal check. Overrides everything that follows: a license
	// already locked down, or owned by a killed client, reports
	// TERMINATED regardless of any other field's correctness.
	terminated, out := e.checkTerminal(ctx, lic)
	if terminated {
		return out
	}

	// 7. Domain lock.
	if !domaincheck.Validate(origin, lic.Domain, lic.StagingDomain, lic.EditModeExpiry, now) {
		return e.handleCloneAttempt(ctx, lic, callerIP, origin)
	}

	// 8. Soft status: a non-ACTIVE, non-terminal license (SUSPENDED)
	// is an ordinary policy rejection, not a security one.
	if lic.Status != domain.StatusActive {
		return Outcome{
			HTTPStatus: http.StatusOK,
			Response: domain.ValidateResponse{
				Valid:  false,
				Status: string(lic.Status),
				Reason: "License is " + strings.ToLower(string(lic.Status)),
			},
		}
	}

	// 9. Validity window.
	if now.Before(lic.ValidFrom) {
		return Outcome{
			HTTPStatus: http.StatusOK,
			Response:   domain.ValidateResponse{Valid: false, Reason: "License not yet valid"},
		}
	}
	if now.After(lic.ExpiresAt) {
		return Outcome{
			HTTPStatus: http.StatusOK,
			Response:   domain.ValidateResponse{Valid: false, Reason: "License expired"},
		}
	}

	// 10. Liveness bookkeeping.
	if err := e.store.TouchLicense(ctx, lic.LicenseKey, now); err != nil {
		return e.internalError(ctx, "license touch failed", err)
	}

	// 11. Integrity comparison, honoring the edit-mode window.
	result := e.integrity.Validate(req.FileHash, lic.CleanSnapshot, lic.EditModeActive(now))
	if !result.Valid {
		return e.handleIntegrityFailure(ctx, lic, callerIP, result)
	}

	// 12. Success.
	payload, err := e.signer.Sign(lic.ID, lic.Domain)
	if err != nil {
		return e.internalError(ctx, "payload signing failed", err)
	}
	return Outcome{
		HTTPStatus: http.StatusOK,
		Response: domain.ValidateResponse{
			Valid:          true,
			Status:         string(lic.Status),
			Payload:        payload,
			HeartbeatToken: e.tokens.Issue(lic.ID, now),
		},
	}
}

func (e *Engine) rejectUnknownKey(ctx context.Context, callerIP string) Outcome {
	e.count(ctx, e.metricInvalidKey())
	if err := e.guard.RegisterSuspiciousAttempt(ctx, callerIP, "invalid license key"); err != nil {
		e.logger.ErrorContext(ctx, "failed to register suspicious attempt",
			slog.String("ip", callerIP),
			slog.String("error", err.Error()),
		)
	}
	return Outcome{
		HTTPStatus: http.StatusOK,
		Response:   domain.ValidateResponse{Valid: false, Reason: "Invalid license key"},
	}
}

func (e *Engine) checkTerminal(ctx context.Context, lic *domain.License) (bool, Outcome) {
	killed := lic.Status == domain.StatusTerminated || lic.Status == domain.StatusTampered
	if !killed && lic.ClientEmail != "" {
		client, err := e.store.FindClientByEmail(ctx, lic.ClientEmail)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return true, e.internalError(ctx, "client lookup failed", err)
		}
		if client != nil && client.TamperCount >= e.killThreshold {
			killed = true
		}
	}
	if !killed {
		return false, Outcome{}
	}
	return true, Outcome{
		HTTPStatus: http.StatusForbidden,
		Response: domain.ValidateResponse{
			Valid:  false,
			Status: string(domain.StatusTerminated),
			Reason: "License terminated",
		},
	}
}

func (e *Engine) handleTamperSignal(ctx context.Context, req domain.ValidateRequest, callerIP string) Outcome {
	resp := domain.ValidateResponse{Valid: false, Reason: "Tampering detected"}

	if req.LicenseKey != "" {
		lic, err := e.store.FindLicenseByKey(ctx, req.LicenseKey)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Nothing to lock down; the rejection stands on its own.
		case err != nil:
			return e.internalError(ctx, "license lookup failed", err)
		default:
			if out, ok := e.lockDown(ctx, lic, callerIP, domain.StatusTampered, &domain.TamperEvent{
				LicenseID:   lic.ID,
				IPAddress:   callerIP,
				Severity:    domain.SeverityCritical,
				Description: "client-side tamper signal reported",
			}); !ok {
				return out
			}
			e.count(ctx, e.metricTamper())
			resp.Status = string(domain.StatusTampered)
		}
	}

	return Outcome{HTTPStatus: http.StatusForbidden, Response: resp}
}

func (e *Engine) handleCloneAttempt(ctx context.Context, lic *domain.License, callerIP, origin string) Outcome {
	if _, err := e.store.UpdateLicenseStatus(ctx, lic.LicenseKey, domain.StatusAttemptedCloning); err != nil {
		return e.internalError(ctx, "status update failed", err)
	}
	e.count(ctx, e.metricClone())

	e.logActivity(ctx, domain.Activity{
		Subject:  "license:" + lic.ID,
		Severity: "critical",
		Action:   "domain_mismatch",
		Message:  fmt.Sprintf("validation from unauthorized origin %q for domain %q", origin, lic.Domain),
	})
	e.dispatch(lic, fmt.Sprintf("cloning attempt on license %s: origin %q does not match %q", lic.LicenseKey, origin, lic.Domain))

	return Outcome{
		HTTPStatus: http.StatusForbidden,
		Response: domain.ValidateResponse{
			Valid:  false,
			Status: string(domain.StatusAttemptedCloning),
			Reason: "Domain not authorized",
		},
	}
}

func (e *Engine) handleIntegrityFailure(ctx context.Context, lic *domain.License, callerIP string, result integrity.Result) Outcome {
	if out, ok := e.lockDown(ctx, lic, callerIP, domain.StatusTampered, &domain.TamperEvent{
		LicenseID:   lic.ID,
		IPAddress:   callerIP,
		Severity:    domain.SeverityCritical,
		OldHash:     result.Expected,
		NewHash:     result.Actual,
		Description: result.Reason,
	}); !ok {
		return out
	}
	e.count(ctx, e.metricTamper())

	return Outcome{
		HTTPStatus: http.StatusForbidden,
		Response: domain.ValidateResponse{
			Valid:  false,
			Status: string(domain.StatusTampered),
			Reason: "Integrity check failed",
		},
	}
}

// lockDown persists a security transition and its evidentiary record
// before any response leaves the engine. Returns ok=false with an
// internal-error outcome when persistence failed.
func (e *Engine) lockDown(ctx context.Context, lic *domain.License, callerIP string, status domain.LicenseStatus, ev *domain.TamperEvent) (Outcome, bool) {
	if _, err := e.store.UpdateLicenseStatus(ctx, lic.LicenseKey, status); err != nil {
		return e.internalError(ctx, "status update failed", err), false
	}
	if err := e.store.CreateTamperEvent(ctx, ev); err != nil {
		return e.internalError(ctx, "tamper event append failed", err), false
	}
	if lic.ClientEmail != "" {
		if _, err := e.store.IncrementClientTamperCount(ctx, lic.ClientEmail); err != nil {
			e.logger.ErrorContext(ctx, "tamper count increment failed",
				slog.String("client", lic.ClientEmail),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logActivity(ctx, domain.Activity{
		Subject:  "license:" + lic.ID,
		Severity: ev.Severity,
		Action:   "lockdown",
		Message:  ev.Description,
	})
	e.dispatch(lic, fmt.Sprintf("license %s locked down (%s): %s from %s", lic.LicenseKey, status, ev.Description, callerIP))

	return Outcome{}, true
}

// dispatch sends a notification without making the caller wait on the
// outbound alerting path.
func (e *Engine) dispatch(lic *domain.License, message string) {
	if e.notifier == nil {
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, "security", message); err != nil {
			e.logger.Error("notification dispatch failed",
				slog.String("license_key", lic.LicenseKey),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Flush waits for in-flight notification dispatches. Called on
// shutdown and by tests.
func (e *Engine) Flush() {
	e.inflight.Wait()
}

func (e *Engine) logActivity(ctx context.Context, act domain.Activity) {
	if e.activity == nil {
		return
	}
	if err := e.activity.LogActivity(ctx, act); err != nil {
		e.logger.ErrorContext(ctx, "activity log append failed",
			slog.String("action", act.Action),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) internalError(ctx context.Context, msg string, err error) Outcome {
	e.logger.ErrorContext(ctx, msg, slog.String("error", err.Error()))
	return Outcome{
		HTTPStatus: http.StatusInternalServerError,
		Response:   domain.ValidateResponse{Valid: false, Reason: "Internal error"},
	}
}

func (e *Engine) count(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}

func (e *Engine) metricAttempts() metric.Int64Counter {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.ValidationAttempts
}

func (e *Engine) metricBlocked() metric.Int64Counter {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.BlockedRequests
}

func (e *Engine) metricRateLimit() metric.Int64Counter {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.RateLimitHits
}

func (e *Engine) metricInvalidKey() metric.Int64Counter {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.InvalidKeyAttempts
}

func (e *Engine) metricTamper() metric.Int64Counter {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.TamperEvents
}

func (e *Engine) metricClone() metric.Int64Counter {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.CloneAttempts
}
