package faults

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "optout/pkg/domain-errors"
	"optout/pkg/platform/sentinel"
	"optout/pkg/requestcontext"
)

var faultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "optout_faults_total",
	Help: "Faults translated at service boundaries, labeled by service and kind",
}, []string{"service", "kind"})

// codeKinds maps business codes onto fault kinds. Codes missing here are service faults.
var codeKinds = map[dErrors.Code]Kind{
	dErrors.CodeInvalidInput:     KindValidation,
	dErrors.CodeBadRequest:       KindValidation,
	dErrors.CodeUnauthorized:     KindValidation,
	dErrors.CodeForbidden:        KindValidation,
	dErrors.CodeInvalidCaptcha:   KindValidation,
	dErrors.CodeValidCodeExists:  KindValidation,
	dErrors.CodeMaxRetryExceeded: KindValidation,
	dErrors.CodeCodeMismatch:     KindValidation,
	dErrors.CodeCodeExpired:      KindValidation,
	dErrors.CodeNotVerified:      KindValidation,
	dErrors.CodeNotFound:         KindValidation,
	dErrors.CodeConflict:         KindDependencyValidation,
	dErrors.CodeTimeout:          KindDependency,
	dErrors.CodeInternal:         KindService,
}

// sentinelMapping defines how an infrastructure sentinel maps to a fault kind.
type sentinelMapping struct {
	sentinel  error
	kind      Kind
	logReason string
}

// reasonCanceled marks work the caller walked away from; nothing downstream failed.
const reasonCanceled = "canceled"

// sentinelMappings are checked in order; first match wins.
var sentinelMappings = []sentinelMapping{
	{context.DeadlineExceeded, KindDependency, "deadline_exceeded"},
	{context.Canceled, KindDependency, reasonCanceled},
	{sentinel.ErrConflict, KindDependencyValidation, "conflict"},
	{sentinel.ErrRejected, KindDependencyValidation, "rejected"},
	{sentinel.ErrTimeout, KindDependency, "timeout"},
	{sentinel.ErrUnavailable, KindDependency, "unavailable"},
	{sentinel.ErrBadData, KindDependency, "bad_data"},
	{sentinel.ErrNotFound, KindDependency, "unexpected_not_found"},
}

// Translator converts errors returned by a service's internals into faults.
type Translator struct {
	service string
	logger  *slog.Logger
}

// NewTranslator creates a translator that tags faults and logs with the service name.
func NewTranslator(service string, logger *slog.Logger) *Translator {
	return &Translator{service: service, logger: logger}
}

// Translate wraps err in exactly one Fault and logs it. nil stays nil.
func (t *Translator) Translate(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	var existing *Fault
	if errors.As(err, &existing) {
		return err
	}

	kind, reason := classify(err)
	fault := &Fault{Kind: kind, Op: op, Err: err}
	t.log(ctx, fault, reason)
	if t.service != "" {
		faultsTotal.WithLabelValues(t.service, string(kind)).Inc()
	}
	return fault
}

func classify(err error) (Kind, string) {
	var de *dErrors.Error
	if errors.As(err, &de) {
		if kind, ok := codeKinds[de.Code]; ok {
			return kind, string(de.Code)
		}
		return KindService, string(de.Code)
	}

	var rejection Rejection
	if errors.As(err, &rejection) {
		if rejection.Rejected() {
			return KindDependencyValidation, "dependency_rejected"
		}
		return KindDependency, "dependency_failed"
	}

	for _, m := range sentinelMappings {
		if errors.Is(err, m.sentinel) {
			return m.kind, m.logReason
		}
	}
	return KindService, "unclassified"
}

func (t *Translator) log(ctx context.Context, f *Fault, reason string) {
	if t.logger == nil {
		return
	}
	level := slog.LevelError
	switch {
	case reason == reasonCanceled:
		level = slog.LevelWarn
	case f.Kind == KindDependency:
		level = LevelCritical
	}
	t.logger.Log(ctx, level, "request failed",
		"service", t.service,
		"op", f.Op,
		"kind", string(f.Kind),
		"reason", reason,
		"error", f.Err,
		"request_id", requestcontext.RequestID(ctx),
	)
}
