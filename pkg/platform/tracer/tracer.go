// Package tracer is a small tracing facade over OpenTelemetry.
//
// Adapters and services start spans through the Tracer interface so tests can run with
// NoopTracer and production wires OTelTracer against the global provider.
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Span is an active trace span. End must be called exactly once.
type Span interface {
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
//
//	ctx, span := t.Start(ctx, tracer.SpanLookupCall,
//	    tracer.String(tracer.AttrIdentifierHash, tracer.HashIdentifier(identifier)),
//	)
//	defer func() { span.End(err) }()
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration records milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashIdentifier returns a short SHA-256 prefix of a patient identifier so traces can be
// correlated without carrying the identifier itself.
func HashIdentifier(identifier string) string {
	if identifier == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:8])
}

const (
	SpanRecordPatientInformation = "verification.record_patient_information"
	SpanVerifyCode               = "verification.verify_code"
	SpanLookupCall               = "lookup.patient.call"
	SpanNotificationSend         = "notification.send"
	SpanRecordDecision           = "consent.record_decision"
)

const (
	AttrIdentifierHash = "patient.identifier_hash"
	AttrTrustLevel     = "caller.trust_level"
	AttrPath           = "verification.path"
	AttrChannel        = "notification.channel"
	AttrStatusCode     = "http.status_code"
	AttrBreakerState   = "breaker.state"
	AttrChoice         = "decision.choice"
)
