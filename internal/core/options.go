package core

// DefaultDeposit is the collateral reserved per kitty when none is configured.
const DefaultDeposit Balance = 10_000

// Option configures a Service.
type Option func(*Service)

// WithDeposit sets the fixed collateral reserved for every created or bred kitty.
func WithDeposit(amount Balance) Option {
	return func(s *Service) {
		s.deposit = amount
	}
}

// WithLogger sets the service logger. A nil logger keeps the no-op default.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder sets the recorder observing every operation.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer wrapping every operation in a span.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the recorder receiving audit entries.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithClock sets the clock used for audit timestamps.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithEventSink adds a sink notified after each commit. Sinks run in
// registration order on the calling goroutine.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}
