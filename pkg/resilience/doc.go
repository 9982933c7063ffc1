// Package resilience holds the two failure-handling primitives used at the
// edges of the doctor.
//
// A Retrier wraps escalation delivery. Validation and auth failures are final;
// anything else is retried with exponential backoff, stretched to a rate-limit
// hint when the error carries one:
//
//	r := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := r.Execute(ctx, func(ctx context.Context) error {
//		return deliver(ctx, message)
//	})
//
// A CircuitBreaker wraps the orchestration API. Once open it refuses calls
// until its cool-down ends, so the controller records a failed remediation
// quickly and the next failure event finds the incident where it left it.
package resilience
