// Package engine provides the control primitives of the fabric upgrade workflow.
//
// # Outcomes
//
// Every remote check resolves to one of three outcomes:
//
//   - Success: the awaited condition holds
//   - Pending: no error, but the condition is not met yet
//   - Failure: the condition will not resolve without intervention
//
// Remote errors never produce Failure directly. They are returned alongside
// the outcome and classified (transient, auth, permanent) so the retry loop
// can decide whether to log in again or simply wait.
//
// # Retry Loop
//
// RetryLoop evaluates an Operation until it succeeds, fails, or its deadline
// passes. It owns the controller session: sessions are acquired on demand,
// replaced once they expire and dropped after an authentication error.
//
//	acquirer := engine.NewSessionAcquirer(client, cfg.LoginInterval)
//	loop := engine.NewRetryLoop(acquirer, cfg.RetryInterval)
//
//	outcome := loop.Run(ctx, "firmware download", time.Hour, func(ctx context.Context, s engine.Session) (engine.Outcome, error) {
//	    ...
//	})
//
// # Pipeline
//
// Pipeline runs stages strictly in order and stops at the first stage that
// does not succeed, returning a *GatingError that names it. With WithHardGate
// the process exits instead.
//
// # Check Registry
//
// CheckRegistry holds ordered, named predicates (health checks, snapshot
// comparisons) and evaluates them with short-circuit semantics. RunAll is an
// Operation itself and is normally driven by a RetryLoop.
package engine
