/*
Package supervisor owns the lifecycle of one background process, the server under test.

Start launches the binary with its output captured rather than interleaved with the
harness's own output, then waits a settle delay because the server gives no readiness
signal. The delay is a heuristic only; callers should probe before trusting the server.

Stop escalates: a cooperative termination signal first, then a kill once the grace
period has passed. It is idempotent and safe to defer straight after a successful
Start, which is how the demo orchestrator guarantees the server never outlives a run.
*/
package supervisor
