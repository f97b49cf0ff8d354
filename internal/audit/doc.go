// Package audit implements async event dispatching for security-relevant
// engine operations. Reuse detections and revocations always produce an
// event when auditing is enabled; delivery is best-effort under
// backpressure when DropIfFull is set.
package audit
