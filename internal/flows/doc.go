// Package flows contains pure-function orchestrators for the token service.
//
// Each flow function (RunRefresh, RunLogout, RunLogoutAll) accepts a typed
// dependency struct and returns results without side effects beyond those
// dependencies, so every branch can be driven by fakes in tests.
//
// # Architecture boundaries
//
// Flow functions coordinate the signer and the refresh store. Metrics, audit
// and error mapping stay with the Service.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import tokengate.
//   - Perform I/O directly; all I/O is mediated through dependency interfaces.
package flows
