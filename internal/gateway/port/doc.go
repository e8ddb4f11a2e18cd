// Package port contains the gateway's HTTP entry points. Handlers
// translate requests into app layer calls and render failures through
// errmap; no business rules live here.
package port
