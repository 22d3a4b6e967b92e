/*
Package native is the process-wide library context behind the C exports.

The cgo layer in cmd/libdiplomacy converts pointers and calls into a single
*Library. Everything here speaks Go types and status codes so it can be tested
without cgo. Every entry point runs under a last-resort recover guard: no
panic crosses the boundary.
*/
package native
