/*
Package dispatch drains envoys submitted by the caller and answers them.

A Dispatcher runs a fixed pool of workers against an Endpoint (normally an
*envoy.Bridge). Each message goes through a Handler behind a circuit breaker;
a non-empty reply is posted back with Send and reaches the caller through
Retrieve. Handler panics are contained and counted as failures.
*/
package dispatch
