// Package dedupe suppresses duplicate envelope deliveries within a time window.
//
// Core pub/sub gives at-most-once delivery per subscription, but an agent can
// still see the same envelope twice (for example after a reconnect replays a
// buffered publish). The dispatch loop consults a Cache before invoking
// handlers so each envelope is handled once per TTL window.
package dedupe
