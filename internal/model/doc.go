// Package model defines the wire and in-memory shapes shared across the
// rule engine: rules, triggers, conditions, actions, facts, events, timers,
// groups, and rule version history.
//
// Values that carry arbitrary JSON (fact values, event payloads, action
// arguments) are plain Go values (string, float64, bool, nil,
// []any, map[string]any) as produced by encoding/json — there is no
// sealed value algebra here, unlike an IR meant for content-addressed
// hashing. Where a reproducible encoding is needed (the scenario
// harness's golden trace files), the canonicaljson package provides it
// on top of these plain values.
package model
