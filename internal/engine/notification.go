package engine

import (
	"github.com/hamicek/ruleengine/internal/model"
	"github.com/hamicek/ruleengine/internal/temporal"
)

// notificationKind distinguishes the engine's four internal
// notification shapes.
type notificationKind int

const (
	notifyEvent notificationKind = iota + 1
	notifyFactChanged
	notifyTimerFired
	notifyTemporalMatched
)

// notification wraps whichever payload the dispatch loop needs for one
// queue entry. depth is the causation chain's length so far, used by
// the causation-depth guard; a notification produced by external
// ingress starts at depth 0.
type notification struct {
	kind  notificationKind
	depth int

	event      *model.Event
	factChange *model.FactChange
	timer      *model.Timer
	temporal   *temporal.Match
}
