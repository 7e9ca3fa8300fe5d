package session

import "context"

// event is a unit of work for the dispatcher.
type event interface {
	isEvent()
}

type visitEvent struct {
	ctx      context.Context
	dir      string
	consumer string
	reply    chan<- visitResult
}

type visitResult struct {
	snap *Snapshot
	err  error
}

type activityEvent struct {
	consumer string
}

// timerEvent is posted by an idle timer; gen identifies which arming fired.
type timerEvent struct {
	path string
	uuid string
	gen  uint64
}

type startDone struct {
	path string
	uuid string
	op   uint64
	err  error
}

type stopDone struct {
	path string
	uuid string
	op   uint64
	err  error
}

type snapshotEvent struct {
	reply chan<- []Snapshot
}

func (visitEvent) isEvent()    {}
func (activityEvent) isEvent() {}
func (timerEvent) isEvent()    {}
func (startDone) isEvent()     {}
func (stopDone) isEvent()      {}
func (snapshotEvent) isEvent() {}
