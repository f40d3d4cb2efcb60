// Package queue holds pending synthesis requests and decides which one is
// downloaded next. Ordered is the default policy; any Sequencer can be
// passed to the scheduler.
package queue
