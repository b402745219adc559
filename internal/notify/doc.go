// Package notify delivers run lifecycle events to external sinks: the
// structured log, GitHub commit statuses, and a socket.io event stream.
//
// Notifiers are advisory. A sink that cannot be reached must not fail
// the build, so the engine logs delivery errors and carries on.
package notify
