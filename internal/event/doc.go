// Package event provides an in-process pub-sub bus and the event types
// relay publishes on it.
//
// The orchestrator publishes session lifecycle events (started, state
// changes, replans, worker start/finish, completed) and the progress emitter
// republishes every progress snapshot as a [ProgressEvent]. The CLI and the
// server subscribe to render or forward them.
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeWorkerFinished, func(e event.Event) {
//	    wf := e.(event.WorkerFinishedEvent)
//	    fmt.Println(wf.WorkerID, wf.Success)
//	})
//
// Publish is synchronous; handlers should return quickly. A panicking
// handler is recovered and logged without affecting other handlers.
package event
