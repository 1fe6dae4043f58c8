// Package orchestrator turns a user command into an execution session and
// drives its workflow phase by phase.
//
// Execute classifies the command into an intent, loads the user's execution
// context, instantiates the workflow template for that intent and spawns the
// phase loop on its own goroutine. Phases run strictly in template order.
// A failed phase marked critical aborts the session; any other failure is
// recorded and the loop moves on. In conversational mode a phase that
// requires approval parks the session after it completes until Approve is
// called.
//
// Progress is reported as events on an events.Bus and, when a Store is
// configured, persisted alongside the session row. Persistence failures are
// logged and never stop a session.
package orchestrator
