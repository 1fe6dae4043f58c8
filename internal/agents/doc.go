// Package agents provides the concrete phase executors registered with the
// orchestrator.
//
// Most executors are prompt agents: they turn the phase input and the
// execution context into a prompt, generate text, and return it as an
// artifact. The concept, budget and archive agents produce structured
// output that the exhibition coordinator threads between them.
package agents
