package main

import (
	"github.com/cuemby/golem-executor/pkg/hostabi"
)

// echoExports registers the one demo component this binary can run without
// a real component-model runtime: "echo" has a single "run" export that
// reads its self id through the host ABI and reflects its input back,
// prefixed with that worker id and ": ". A real deployment replaces this with exports
// extracted from each loaded .wasm component's export table (see
// DESIGN.md's pkg/hostabi note on the missing component-model runtime).
func echoExports() hostabi.Exports {
	return hostabi.Exports{
		"echo": {
			"run": func(h *hostabi.Host, input []byte) ([]byte, error) {
				self := h.GetSelf()
				out := append([]byte(self.WorkerID.String()+": "), input...)
				return out, nil
			},
		},
	}
}
