// rlm.go implements the `rlm` backend kind: a remote language-model
// runner contacted over its own wire protocol. Like the hosted SDKs
// (sdk.go), its internals are opaque to this core; this file
// owns only the adapter shape.
package dispatch

import (
	"context"

	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// RLMClient is implemented by the concrete rlm protocol adapter, wired in
// at startup via RegisterRLMClient.
type RLMClient interface {
	Run(ctx context.Context, params *RLMParams, cwd, prompt string, opts Options) (AgentResult, error)
}

var rlmClient RLMClient

// RegisterRLMClient wires the concrete rlm client used by runRLM.
func RegisterRLMClient(client RLMClient) {
	rlmClient = client
}

func runRLM(ctx context.Context, p *RLMParams, cwd, prompt string, opts Options) (AgentResult, error) {
	if p == nil {
		return AgentResult{}, wreckerr.New(wreckerr.KindConfig, "rlm backend invoked with nil params")
	}
	if opts.DryRun {
		return AgentResult{Success: true, Message: "dry run: rlm session not started"}, nil
	}
	if opts.Mock {
		return mockResult(prompt), nil
	}
	if rlmClient == nil {
		return AgentResult{}, wreckerr.New(wreckerr.KindConfig, "no rlm client registered")
	}
	return rlmClient.Run(ctx, p, cwd, prompt, opts)
}
