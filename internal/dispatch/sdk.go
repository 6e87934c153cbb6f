// sdk.go implements the claude_sdk/codex_sdk/amp_sdk/opencode_sdk backend
// kinds. The hosted SDK session itself is opaque to this core; this file
// owns only the adapter shape, turning an AgentConfig+prompt into events
// and a terminal AgentResult through whichever vendor client is wired in
// at runtime.
package dispatch

import (
	"context"

	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// SDKClient is implemented by a concrete vendor adapter (one per
// BackendKind in {claude_sdk, codex_sdk, amp_sdk, opencode_sdk}).
// Production wiring supplies one via RegisterSDKClient; tests substitute a
// fake. Kept as an interface so the dispatch package itself never imports
// a vendor SDK module directly.
type SDKClient interface {
	Run(ctx context.Context, params *SDKParams, cwd, prompt string, opts Options) (AgentResult, error)
}

var sdkClients = map[BackendKind]SDKClient{}

// RegisterSDKClient wires a concrete vendor client for kind. Called once
// from cmd/wreckit's startup wiring per configured backend.
func RegisterSDKClient(kind BackendKind, client SDKClient) {
	sdkClients[kind] = client
}

func runSDK(ctx context.Context, kind BackendKind, p *SDKParams, cwd, prompt string, opts Options) (AgentResult, error) {
	if p == nil {
		return AgentResult{}, wreckerr.New(wreckerr.KindConfig, "sdk backend invoked with nil params")
	}
	if opts.DryRun {
		return AgentResult{Success: true, Message: "dry run: sdk session not started"}, nil
	}
	if opts.Mock {
		return mockResult(prompt), nil
	}
	client, ok := sdkClients[kind]
	if !ok {
		return AgentResult{}, wreckerr.WithSub(wreckerr.KindConfig, wreckerr.SubUnknownBackend,
			"no sdk client registered for backend kind "+string(kind), nil)
	}
	return client.Run(ctx, p, cwd, prompt, opts)
}
