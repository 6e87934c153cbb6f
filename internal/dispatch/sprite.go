// sprite.go implements the `sprite` backend kind: wraps another backend
// inside an ephemeral VM provisioned by internal/sandbox, guaranteeing the
// VM is destroyed on every exit path. dispatch never imports internal/sandbox directly (that
// would invert the dependency the wrong way); instead it depends on the
// small VMProvisioner interface below, which internal/sandbox satisfies
// and cmd/wreckit wires in at startup.
package dispatch

import (
	"context"
	"fmt"

	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// VM is the handle sprite.go needs from whatever provisioned the sandbox.
type VM struct {
	ID      string
	WorkDir string // the working directory inside the VM
}

// VMProvisioner provisions and tears down ephemeral sandbox VMs. Satisfied
// by internal/sandbox.Manager.
type VMProvisioner interface {
	Provision(ctx context.Context, namePrefix, itemID, hostCwd string) (*VM, error)
	SyncTo(ctx context.Context, vm *VM, hostCwd string) error
	SyncFrom(ctx context.Context, vm *VM, hostCwd string) error
	Destroy(ctx context.Context, vm *VM) error
}

var vmProvisioner VMProvisioner

// RegisterVMProvisioner wires the concrete sandbox manager used by
// runSprite.
func RegisterVMProvisioner(p VMProvisioner) {
	vmProvisioner = p
}

func runSprite(ctx context.Context, p *SpriteParams, cwd, prompt string, opts Options) (AgentResult, error) {
	if p == nil || p.Inner == nil {
		return AgentResult{}, wreckerr.New(wreckerr.KindConfig, "sprite backend invoked with nil params or inner config")
	}
	if opts.DryRun {
		return AgentResult{Success: true, Message: "dry run: sandbox vm not provisioned"}, nil
	}
	if opts.Mock {
		return mockResult(prompt), nil
	}
	if vmProvisioner == nil {
		return AgentResult{}, wreckerr.New(wreckerr.KindConfig, "no vm provisioner registered for sprite backend")
	}

	vm, err := vmProvisioner.Provision(ctx, p.VMNamePrefix, opts.ItemID, cwd)
	if err != nil {
		return AgentResult{}, wreckerr.Wrap(wreckerr.KindAgent, "failed to provision sandbox vm", err)
	}
	defer func() {
		if destroyErr := vmProvisioner.Destroy(context.Background(), vm); destroyErr != nil {
			emitEvent(opts, Event{
				Kind:       EventError,
				ErrMessage: fmt.Sprintf("sandbox vm cleanup failed: %v", destroyErr),
			})
		}
	}()

	if err := vmProvisioner.SyncTo(ctx, vm, cwd); err != nil {
		return AgentResult{}, wreckerr.Wrap(wreckerr.KindAgent, "failed to sync working tree into sandbox vm", err)
	}

	result, err := Dispatch(ctx, p.Inner, vm.WorkDir, prompt, opts)
	if err != nil {
		return AgentResult{}, err
	}

	if result.Success && p.SyncBack {
		if syncErr := vmProvisioner.SyncFrom(ctx, vm, cwd); syncErr != nil {
			return AgentResult{}, wreckerr.Wrap(wreckerr.KindAgent, "failed to sync sandbox vm back to host", syncErr)
		}
	}

	return result, nil
}
