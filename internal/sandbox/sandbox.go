// Package sandbox manages ephemeral remote VMs used by the `sprite` agent
// backend kind. Provisioning shells out to a configured VM-control binary,
// one process per lifecycle verb.
package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mikehostetler/wreckit/internal/dispatch"
	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

// Config names the VM-control binary and the verbs it expects. Defaults
// match a `wreckit-vmctl provision|sync-to|sync-from|destroy` convention;
// any binary implementing that verb surface can be substituted.
type Config struct {
	Binary string
}

func DefaultConfig() Config {
	return Config{Binary: "wreckit-vmctl"}
}

// Manager provisions and tears down sandbox VMs and satisfies
// dispatch.VMProvisioner. It also keeps a process-wide registry of live
// VMs so the orchestrator's interrupt handler can destroy any VM left
// over from a killed run.
type Manager struct {
	cfg Config

	mu  sync.Mutex
	live map[string]*dispatch.VM
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, live: make(map[string]*dispatch.VM)}
}

var _ dispatch.VMProvisioner = (*Manager)(nil)

// Provision starts a new VM named "wreckit-sandbox-<itemID>-<namePrefix>"
// and registers it before returning, so a crash
// between Provision and the caller's defer still leaves the VM
// discoverable by DestroyAll.
func (m *Manager) Provision(ctx context.Context, namePrefix, itemID, hostCwd string) (*dispatch.VM, error) {
	name := vmName(itemID, namePrefix)
	out, err := m.run(ctx, "provision", "--name", name, "--workdir", hostCwd)
	if err != nil {
		return nil, wreckerr.Wrap(wreckerr.KindAgent, "failed to provision sandbox vm "+name, err)
	}
	vm := &dispatch.VM{ID: name, WorkDir: strings.TrimSpace(out)}
	if vm.WorkDir == "" {
		vm.WorkDir = "/workspace"
	}

	m.mu.Lock()
	m.live[vm.ID] = vm
	m.mu.Unlock()
	return vm, nil
}

func (m *Manager) SyncTo(ctx context.Context, vm *dispatch.VM, hostCwd string) error {
	_, err := m.run(ctx, "sync-to", "--name", vm.ID, "--src", hostCwd, "--dst", vm.WorkDir)
	if err != nil {
		return wreckerr.Wrap(wreckerr.KindAgent, "failed to sync working tree into sandbox vm "+vm.ID, err)
	}
	return nil
}

func (m *Manager) SyncFrom(ctx context.Context, vm *dispatch.VM, hostCwd string) error {
	_, err := m.run(ctx, "sync-from", "--name", vm.ID, "--src", vm.WorkDir, "--dst", hostCwd)
	if err != nil {
		return wreckerr.Wrap(wreckerr.KindAgent, "failed to sync sandbox vm back to host "+vm.ID, err)
	}
	return nil
}

// Destroy tears down vm and deregisters it unconditionally, even when the
// underlying command fails, so a failed destroy never wedges the registry
// permanently (the orchestrator's interrupt handler would otherwise retry
// forever against a VM the control plane has already reaped).
func (m *Manager) Destroy(ctx context.Context, vm *dispatch.VM) error {
	defer func() {
		m.mu.Lock()
		delete(m.live, vm.ID)
		m.mu.Unlock()
	}()

	_, err := m.run(ctx, "destroy", "--name", vm.ID)
	if err != nil {
		return wreckerr.Wrap(wreckerr.KindAgent, "failed to destroy sandbox vm "+vm.ID, err)
	}
	return nil
}

// DestroyAll tears down every live VM, used by the orchestrator's
// interrupt handler during drain.
func (m *Manager) DestroyAll(ctx context.Context) []error {
	m.mu.Lock()
	vms := make([]*dispatch.VM, 0, len(m.live))
	for _, vm := range m.live {
		vms = append(vms, vm)
	}
	m.mu.Unlock()

	var errs []error
	for _, vm := range vms {
		if err := m.Destroy(ctx, vm); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Live reports the IDs of currently registered VMs, used by doctor checks
// and tests.
func (m *Manager) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) run(ctx context.Context, verb string, args ...string) (string, error) {
	full := append([]string{verb}, args...)
	cmd := exec.CommandContext(ctx, m.cfg.Binary, full...)
	out, err := cmd.Output()
	return string(out), err
}

func vmName(itemID, suffix string) string {
	if suffix == "" {
		suffix = "run"
	}
	return fmt.Sprintf("wreckit-sandbox-%s-%s", itemID, suffix)
}
