// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kernelboot assembles a VirtualFS, Scheduler, and syscall
// Dispatcher into a booted kernel instance: the standard tree (/bin,
// /cfg, /dev, /mnt, /prc, /srv and the built-in device nodes) linked
// under the root. It is the one package allowed to depend on both
// kernel and kernelutil, since wiring concrete FileOps kinds into the
// tree is exactly the boundary those two packages are split across.
package kernelboot

import (
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/kestrel-os/kernel"
	"github.com/kestrel-os/kernel/internal/klog"
	"github.com/kestrel-os/kernel/kernelutil"
	"github.com/kestrel-os/kernel/metrics"
	"github.com/kestrel-os/kernel/sched"
	"github.com/kestrel-os/kernel/syscalls"
)

// Config controls how a kernel instance boots.
type Config struct {
	LogFilePath string
	LogDebug    bool
	ClockPeriod time.Duration
}

// Kernel is a fully booted instance: the tree, the scheduler driving it,
// and the syscall surface processes call through.
type Kernel struct {
	VFS        *kernel.VirtualFS
	Scheduler  *sched.Scheduler
	Dispatcher *syscalls.Dispatcher
	Log        *klog.Logger
	Metrics    *metrics.Metrics

	clock *sched.TickClock

	dirs NodeIds
}

// NodeIds records the standard top-level directories, so callers (the
// CLI, tests, process-spawning code) do not need to re-resolve them by
// path.
type NodeIds struct {
	Bin kernel.NodeId
	Cfg kernel.NodeId
	Dev kernel.NodeId
	Mnt kernel.NodeId
	Prc kernel.NodeId
	Srv kernel.NodeId
}

// Boot builds a new kernel instance with the standard top-level tree and
// device nodes already linked.
func Boot(cfg Config) (*Kernel, error) {
	log := klog.New(klog.Config{FilePath: cfg.LogFilePath, Debug: cfg.LogDebug})

	period := cfg.ClockPeriod
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	clock := sched.NewTickClock(timeutil.RealClock(), period)
	scheduler := sched.New(clock)

	m, err := metrics.New()
	if err != nil {
		// Metrics are ambient observability, not correctness; a kernel that
		// can't register its instruments (e.g. a duplicate meter provider in
		// a test process) still boots, just without them.
		log.Errorf("metrics registration failed, continuing without it", "error", err)
		m = nil
	}

	root := kernelutil.NewInternalBranch()
	vfs := kernel.NewVirtualFS(root, scheduler, log, m)
	dispatcher := syscalls.NewDispatcher(vfs, scheduler, m)

	k := &Kernel{VFS: vfs, Scheduler: scheduler, Dispatcher: dispatcher, Log: log, Metrics: m, clock: clock}

	ids, err := k.mountStandardTree()
	if err != nil {
		return nil, err
	}
	k.dirs = ids

	log.Infof("kernel booted", "boot_id", log.BootID())
	return k, nil
}

// Shutdown stops the background clock goroutine.
func (k *Kernel) Shutdown() {
	k.clock.Stop()
}

// Dirs returns the standard top-level directory node ids.
func (k *Kernel) Dirs() NodeIds {
	return k.dirs
}

func (k *Kernel) mountStandardTree() (NodeIds, error) {
	var ids NodeIds

	link := func(name string) (kernel.NodeId, error) {
		r := k.VFS.CreateNode(kernel.RootID, name, kernelutil.NewInternalBranch())
		id, ok := r.Value()
		if !ok {
			e, _ := r.Error()
			return 0, e
		}
		return id, nil
	}

	var err error
	if ids.Bin, err = link("bin"); err != nil {
		return ids, err
	}
	if ids.Cfg, err = link("cfg"); err != nil {
		return ids, err
	}
	if ids.Dev, err = link("dev"); err != nil {
		return ids, err
	}
	if ids.Mnt, err = link("mnt"); err != nil {
		return ids, err
	}
	if ids.Prc, err = link("prc"); err != nil {
		return ids, err
	}
	if ids.Srv, err = link("srv"); err != nil {
		return ids, err
	}

	devices := []struct {
		name string
		ops  kernel.FileOps
	}{
		{"null", kernelutil.NullDevice{}},
		{"zero", kernelutil.ZeroDevice{}},
		{"test", kernelutil.OpaqueDevice{}},
		{"console", kernelutil.OpaqueDevice{}},
		{"nic", kernelutil.OpaqueDevice{}},
		{"nic_mac", kernelutil.OpaqueDevice{}},
	}
	for _, d := range devices {
		r := k.VFS.CreateNode(ids.Dev, d.name, d.ops)
		if !r.IsSuccess() {
			e, _ := r.Error()
			return ids, e
		}
	}

	return ids, nil
}

// SpawnFromBinary execs path under /bin (or any absolute path) as a new
// process, creating its /prc/<pid> result node. The kernel client keeps
// its own monitor descriptor onto that node (ExecResult.FD), unused
// here but what ref-protects both the binary and the process entry for
// as long as the process runs.
func (k *Kernel) SpawnFromBinary(path string) (kernel.ProcessId, error) {
	res, err := k.Dispatcher.KernelExec(k.dirs.Prc, kernelutil.NewProcessFile(), path)
	if err != nil {
		return 0, err
	}
	return res.Pid, nil
}
