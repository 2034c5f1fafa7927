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

package kernel

import "sync"

// ProcessDescriptors is one process's file descriptor table: the mapping
// from its small integer FDs to the NodeId each currently refers to. The
// kernel client (ProcessId 0) gets one of these too: its table holds the
// descriptors KernelExec opens on the kernel's behalf, and its counter
// also numbers the throwaway clients of kernel-internal temporary opens,
// so no kernel descriptor number is handed out twice.
type ProcessDescriptors struct {
	mu     sync.Mutex
	table  map[FileDescriptor]NodeId
	nextFD FileDescriptor
}

func newProcessDescriptors() *ProcessDescriptors {
	return &ProcessDescriptors{table: make(map[FileDescriptor]NodeId)}
}

// allocate reserves a fresh descriptor bound to node and returns it.
func (d *ProcessDescriptors) allocate(node NodeId) FileDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd := d.nextFD
	d.nextFD++
	d.table[fd] = node
	return fd
}

// lookup returns the node an open descriptor refers to.
func (d *ProcessDescriptors) lookup(fd FileDescriptor) (NodeId, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.table[fd]
	return n, ok
}

// release removes fd from the table, returning the node it referred to.
func (d *ProcessDescriptors) release(fd FileDescriptor) (NodeId, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.table[fd]
	if ok {
		delete(d.table, fd)
	}
	return n, ok
}

// snapshot returns a copy of every (fd, node) pair currently open, used
// by process termination to close every descriptor a dying process held.
func (d *ProcessDescriptors) snapshot() map[FileDescriptor]NodeId {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[FileDescriptor]NodeId, len(d.table))
	for fd, n := range d.table {
		out[fd] = n
	}
	return out
}
