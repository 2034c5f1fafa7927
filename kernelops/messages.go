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

// Package kernelops defines the self-describing binary wire types
// exchanged across the kernel/userspace boundary: the
// attachment request/response protocol, the internal-branch directory
// protocol, and the process-result payload. It mirrors jacobsa/fuse's
// fuseops package, which plays the same role for the real FUSE wire
// protocol: plain data types independent of the dispatch machinery that
// converts them to and from bytes.
package kernelops

// Sender identifies the opener of a file within a Request, independent of
// the kernel package's FileClientId so this package stays free of a
// dependency on VFS internals (the kernel package converts between the
// two at its boundary, same as fuseops.InodeID vs the top package's Node).
type Sender struct {
	// Pid is the sender's process id, or 0 for the kernel client.
	Pid uint64
	F   uint64
}

// FileOperationKind distinguishes the two shapes an attachment Request can
// carry.
type FileOperationKind uint8

const (
	OpRead FileOperationKind = iota
	OpClose
)

func (k FileOperationKind) String() string {
	switch k {
	case OpRead:
		return "Read"
	case OpClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// FileOperation is the payload of a Request delivered to an attachment's
// manager: either Read(n), carrying the client's requested buffer length,
// or Close.
type FileOperation struct {
	Kind FileOperationKind
	Len  uint64 // valid when Kind == OpRead
}

// Request is what a manager receives on Read: one client operation to
// service.
type Request struct {
	Sender Sender
	Data   FileOperation
}

// Response is what a manager sends on Write: the answer to exactly one
// previously-delivered Read request.
type Response struct {
	Sender Sender
	Data   []byte
}

// BranchEntry is one child of a Branch attachment's directory listing: a
// name and the file descriptor, in the manager's own descriptor table,
// that resolves to the managed child node.
type BranchEntry struct {
	Name string
	Fd   uint64
}

// ReadAttachmentBranch is the payload of a read on a Branch attachment.
type ReadAttachmentBranch struct {
	Items []BranchEntry
}

// ModificationKind distinguishes the two internal-branch write payloads.
type ModificationKind uint8

const (
	ModAdd ModificationKind = iota
	ModRemove
)

// InternalModification is the payload of a write to an InternalBranch
// node: add one (NodeId, name) link, or remove a link by NodeId.
type InternalModification struct {
	Kind   ModificationKind
	NodeID uint64
	Name   string // valid when Kind == ModAdd
}

// NodeNameEntry is one (NodeId, name) pair in an internal-branch listing.
type NodeNameEntry struct {
	NodeID uint64
	Name   string
}

// ProcessOutcome distinguishes the two ways a process can finish.
type ProcessOutcome uint8

const (
	ProcessCompleted ProcessOutcome = iota
	ProcessFailed
)

// FailureKind enumerates the recognized process-termination failure
// causes.
type FailureKind uint8

const (
	FailureDivideByZero FailureKind = iota
	FailurePageFault
	FailureUnhandledInterrupt
	FailureInvalidSyscall
	FailureBadPointer
	FailureChainedTermination
)

// Failure describes why a process terminated abnormally.
type Failure struct {
	Kind FailureKind

	// Populated when Kind == FailurePageFault.
	Frame uint64
	Addr  uint64
	Code  uint64

	// Populated when Kind == FailureUnhandledInterrupt.
	Vector     uint32
	HasErrCode bool
	ErrCode    uint64

	// Populated when Kind == FailureInvalidSyscall.
	Routine uint64
}

// ProcessResult is the payload written into /prc/<pid> once a process's
// outcome is known.
type ProcessResult struct {
	Outcome ProcessOutcome
	Code    uint64   // valid when Outcome == ProcessCompleted
	Failure *Failure // valid when Outcome == ProcessFailed
}
