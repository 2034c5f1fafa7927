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

package kernelops

import (
	"encoding/binary"
	"fmt"
)

// ErrShortBuffer is returned by Encode* functions when the destination
// buffer is too small to hold the serialized message. The VFS layer folds
// this into kerr.Protocol: if it does not fit, the operation fails.
var ErrShortBuffer = fmt.Errorf("kernelops: destination buffer too small")

// ErrMalformed is returned by Decode* functions when the source bytes are
// not a valid encoding of the requested message.
var ErrMalformed = fmt.Errorf("kernelops: malformed message")

// writer is a small bounds-checked cursor over a caller-owned byte slice,
// in the spirit of jacobsa/fuse's internal/buffer.OutMessage but built on
// safe slice operations rather than unsafe.Pointer arithmetic: this
// protocol crosses Go call boundaries between simulated processes in the
// same address space, not a real kernel ioctl, so there is no need for
// zero-copy header-punning tricks.
type writer struct {
	buf []byte
	off int
}

func (w *writer) remaining() int { return len(w.buf) - w.off }

func (w *writer) putUint8(v uint8) bool {
	if w.remaining() < 1 {
		return false
	}
	w.buf[w.off] = v
	w.off++
	return true
}

func (w *writer) putUint64(v uint64) bool {
	if w.remaining() < 8 {
		return false
	}
	binary.BigEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
	return true
}

func (w *writer) putUint32(v uint32) bool {
	if w.remaining() < 4 {
		return false
	}
	binary.BigEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
	return true
}

func (w *writer) putBool(v bool) bool {
	if v {
		return w.putUint8(1)
	}
	return w.putUint8(0)
}

func (w *writer) putBytes(b []byte) bool {
	if !w.putUint32(uint32(len(b))) {
		return false
	}
	if w.remaining() < len(b) {
		return false
	}
	copy(w.buf[w.off:], b)
	w.off += len(b)
	return true
}

func (w *writer) putString(s string) bool {
	return w.putBytes([]byte(s))
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) getUint8() (uint8, bool) {
	if r.remaining() < 1 {
		return 0, false
	}
	v := r.buf[r.off]
	r.off++
	return v, true
}

func (r *reader) getUint64() (uint64, bool) {
	if r.remaining() < 8 {
		return 0, false
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, true
}

func (r *reader) getUint32() (uint32, bool) {
	if r.remaining() < 4 {
		return 0, false
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, true
}

func (r *reader) getBool() (bool, bool) {
	v, ok := r.getUint8()
	return v != 0, ok
}

func (r *reader) getBytes() ([]byte, bool) {
	n, ok := r.getUint32()
	if !ok || r.remaining() < int(n) {
		return nil, false
	}
	b := make([]byte, n)
	copy(b, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return b, true
}

func (r *reader) getString() (string, bool) {
	b, ok := r.getBytes()
	if !ok {
		return "", false
	}
	return string(b), true
}

// EncodeRequest serializes a Request into buf, returning the number of
// bytes written. It fails if buf is too small.
func EncodeRequest(buf []byte, req Request) (int, error) {
	w := writer{buf: buf}
	ok := w.putUint64(req.Sender.Pid) &&
		w.putUint64(req.Sender.F) &&
		w.putUint8(uint8(req.Data.Kind)) &&
		w.putUint64(req.Data.Len)
	if !ok {
		return 0, ErrShortBuffer
	}
	return w.off, nil
}

// DecodeRequest parses a Request previously written by EncodeRequest.
func DecodeRequest(buf []byte) (Request, error) {
	r := reader{buf: buf}
	pid, ok1 := r.getUint64()
	f, ok2 := r.getUint64()
	kind, ok3 := r.getUint8()
	ln, ok4 := r.getUint64()
	if !(ok1 && ok2 && ok3 && ok4) {
		return Request{}, ErrMalformed
	}
	return Request{
		Sender: Sender{Pid: pid, F: f},
		Data:   FileOperation{Kind: FileOperationKind(kind), Len: ln},
	}, nil
}

// EncodeResponse serializes a Response into buf.
func EncodeResponse(buf []byte, resp Response) (int, error) {
	w := writer{buf: buf}
	ok := w.putUint64(resp.Sender.Pid) &&
		w.putUint64(resp.Sender.F) &&
		w.putBytes(resp.Data)
	if !ok {
		return 0, ErrShortBuffer
	}
	return w.off, nil
}

// DecodeResponse parses a Response previously written by EncodeResponse.
func DecodeResponse(buf []byte) (Response, error) {
	r := reader{buf: buf}
	pid, ok1 := r.getUint64()
	f, ok2 := r.getUint64()
	data, ok3 := r.getBytes()
	if !(ok1 && ok2 && ok3) {
		return Response{}, ErrMalformed
	}
	return Response{Sender: Sender{Pid: pid, F: f}, Data: data}, nil
}

// EncodeBranchListing serializes a ReadAttachmentBranch payload into buf.
func EncodeBranchListing(buf []byte, listing ReadAttachmentBranch) (int, error) {
	w := writer{buf: buf}
	if !w.putUint32(uint32(len(listing.Items))) {
		return 0, ErrShortBuffer
	}
	for _, it := range listing.Items {
		if !(w.putString(it.Name) && w.putUint64(it.Fd)) {
			return 0, ErrShortBuffer
		}
	}
	return w.off, nil
}

// DecodeBranchListing parses a ReadAttachmentBranch payload.
func DecodeBranchListing(buf []byte) (ReadAttachmentBranch, error) {
	r := reader{buf: buf}
	count, ok := r.getUint32()
	if !ok {
		return ReadAttachmentBranch{}, ErrMalformed
	}
	items := make([]BranchEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		name, ok1 := r.getString()
		fd, ok2 := r.getUint64()
		if !(ok1 && ok2) {
			return ReadAttachmentBranch{}, ErrMalformed
		}
		items = append(items, BranchEntry{Name: name, Fd: fd})
	}
	return ReadAttachmentBranch{Items: items}, nil
}

// EncodeListing serializes an internal-branch directory listing.
func EncodeListing(buf []byte, entries []NodeNameEntry) (int, error) {
	w := writer{buf: buf}
	if !w.putUint32(uint32(len(entries))) {
		return 0, ErrShortBuffer
	}
	for _, e := range entries {
		if !(w.putUint64(e.NodeID) && w.putString(e.Name)) {
			return 0, ErrShortBuffer
		}
	}
	return w.off, nil
}

// DecodeListing parses an internal-branch directory listing.
func DecodeListing(buf []byte) ([]NodeNameEntry, error) {
	r := reader{buf: buf}
	count, ok := r.getUint32()
	if !ok {
		return nil, ErrMalformed
	}
	entries := make([]NodeNameEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		id, ok1 := r.getUint64()
		name, ok2 := r.getString()
		if !(ok1 && ok2) {
			return nil, ErrMalformed
		}
		entries = append(entries, NodeNameEntry{NodeID: id, Name: name})
	}
	return entries, nil
}

// EncodeModification serializes a single InternalModification write.
func EncodeModification(buf []byte, m InternalModification) (int, error) {
	w := writer{buf: buf}
	ok := w.putUint8(uint8(m.Kind)) && w.putUint64(m.NodeID)
	if ok && m.Kind == ModAdd {
		ok = w.putString(m.Name)
	}
	if !ok {
		return 0, ErrShortBuffer
	}
	return w.off, nil
}

// DecodeModification parses an InternalModification write payload.
func DecodeModification(buf []byte) (InternalModification, error) {
	r := reader{buf: buf}
	kind, ok := r.getUint8()
	if !ok {
		return InternalModification{}, ErrMalformed
	}
	id, ok := r.getUint64()
	if !ok {
		return InternalModification{}, ErrMalformed
	}
	m := InternalModification{Kind: ModificationKind(kind), NodeID: id}
	if m.Kind == ModAdd {
		name, ok := r.getString()
		if !ok {
			return InternalModification{}, ErrMalformed
		}
		m.Name = name
	}
	return m, nil
}

// EncodeProcessResult serializes a ProcessResult payload.
func EncodeProcessResult(buf []byte, pr ProcessResult) (int, error) {
	w := writer{buf: buf}
	if !w.putUint8(uint8(pr.Outcome)) {
		return 0, ErrShortBuffer
	}
	switch pr.Outcome {
	case ProcessCompleted:
		if !w.putUint64(pr.Code) {
			return 0, ErrShortBuffer
		}
	case ProcessFailed:
		f := pr.Failure
		if f == nil {
			return 0, ErrMalformed
		}
		ok := w.putUint8(uint8(f.Kind))
		switch f.Kind {
		case FailurePageFault:
			ok = ok && w.putUint64(f.Frame) && w.putUint64(f.Addr) && w.putUint64(f.Code)
		case FailureUnhandledInterrupt:
			ok = ok && w.putUint32(f.Vector) && w.putBool(f.HasErrCode) && w.putUint64(f.ErrCode)
		case FailureInvalidSyscall:
			ok = ok && w.putUint64(f.Routine)
		}
		if !ok {
			return 0, ErrShortBuffer
		}
	}
	return w.off, nil
}

// DecodeProcessResult parses a ProcessResult payload.
func DecodeProcessResult(buf []byte) (ProcessResult, error) {
	r := reader{buf: buf}
	outcome, ok := r.getUint8()
	if !ok {
		return ProcessResult{}, ErrMalformed
	}
	pr := ProcessResult{Outcome: ProcessOutcome(outcome)}
	switch pr.Outcome {
	case ProcessCompleted:
		code, ok := r.getUint64()
		if !ok {
			return ProcessResult{}, ErrMalformed
		}
		pr.Code = code
	case ProcessFailed:
		kind, ok := r.getUint8()
		if !ok {
			return ProcessResult{}, ErrMalformed
		}
		f := &Failure{Kind: FailureKind(kind)}
		var ok1, ok2, ok3 bool
		switch f.Kind {
		case FailurePageFault:
			f.Frame, ok1 = r.getUint64()
			f.Addr, ok2 = r.getUint64()
			f.Code, ok3 = r.getUint64()
		case FailureUnhandledInterrupt:
			f.Vector, ok1 = r.getUint32()
			f.HasErrCode, ok2 = r.getBool()
			f.ErrCode, ok3 = r.getUint64()
		case FailureInvalidSyscall:
			f.Routine, ok1 = r.getUint64()
			ok2, ok3 = true, true
		default:
			ok1, ok2, ok3 = true, true, true
		}
		if !(ok1 && ok2 && ok3) {
			return ProcessResult{}, ErrMalformed
		}
		pr.Failure = f
	}
	return pr, nil
}
