package inode

import (
	"sync"

	"vmkernel/kerr"
)

// Handle is a file handle: a private byte position plus a deny-write
// flag layered over a shared Inode_t (spec.md §3: "Position is private
// to the handle; the inode is shared").
type Handle struct {
	mu       sync.Mutex
	ino      *Inode_t
	pos      int
	denied   bool
	dupCount int
}

// Dup increments the handle's dup count (dup2-style sharing of one
// handle across descriptor slots) and returns the new count.
func (h *Handle) Dup() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dupCount++
	return h.dupCount
}

// Undup decrements the dup count, reporting whether it reached zero.
func (h *Handle) Undup() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dupCount == 0 {
		panic("inode: undup below zero")
	}
	h.dupCount--
	return h.dupCount == 0
}

// OpenHandleOn obtains a new, independent handle onto an already-open
// inode, bumping its reference count the way biscuit's Copyfd reopens
// the underlying fops (biscuit/src/fd/fd.go).
func OpenHandleOn(ino *Inode_t) *Handle {
	ino.Reopen()
	return &Handle{ino: ino}
}

// Reopen duplicates the handle: a fresh position-0 handle sharing the
// same inode, its own open-count bump (spec.md §4.8 mmap step 1: "the
// later close by the user does not invalidate the mapping").
func (h *Handle) Reopen() *Handle {
	h.ino.Reopen()
	return &Handle{ino: h.ino}
}

// Close drops this handle's reference to the inode.
func (h *Handle) Close(r *Registry) kerr.Err_t {
	return h.ino.Close(r)
}

// Inode exposes the underlying shared inode.
func (h *Handle) Inode() *Inode_t { return h.ino }

// Length returns the file's current length.
func (h *Handle) Length() int { return h.ino.Length() }

// DenyWrite/AllowWrite forward to the shared inode's reference-counted
// write lock (spec.md §8 scenario 6).
func (h *Handle) DenyWrite() {
	h.mu.Lock()
	h.denied = true
	h.mu.Unlock()
	h.ino.DenyWrite()
}

func (h *Handle) AllowWrite() {
	h.mu.Lock()
	h.denied = false
	h.mu.Unlock()
	h.ino.AllowWrite()
}

// Seek repositions the handle. whence follows os.File's convention:
// 0=start, 1=current, 2=end.
func (h *Handle) Seek(off int, whence int) (int, kerr.Err_t) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var np int
	switch whence {
	case 0:
		np = off
	case 1:
		np = h.pos + off
	case 2:
		np = h.ino.Length() + off
	default:
		return 0, kerr.EINVAL
	}
	if np < 0 {
		return 0, kerr.EINVAL
	}
	h.pos = np
	return np, 0
}

func (h *Handle) Tell() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// Read reads at the handle's current position, advancing it.
func (h *Handle) Read(buf []byte) (int, kerr.Err_t) {
	h.mu.Lock()
	pos := h.pos
	h.mu.Unlock()
	n, err := h.ino.ReadAt(buf, pos)
	if err == 0 {
		h.mu.Lock()
		h.pos += n
		h.mu.Unlock()
	}
	return n, err
}

// Write writes at the handle's current position, advancing it.
func (h *Handle) Write(buf []byte) (int, kerr.Err_t) {
	h.mu.Lock()
	pos := h.pos
	h.mu.Unlock()
	n, err := h.ino.WriteAt(buf, pos)
	if err == 0 {
		h.mu.Lock()
		h.pos += n
		h.mu.Unlock()
	}
	return n, err
}

// ReadAt and WriteAt pass straight through to the inode, ignoring the
// handle's private position (used by the file-backed page machinery,
// which always knows its absolute offset).
func (h *Handle) ReadAt(buf []byte, off int) (int, kerr.Err_t)  { return h.ino.ReadAt(buf, off) }
func (h *Handle) WriteAt(buf []byte, off int) (int, kerr.Err_t) { return h.ino.WriteAt(buf, off) }
