// Package fault implements the page-fault classifier: given a faulting
// address, access kind, ring, and the faulting thread's saved stack
// pointer, it decides whether to materialize a page via the
// supplemental page table, grow the stack, or kill the process.
package fault

import (
	"fmt"

	"pintosgo/internal/common"
	"pintosgo/internal/klog"
	"pintosgo/internal/vm/frame"
	"pintosgo/internal/vm/page"
)

var log = klog.For("fault")

// AccessKind is the kind of access that faulted.
type AccessKind int

const (
	Read AccessKind = iota
	Write
)

// Ring is the privilege level the faulting access came from.
type Ring int

const (
	RingKernel Ring = iota
	RingUser
)

// Outcome is what the fault handler decided to do.
type Outcome int

const (
	// Resolved means the fault was materialized; the process may
	// resume at the faulting instruction.
	Resolved Outcome = iota
	// Kill means the process must be terminated with exit status -1,
	// per spec.md C7.
	Kill
)

// Result is the fault handler's decision.
type Result struct {
	Outcome Outcome
	Frame   *frame.Frame_t
	Reason  string
}

// Handler resolves faults for a single process's address space.
type Handler struct {
	pages *page.Table
}

// NewHandler builds a fault handler over one process's supplemental page
// table.
func NewHandler(pages *page.Table) *Handler {
	return &Handler{pages: pages}
}

// Handle classifies and, where possible, resolves a fault at uaddr. esp
// is the faulting thread's saved stack pointer, used only to bound the
// stack-growth window.
func (h *Handler) Handle(uaddr common.Uaddr_t, access AccessKind, ring Ring, esp common.Uaddr_t) Result {
	if ring == RingUser && uaddr >= common.PHYS_BASE {
		return kill("user access to kernel VA %#x", uaddr)
	}

	if e, ok := h.pages.Lookup(uaddr); ok {
		if access == Write && !e.Writable {
			return kill("write to read-only page %#x", uaddr)
		}
		f, err := h.pages.Load(uaddr)
		if err != nil {
			log.WithField("err", err).Warn("page_load failed")
			return kill("page_load failed for %#x: %v", uaddr, err)
		}
		return Result{Outcome: Resolved, Frame: f}
	}

	if isStackGrowth(uaddr, esp) {
		page := common.RoundDownPage(uaddr)
		h.pages.InstallZeroFill(page, true)
		f, err := h.pages.Load(page)
		if err != nil {
			return kill("stack growth load failed for %#x: %v", uaddr, err)
		}
		log.WithField("uaddr", fmt.Sprintf("%#x", page)).Debug("stack grown")
		return Result{Outcome: Resolved, Frame: f}
	}

	return kill("no supplemental entry and not a legal stack-growth access: %#x", uaddr)
}

// isStackGrowth reports whether uaddr falls within the legal stack
// growth window: at or above esp - common.StackGrowthSlack, below
// common.PHYS_BASE, and within common.MaxStackBytes of the top of the
// address space (spec.md C7 rule 3).
func isStackGrowth(uaddr, esp common.Uaddr_t) bool {
	if uaddr >= common.PHYS_BASE {
		return false
	}
	if uaddr+common.StackGrowthSlack < esp {
		return false
	}
	stackFloor := common.PHYS_BASE - common.MaxStackBytes
	return uaddr >= stackFloor
}

func kill(format string, args ...interface{}) Result {
	reason := fmt.Sprintf(format, args...)
	log.WithField("reason", reason).Info("killing process on fault")
	return Result{Outcome: Kill, Reason: reason}
}
