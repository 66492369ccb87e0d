package engine

import "fmt"

// Word is one machine word of thunk code. Routine addresses and closure keys
// are stored as words.
type Word = uint64

// CodePage is an append-only region of thunk words owned by a runtime.
// Words below the cursor are never rewritten.
type CodePage struct {
	owner    *Runtime
	words    []Word
	cursor   int
	acquired bool
}

// PC addresses a word inside a code page. The zero PC means "not compiled".
type PC struct {
	page *CodePage
	off  int
}

// IsZero reports whether the PC points nowhere.
func (pc PC) IsZero() bool {
	return pc.page == nil
}

// Words returns the thunk starting at pc, up to the page cursor.
func (pc PC) Words() []Word {
	if pc.page == nil {
		return nil
	}
	return pc.page.words[pc.off:pc.page.cursor]
}

func (pc PC) String() string {
	if pc.page == nil {
		return "pc(nil)"
	}
	return fmt.Sprintf("pc(%p+%d)", pc.page, pc.off)
}

// Capacity is the total number of words the page can hold.
func (p *CodePage) Capacity() int {
	return len(p.words)
}

// Remaining is the number of words left after the cursor.
func (p *CodePage) Remaining() int {
	return len(p.words) - p.cursor
}

// PC returns the address of the next word to be emitted.
func (p *CodePage) PC() PC {
	return PC{page: p, off: p.cursor}
}

// Emit appends one word. Callers acquire pages with enough capacity, so
// running past the end is a programming error.
func (p *CodePage) Emit(w Word) {
	if !p.acquired {
		panic("engine: emit into a released code page")
	}
	if p.cursor >= len(p.words) {
		panic("engine: code page overflow")
	}
	p.words[p.cursor] = w
	p.cursor++
}

// AcquireCodePage returns a page with at least capacity free words, reusing
// the tail of an existing page when it fits. It returns nil when a new page
// is needed and the runtime's page limit is reached.
func (rt *Runtime) AcquireCodePage(capacity int) *CodePage {
	for i := len(rt.pages) - 1; i >= 0; i-- {
		p := rt.pages[i]
		if !p.acquired && p.Remaining() >= capacity {
			p.acquired = true
			return p
		}
	}

	if rt.cfg.MaxCodePages > 0 && len(rt.pages) >= rt.cfg.MaxCodePages {
		Logger().Debug("code pages exhausted")
		return nil
	}

	size := max(rt.cfg.CodePageWords, capacity)
	p := &CodePage{owner: rt, words: make([]Word, size), acquired: true}
	rt.pages = append(rt.pages, p)
	return p
}

// ReleaseCodePage seals the emitted words and makes the rest of the page
// available to later acquisitions.
func (rt *Runtime) ReleaseCodePage(p *CodePage) {
	if p == nil || p.owner != rt {
		return
	}
	p.acquired = false
}

// NumCodePages reports how many pages the runtime has allocated.
func (rt *Runtime) NumCodePages() int {
	return len(rt.pages)
}
