package syncengine

import "github.com/larkmail/lark/internal/imapwire"

// handler inspects one untagged response and reports whether it
// handled it. The newest-registered handler for a response type runs
// first. A response no handler claims is left to the caller:
// runCommand falls back to handleCommonUntagged and logs anything still
// unhandled at warning level; handleIdleMessage ignores it.
type handler func(*imapwire.UntaggedResp) bool

// dispatchStack is a LIFO registry of handlers, keyed by the
// UntaggedResp.Type string it was registered for. A long-lived handler
// (e.g. EXISTS while a mailbox stays Selected) and a short-lived,
// transient one registered later for the same type (e.g. a single
// command's own response collector) coexist correctly: the newer one
// intercepts first and the older one resumes once popped.
type dispatchStack struct {
	byType map[string][]handler
}

func newDispatchStack() *dispatchStack {
	return &dispatchStack{byType: make(map[string][]handler)}
}

// Push registers h as the newest handler for typ. Returns a pop
// function the caller must invoke when the handler's owning operation
// is done, so short-lived handlers (a single FETCH's response
// collector) don't outlive their purpose.
func (d *dispatchStack) Push(typ string, h handler) (pop func()) {
	d.byType[typ] = append(d.byType[typ], h)
	idx := len(d.byType[typ]) - 1
	return func() {
		stack := d.byType[typ]
		if idx < len(stack) && stack[idx] != nil {
			stack[idx] = nil
		}
	}
}

// Dispatch runs handlers for resp.Type from newest to oldest, stopping
// at the first one that reports handled. Returns false if every
// registered handler (and the stack itself) declined it.
func (d *dispatchStack) Dispatch(resp *imapwire.UntaggedResp) bool {
	stack := d.byType[resp.Type]
	for i := len(stack) - 1; i >= 0; i-- {
		h := stack[i]
		if h == nil {
			continue
		}
		if h(resp) {
			return true
		}
	}
	return false
}
