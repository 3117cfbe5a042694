package syncengine

import "github.com/larkmail/lark/internal/workqueue"

// StatusLevel classifies a status line's severity for the UI
// boundary.
type StatusLevel int

const (
	StatusInfo StatusLevel = iota
	StatusError
)

// UI is the collaborator contract a host application implements to
// surface connection progress. cache.Store.Subscribe covers the
// on_{mailbox,message}_* half of the boundary; UI covers the other:
// user-visible status text.
type UI interface {
	UpdateStatus(msg string, level StatusLevel)
}

// Intents is a thin wrapper translating UI-originated user actions
// into workqueue.Item pushes — one method per named intent rather
// than a single stringly typed dispatch, so a host application gets
// compile-time checked call sites.
type Intents struct {
	queue *workqueue.Queue
}

func NewIntents(queue *workqueue.Queue) *Intents {
	return &Intents{queue: queue}
}

func (i *Intents) Quit() {
	i.queue.Push(workqueue.Item{Kind: workqueue.Logout})
}

func (i *Intents) Refresh() {
	i.queue.Push(workqueue.Item{Kind: workqueue.RefreshList})
}

func (i *Intents) SelectMailbox(name string) {
	i.queue.Push(workqueue.Item{Kind: workqueue.Select, Mailbox: name})
}

// OpenMessage requests a message's BODYSTRUCTURE, optionally skipping
// the fetch if needBodystructure is false (the caller already has it
// cached).
func (i *Intents) OpenMessage(gmMsgID uint64, needBodystructure bool) {
	if !needBodystructure {
		return
	}
	i.queue.Push(workqueue.Item{Kind: workqueue.FetchBodyStructure, GMMsgID: gmMsgID})
}

func (i *Intents) ReadBodySections(gmMsgID uint64, sections []string) {
	i.queue.Push(workqueue.Item{Kind: workqueue.FetchBodySections, GMMsgID: gmMsgID, Sections: sections})
}
