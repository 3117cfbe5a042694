package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/larkmail/lark/internal/imapwire"
)

// errSelectedDemoted signals that runSelectedCommand already recovered
// from a BAD reply locally (CHECK also failed BAD) and transitioned
// c.state back to Authenticated and failed the queued selected-state
// work itself; callers treat it as "this work item is done, nothing
// more to report" rather than a connection-fatal error.
var errSelectedDemoted = errors.New("selected state demoted by BAD/CHECK safety net")

// runSelectedCommand runs f like runCommand, but additionally
// implements a BAD-during-Selected safety net: Gmail is known to
// silently drop the client out of Selected if the current
// mailbox is deleted remotely, surfacing as a BAD tagged response to
// whatever command happened to be in flight. A bare BAD is therefore
// not trusted on its own — CHECK is issued to tell the two cases
// apart. If CHECK also comes back BAD, the demotion is real: state
// moves back to Authenticated and the queued selected-state work is
// failed. If CHECK comes back OK, the mailbox is still there and the
// original BAD was a genuine protocol error.
func (c *Conn) runSelectedCommand(ctx context.Context, tag string, f *imapwire.Formatter) (*imapwire.TaggedResp, error) {
	tagged, err := c.runCommand(ctx, tag, f)
	if err != nil {
		return nil, err
	}
	if tagged.Status != imapwire.StatusBAD {
		return tagged, nil
	}

	checkTag := c.nextTag()
	checkTagged, err := c.runCommand(ctx, checkTag, imapwire.NewFormatter().Tag(checkTag).Atom("CHECK").CRLF())
	if err != nil {
		return nil, err
	}
	if checkTagged.Status == imapwire.StatusBAD {
		mailbox := c.selectedMailbox
		c.leaveSelected()
		c.queue.FailSelectedWork()
		c.ui.UpdateStatus(fmt.Sprintf("mailbox %s no longer selectable, returning to Authenticated", mailbox), StatusError)
		return nil, errSelectedDemoted
	}
	return nil, protocolErr("bad-check", fmt.Errorf("command failed BAD: %s", tagged.Text.Text))
}
