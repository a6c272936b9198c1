package bridge

import (
	"context"
	"fmt"
	"sort"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/teemow/mailmirror/internal/logging"
	"github.com/teemow/mailmirror/internal/mailbox"
)

// ListFolders lists selectable folders, minus the excluded ones.
func (c *Client) ListFolders(ctx context.Context) ([]mailbox.RemoteFolder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var boxes []*imap.ListData
	err := c.do(ctx, "list folders", "", func(conn *imapclient.Client) error {
		var err error
		boxes, err = conn.List("", "*", nil).Collect()
		return err
	})
	if err != nil {
		return nil, err
	}

	folders := make([]mailbox.RemoteFolder, 0, len(boxes))
	for _, b := range boxes {
		if hasAttr(b.Attrs, imap.MailboxAttrNoSelect) || hasAttr(b.Attrs, imap.MailboxAttrNonExistent) {
			continue
		}
		if excluded(b.Mailbox, b.Delim, c.cfg.ExcludeFolders) {
			continue
		}
		folders = append(folders, mailbox.RemoteFolder{ID: b.Mailbox, Name: b.Mailbox})
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].ID < folders[j].ID })
	return folders, nil
}

func hasAttr(attrs []imap.MailboxAttr, want imap.MailboxAttr) bool {
	for _, a := range attrs {
		if a == want {
			return true
		}
	}
	return false
}

// FetchRange fetches the messages above the cursor's UID, or the whole
// folder when the cursor is empty or its UIDVALIDITY is stale.
func (c *Client) FetchRange(ctx context.Context, folder string, cursor mailbox.Cursor) (*mailbox.FetchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res *mailbox.FetchResult
	err := c.do(ctx, "fetch range", folder, func(conn *imapclient.Client) error {
		sel, err := c.selectFolder(conn, folder, true)
		if err != nil {
			return err
		}

		validity, last, ok := parseCursor(cursor)
		full := !ok || validity != sel.UIDValidity
		if full {
			last = 0
		}
		res = &mailbox.FetchResult{Complete: full, Cursor: formatCursor(sel.UIDValidity, last)}
		if sel.NumMessages == 0 {
			if full {
				c.index.forgetFolder(folder)
			}
			return nil
		}

		from := last + 1
		bufs, err := conn.Fetch(imap.UIDSet{{Start: from, Stop: 0}}, headerOptions()).Collect()
		if err != nil {
			return fmt.Errorf("fetching %s from uid %d: %w", folder, from, err)
		}

		if full {
			c.index.forgetFolder(folder)
		}
		maxUID := last
		for _, buf := range bufs {
			// UID n:* always returns the highest message, even below n.
			if buf.UID < from {
				continue
			}
			msg := toMessage(folder, sel.UIDValidity, buf)
			msg.ID = c.index.assign(msg.ID, location{folder: folder, uidValidity: sel.UIDValidity, uid: buf.UID})
			res.Messages = append(res.Messages, msg)
			if buf.UID > maxUID {
				maxUID = buf.UID
			}
		}
		res.Cursor = formatCursor(sel.UIDValidity, maxUID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched folder range",
		logging.Folder(folder),
		logging.Mode(modeOf(res.Complete)))
	return res, nil
}

func modeOf(complete bool) string {
	if complete {
		return string(mailbox.SyncFull)
	}
	return string(mailbox.SyncIncremental)
}

// locate must be called with c.mu held.
func (c *Client) locate(op, id string) (location, error) {
	if loc, ok := c.index[id]; ok {
		return loc, nil
	}
	if loc, ok := parseSyntheticID(id); ok {
		return loc, nil
	}
	return location{}, mailbox.Errorf(mailbox.KindNotFound, op, id, "message is not known to the imap session")
}

// selectLocation selects the folder of loc and checks that its UIDs are
// still valid.
func (c *Client) selectLocation(conn *imapclient.Client, op, id string, loc location) error {
	sel, err := c.selectFolder(conn, loc.folder, false)
	if err != nil {
		return err
	}
	if sel.UIDValidity != loc.uidValidity {
		delete(c.index, id)
		return mailbox.Errorf(mailbox.KindNotFound, op, id, "uidvalidity of %s changed", loc.folder)
	}
	return nil
}

// FetchByID fetches one message including its body. The message is not
// marked as read.
func (c *Client) FetchByID(ctx context.Context, id string) (*mailbox.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	loc, err := c.locate("fetch", id)
	if err != nil {
		return nil, err
	}

	var msg *mailbox.Message
	err = c.do(ctx, "fetch", id, func(conn *imapclient.Client) error {
		if err := c.selectLocation(conn, "fetch", id, loc); err != nil {
			return err
		}

		section := &imap.FetchItemBodySection{Peek: true}
		opts := headerOptions()
		opts.BodySection = []*imap.FetchItemBodySection{section}

		bufs, err := conn.Fetch(imap.UIDSetNum(loc.uid), opts).Collect()
		if err != nil {
			return fmt.Errorf("fetching uid %d: %w", loc.uid, err)
		}
		if len(bufs) == 0 || bufs[0].UID != loc.uid {
			delete(c.index, id)
			return mailbox.Errorf(mailbox.KindNotFound, "fetch", id, "uid %d is gone from %s", loc.uid, loc.folder)
		}

		buf := bufs[0]
		msg = toMessage(loc.folder, loc.uidValidity, buf)
		msg.ID = id
		if raw := buf.FindBodySection(section); raw != nil {
			body, atts := parseBody(raw)
			msg.Body = body
			msg.Snippet = snippet(body.Text)
			if len(msg.Attachments) == 0 {
				msg.Attachments = atts
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// SetFlag adds or removes \Seen or \Flagged.
func (c *Client) SetFlag(ctx context.Context, id string, flag mailbox.Flag, value bool) error {
	var imapFlag imap.Flag
	switch flag {
	case mailbox.FlagRead:
		imapFlag = imap.FlagSeen
	case mailbox.FlagStarred:
		imapFlag = imap.FlagFlagged
	default:
		return mailbox.Errorf(mailbox.KindInvalidInput, "set flag", id, "unknown flag %q", flag)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	loc, err := c.locate("set flag", id)
	if err != nil {
		return err
	}

	op := imap.StoreFlagsDel
	if value {
		op = imap.StoreFlagsAdd
	}
	return c.do(ctx, "set flag", id, func(conn *imapclient.Client) error {
		if err := c.selectLocation(conn, "set flag", id, loc); err != nil {
			return err
		}
		return conn.Store(imap.UIDSetNum(loc.uid), &imap.StoreFlags{
			Op:     op,
			Silent: true,
			Flags:  []imap.Flag{imapFlag},
		}, nil).Close()
	})
}

// Move moves the message to folder and re-locates it there.
func (c *Client) Move(ctx context.Context, id, folder string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	loc, err := c.locate("move", id)
	if err != nil {
		return err
	}
	if loc.folder == folder {
		return nil
	}

	return c.do(ctx, "move", id, func(conn *imapclient.Client) error {
		if err := c.selectLocation(conn, "move", id, loc); err != nil {
			return err
		}
		if _, err := conn.Move(imap.UIDSetNum(loc.uid), folder).Wait(); err != nil {
			return fmt.Errorf("moving uid %d to %s: %w", loc.uid, folder, err)
		}
		delete(c.index, id)

		// Synthetic ids encode the old location; the next sync of the
		// destination rediscovers the message under a new id.
		if _, ok := parseSyntheticID(id); ok {
			return nil
		}
		return c.relocate(conn, id, folder)
	})
}

// relocate finds id in folder by its Message-ID header.
func (c *Client) relocate(conn *imapclient.Client, id, folder string) error {
	sel, err := c.selectFolder(conn, folder, true)
	if err != nil {
		return err
	}
	data, err := conn.UIDSearch(&imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Message-ID", Value: id}},
	}, nil).Wait()
	if err != nil {
		return fmt.Errorf("searching %s for moved message: %w", folder, err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		c.logger.Debug("moved message not found in destination", logging.Folder(folder), logging.MessageID(id))
		return nil
	}
	c.index[id] = location{folder: folder, uidValidity: sel.UIDValidity, uid: uids[len(uids)-1]}
	return nil
}

// Delete flags the message \Deleted and expunges it.
func (c *Client) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	loc, err := c.locate("delete", id)
	if err != nil {
		return err
	}

	return c.do(ctx, "delete", id, func(conn *imapclient.Client) error {
		if err := c.selectLocation(conn, "delete", id, loc); err != nil {
			return err
		}
		uids := imap.UIDSetNum(loc.uid)
		err := conn.Store(uids, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagDeleted},
		}, nil).Close()
		if err != nil {
			return fmt.Errorf("flagging uid %d deleted: %w", loc.uid, err)
		}

		if conn.Caps().Has(imap.CapUIDPlus) {
			err = conn.UIDExpunge(uids).Close()
		} else {
			err = conn.Expunge().Close()
		}
		if err != nil {
			return fmt.Errorf("expunging uid %d: %w", loc.uid, err)
		}
		delete(c.index, id)
		return nil
	})
}
