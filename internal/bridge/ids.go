package bridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/teemow/mailmirror/internal/mailbox"
)

// location is where a message lives on the server.
type location struct {
	folder      string
	uidValidity uint32
	uid         imap.UID
}

func syntheticID(folder string, uidValidity uint32, uid imap.UID) string {
	return fmt.Sprintf("%s:%d:%d", folder, uidValidity, uid)
}

// parseSyntheticID reverses syntheticID. Folder names may contain colons,
// so the numeric parts are taken from the right.
func parseSyntheticID(id string) (location, bool) {
	i := strings.LastIndexByte(id, ':')
	if i <= 0 {
		return location{}, false
	}
	uid, err := strconv.ParseUint(id[i+1:], 10, 32)
	if err != nil || uid == 0 {
		return location{}, false
	}
	rest := id[:i]
	j := strings.LastIndexByte(rest, ':')
	if j <= 0 {
		return location{}, false
	}
	validity, err := strconv.ParseUint(rest[j+1:], 10, 32)
	if err != nil {
		return location{}, false
	}
	return location{folder: rest[:j], uidValidity: uint32(validity), uid: imap.UID(uid)}, true
}

// normalizeMessageID strips the angle brackets and whitespace around a
// Message-ID header value.
func normalizeMessageID(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

func formatCursor(uidValidity uint32, lastUID imap.UID) mailbox.Cursor {
	return mailbox.Cursor(fmt.Sprintf("%d:%d", uidValidity, lastUID))
}

func parseCursor(c mailbox.Cursor) (uidValidity uint32, lastUID imap.UID, ok bool) {
	v, u, found := strings.Cut(string(c), ":")
	if !found {
		return 0, 0, false
	}
	validity, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, 0, false
	}
	last, err := strconv.ParseUint(u, 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(validity), imap.UID(last), true
}

// index maps message ids to their server location.
type index map[string]location

func (ix index) forgetFolder(folder string) {
	for id, loc := range ix {
		if loc.folder == folder {
			delete(ix, id)
		}
	}
}

// assign records loc under id and returns the id the message is cached
// under. A Message-ID already held by another location, such as a copy in
// Sent of mail to self or a duplicate delivery, falls back to the synthetic
// id so every server copy keeps its own cache entry.
func (ix index) assign(id string, loc location) string {
	if held, ok := ix[id]; ok && held != loc {
		id = syntheticID(loc.folder, loc.uidValidity, loc.uid)
	}
	ix[id] = loc
	return id
}

// excluded reports whether folder or one of its parents is listed.
func excluded(folder string, delim rune, list []string) bool {
	for _, ex := range list {
		if strings.EqualFold(folder, ex) {
			return true
		}
		if delim != 0 && len(folder) > len(ex) && strings.EqualFold(folder[:len(ex)], ex) &&
			strings.HasPrefix(folder[len(ex):], string(delim)) {
			return true
		}
	}
	return false
}
