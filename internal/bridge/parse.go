package bridge

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/teemow/mailmirror/internal/mailbox"
)

const snippetLength = 200

// headerOptions fetches everything a cached message needs except the body.
func headerOptions() *imap.FetchOptions {
	return &imap.FetchOptions{
		UID:           true,
		Flags:         true,
		Envelope:      true,
		InternalDate:  true,
		RFC822Size:    true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
	}
}

func toMessage(folder string, uidValidity uint32, buf *imapclient.FetchMessageBuffer) *mailbox.Message {
	msg := &mailbox.Message{
		FolderID: folder,
		Date:     buf.InternalDate,
		Size:     buf.RFC822Size,
	}

	var messageID string
	if env := buf.Envelope; env != nil {
		messageID = normalizeMessageID(env.MessageID)
		msg.Subject = env.Subject
		if !env.Date.IsZero() {
			msg.Date = env.Date
		}
		if from := toAddresses(env.From); len(from) > 0 {
			msg.From = from[0]
		}
		msg.To = toAddresses(env.To)
		msg.Cc = toAddresses(env.Cc)
	}
	msg.ID = messageID
	if msg.ID == "" {
		msg.ID = syntheticID(folder, uidValidity, buf.UID)
	}

	for _, f := range buf.Flags {
		switch f {
		case imap.FlagSeen:
			msg.Read = true
		case imap.FlagFlagged:
			msg.Starred = true
		}
	}

	if buf.BodyStructure != nil {
		msg.Attachments = attachmentsOf(buf.BodyStructure)
	}
	return msg
}

func toAddresses(list []imap.Address) []mailbox.Address {
	var out []mailbox.Address
	for _, a := range list {
		addr := a.Addr()
		if addr == "" {
			continue
		}
		out = append(out, mailbox.Address{Name: a.Name, Email: addr})
	}
	return out
}

// attachmentsOf lists the attachment parts of a BODYSTRUCTURE. A part is an
// attachment when its disposition says so or when it carries a filename.
func attachmentsOf(bs imap.BodyStructure) []mailbox.Attachment {
	var out []mailbox.Attachment
	bs.Walk(func(_ []int, part imap.BodyStructure) bool {
		single, ok := part.(*imap.BodyStructureSinglePart)
		if !ok {
			return true
		}

		var disposition string
		filename := param(single.Params, "name")
		if ext := single.Extended; ext != nil && ext.Disposition != nil {
			disposition = strings.ToLower(ext.Disposition.Value)
			if name := param(ext.Disposition.Params, "filename"); name != "" {
				filename = name
			}
		}
		if disposition != "attachment" && filename == "" {
			return true
		}

		out = append(out, mailbox.Attachment{
			Filename:    filename,
			ContentType: strings.ToLower(single.Type + "/" + single.Subtype),
			Size:        int64(single.Size),
		})
		return true
	})
	return out
}

func param(params map[string]string, key string) string {
	for k, v := range params {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// parseBody splits a raw RFC 5322 message into its text and HTML bodies and
// the attachment manifest. Unparseable input is returned as plain text.
func parseBody(raw []byte) (*mailbox.Body, []mailbox.Attachment) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return &mailbox.Body{Text: string(raw)}, nil
	}
	defer mr.Close()

	body := &mailbox.Body{}
	var atts []mailbox.Attachment
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && body.Text == "":
				body.Text = string(data)
			case strings.HasPrefix(contentType, "text/html") && body.HTML == "":
				body.HTML = string(data)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			n, err := io.Copy(io.Discard, part.Body)
			if err != nil {
				continue
			}
			atts = append(atts, mailbox.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        n,
			})
		}
	}
	return body, atts
}

// snippet returns the first snippetLength runes of text with whitespace
// collapsed.
func snippet(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(s) <= snippetLength {
		return s
	}
	r := []rune(s)
	return string(r[:snippetLength]) + "…"
}
