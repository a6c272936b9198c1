package mailboxtest

import (
	"fmt"
	"time"

	"github.com/teemow/mailmirror/internal/mailbox"
)

// BaseTime is the reference instant fixtures are dated from.
var BaseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Msg builds a message in folder dated n hours after BaseTime.
func Msg(id, folder string, hours int) *mailbox.Message {
	return &mailbox.Message{
		ID:       id,
		FolderID: folder,
		From:     mailbox.Address{Name: "Sender " + id, Email: fmt.Sprintf("sender%s@example.com", id)},
		To:       []mailbox.Address{{Email: "me@example.com"}},
		Subject:  "Subject " + id,
		Date:     BaseTime.Add(time.Duration(hours) * time.Hour),
		Size:     1024,
	}
}
