package analytics

import "time"

// FolderStats is the message count of one folder.
type FolderStats struct {
	Folder string `json:"folder"`
	Total  int    `json:"total"`
	Unread int    `json:"unread"`
}

// Stats is the mailbox-wide totals snapshot.
type Stats struct {
	TotalMessages   int           `json:"totalMessages"`
	Unread          int           `json:"unread"`
	Starred         int           `json:"starred"`
	WithAttachments int           `json:"withAttachments"`
	Contacts        int           `json:"contacts"`
	Folders         []FolderStats `json:"folders"`
}

// DayVolume is the traffic of one calendar day (UTC).
type DayVolume struct {
	Date     string `json:"date"`
	Received int    `json:"received"`
	Sent     int    `json:"sent"`
	Total    int    `json:"total"`
}

// Contact is the interaction summary for one normalized address.
type Contact struct {
	Address         string    `json:"address"`
	Name            string    `json:"name,omitempty"`
	Sent            int       `json:"sent"`
	Received        int       `json:"received"`
	Total           int       `json:"total"`
	LastInteraction time.Time `json:"lastInteraction"`
}

// Report is the combined analytics view.
type Report struct {
	Stats            Stats      `json:"stats"`
	WindowDays       int        `json:"windowDays"`
	ReceivedInWindow int        `json:"receivedInWindow"`
	SentInWindow     int        `json:"sentInWindow"`
	AveragePerDay    float64    `json:"averagePerDay"`
	BusiestDay       *DayVolume `json:"busiestDay,omitempty"`
	TopSenders       []Contact  `json:"topSenders"`
	TopRecipients    []Contact  `json:"topRecipients"`
}
