package imap

import (
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"hspack/internal"
	"hspack/internal/config"
)

type Connector struct {
	host     string
	port     int
	secure   bool
	user     string
	password string
	markSeen bool
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("IMAP_HOST", cfg.IMAPHost); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_USER", cfg.IMAPUser); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_PASSWORD", cfg.IMAPPassword); err != nil {
		return nil, err
	}

	return &Connector{
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		markSeen: cfg.IMAPMarkSeen,
	}, nil
}

func (c *Connector) FetchInbox(label string, max int) ([]internal.FetchedMailMessage, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	var client *imapclient.Client
	var err error
	if c.secure {
		client, err = imapclient.DialTLS(addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.Dial(addr)
	}
	if err != nil {
		return nil, err
	}
	defer client.Logout()

	if err := client.Login(c.user, c.password); err != nil {
		return nil, err
	}

	_, err = client.Select(label, false)
	if err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := client.Search(criteria)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if len(ids) > max {
		ids = ids[len(ids)-max:]
	}

	// First pass fetches structure only; full bodies are pulled just for
	// messages that actually carry a document attachment. Skips downloading
	// plain replies and newsletters.
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	scanItems := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, imap.FetchBodyStructure}
	scanned := make(chan *imap.Message, len(ids))
	scanDone := make(chan error, 1)
	go func() { scanDone <- client.Fetch(seqset, scanItems, scanned) }()

	candidates := map[uint32]*imap.Message{}
	for msg := range scanned {
		if msg == nil || !hasDocumentAttachment(msg.BodyStructure) {
			continue
		}
		candidates[msg.SeqNum] = msg
	}
	if err := <-scanDone; err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	bodySet := new(imap.SeqSet)
	for seqNum := range candidates {
		bodySet.AddNum(seqNum)
	}

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem()}
	messages := make(chan *imap.Message, len(candidates))
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- client.Fetch(bodySet, items, messages) }()

	out := make([]internal.FetchedMailMessage, 0, len(candidates))
	for bodyMsg := range messages {
		if bodyMsg == nil {
			continue
		}
		msg, ok := candidates[bodyMsg.SeqNum]
		if !ok {
			continue
		}
		body := bodyMsg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}

		messageID := ""
		subject := ""
		from := ""
		if msg.Envelope != nil {
			messageID = msg.Envelope.MessageId
			subject = msg.Envelope.Subject
			from = formatAddresses(msg.Envelope.From)
		}
		if messageID == "" {
			messageID = fmt.Sprintf("imap-%d", msg.Uid)
		}

		received := time.Now().UTC().Format(time.RFC3339)
		if !msg.InternalDate.IsZero() {
			received = msg.InternalDate.UTC().Format(time.RFC3339)
		}

		out = append(out, internal.FetchedMailMessage{
			Provider:   "imap",
			MessageID:  messageID,
			Subject:    subject,
			From:       from,
			ReceivedAt: received,
			Raw:        raw,
		})

		if c.markSeen {
			single := new(imap.SeqSet)
			single.AddNum(msg.SeqNum)
			item := imap.FormatFlagsOp(imap.AddFlags, true)
			flags := []interface{}{imap.SeenFlag}
			if err := client.Store(single, item, flags, nil); err != nil {
				return nil, err
			}
		}
	}

	if err := <-fetchDone; err != nil {
		return nil, err
	}

	return out, nil
}

// hasDocumentAttachment walks a BODYSTRUCTURE looking for a part whose
// filename carries an extension the extraction pipeline supports.
func hasDocumentAttachment(bs *imap.BodyStructure) bool {
	if bs == nil {
		return false
	}
	name := bs.Params["name"]
	if fn, ok := bs.DispositionParams["filename"]; ok && fn != "" {
		name = fn
	}
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".pdf") || strings.HasSuffix(lower, ".docx") || strings.HasSuffix(lower, ".xlsx") {
		return true
	}
	for _, part := range bs.Parts {
		if hasDocumentAttachment(part) {
			return true
		}
	}
	return false
}

func formatAddresses(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		email := strings.Trim(strings.Join([]string{a.MailboxName, a.HostName}, "@"), "@")
		if a.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, email))
		} else {
			parts = append(parts, email)
		}
	}
	return strings.Join(parts, ", ")
}
