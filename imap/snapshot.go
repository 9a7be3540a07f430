// Package imap snapshots an IMAP folder into an mbox store so it can be
// archived like a converted PST file.
package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mail-archiver/filter"
)

const defaultSender = "MAILER-DAEMON"

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
}

// Snapshotter downloads every message of a folder into an mbox file. It
// satisfies convert.Converter with the folder name as source.
type Snapshotter struct {
	opts   Options
	logger *slog.Logger
}

func NewSnapshotter(opts Options, logger *slog.Logger) (*Snapshotter, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	return &Snapshotter{opts: opts, logger: logger}, nil
}

// fetched is one downloaded message.
type fetched struct {
	Sender string
	Date   time.Time
	Seen   bool
	Raw    []byte
}

// Convert writes the folder named by source (or the configured folder when
// source is empty) to <outputDir>/<folder>.mbox.
func (s *Snapshotter) Convert(ctx context.Context, source, outputDir string) error {
	folder := source
	if folder == "" {
		folder = s.folder()
	}

	client, cleanup, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	messages, err := s.fetchAll(client, folder)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(outputDir, FileName(folder))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create mbox: %w", err)
	}
	if err := writeMbox(file, messages); err != nil {
		_ = file.Close()
		return fmt.Errorf("write mbox %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close mbox %s: %w", path, err)
	}

	if s.logger != nil {
		s.logger.Info("imap folder snapshot written", "folder", folder, "messages", len(messages), "path", path)
	}
	return nil
}

func (s *Snapshotter) fetchAll(client *imapclient.Client, folder string) ([]fetched, error) {
	selected, err := client.Select(folder, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}
	if selected.NumMessages == 0 {
		return nil, nil
	}

	searchData, err := client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", folder, err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imapv2.FetchItemBodySection{Peek: true}
	fetchOpts := &imapv2.FetchOptions{
		UID:          true,
		Flags:        true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imapv2.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imapv2.UIDSetNum(uids...), fetchOpts)

	var messages []fetched
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			_ = fetchCmd.Close()
			return nil, fmt.Errorf("fetch %s: %w", folder, err)
		}
		if len(buf.BodySection) == 0 {
			continue
		}

		item := fetched{
			Sender: defaultSender,
			Date:   buf.InternalDate,
			Raw:    buf.BodySection[0].Bytes,
		}
		if buf.Envelope != nil && len(buf.Envelope.From) > 0 {
			if addr := buf.Envelope.From[0].Addr(); addr != "" {
				item.Sender = addr
			}
		}
		for _, flag := range buf.Flags {
			if flag == imapv2.FlagSeen {
				item.Seen = true
			}
		}
		messages = append(messages, item)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", folder, err)
	}
	return messages, nil
}

// writeMbox appends messages to w in mbox format. Messages flagged as seen
// get a "Status: RO" header unless they already carry a Status header.
func writeMbox(w io.Writer, messages []fetched) error {
	mw := mboxlib.NewWriter(w)
	for i, msg := range messages {
		date := msg.Date
		if date.IsZero() {
			date = time.Unix(0, 0).UTC()
		}
		sender := msg.Sender
		if sender == "" {
			sender = defaultSender
		}

		out, err := mw.CreateMessage(sender, date)
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		raw := msg.Raw
		if msg.Seen {
			raw = withSeenStatus(raw)
		}
		if _, err := out.Write(raw); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return mw.Close()
}

var statusHeader = regexp.MustCompile(`(?im)^status:`)

func withSeenStatus(raw []byte) []byte {
	header, _ := filter.SplitRawMessage(raw)
	if statusHeader.Match(header) {
		return raw
	}
	eol := "\n"
	if bytes.Contains(header, []byte("\r\n")) {
		eol = "\r\n"
	}
	return append([]byte("Status: RO"+eol), raw...)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName maps a folder name to the mbox file written for it.
func FileName(folder string) string {
	name := unsafeName.ReplaceAllString(folder, "_")
	if name == "" || name == "." || name == ".." {
		name = "mailbox"
	}
	return name + ".mbox"
}

func (s *Snapshotter) folder() string {
	if s.opts.Folder == "" {
		return "INBOX"
	}
	return s.opts.Folder
}

func (s *Snapshotter) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	options := &imapclient.Options{}

	if s.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         s.opts.Host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if s.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("imap connection established", "address", address, "user", s.opts.Username, "tls", s.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil && s.logger != nil {
				s.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil && s.logger != nil {
			s.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}
