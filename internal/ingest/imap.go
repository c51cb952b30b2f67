package ingest

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/ngs-project/noisegate/internal/errs"
)

// IMAPConfig holds the connection details for one IMAP account.
type IMAPConfig struct {
	Host     string
	Port     int
	UseTLS   bool
	User     string
	Password string
}

// IMAPProvider fetches new messages over IMAP, mirroring the original
// poller's UID-search-then-fetch cycle.
type IMAPProvider struct {
	cfg IMAPConfig
}

// NewIMAPProvider builds a Provider backed by an IMAP account. A fresh
// connection is opened per Fetch call rather than held open across
// polls, matching the original poller's per-cycle connect/logout.
func NewIMAPProvider(cfg IMAPConfig) *IMAPProvider {
	return &IMAPProvider{cfg: cfg}
}

func (p *IMAPProvider) dial(ctx context.Context) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	var c *imapclient.Client
	var err error
	if p.cfg.UseTLS {
		c, err = imapclient.DialTLS(addr, &imapclient.Options{TLSConfig: &tls.Config{ServerName: p.cfg.Host}})
	} else {
		c, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, errs.Transient("imap.dial", err)
	}

	if err := c.Login(p.cfg.User, p.cfg.Password).Wait(); err != nil {
		c.Close()
		return nil, errs.Transient("imap.login", err)
	}
	return c, nil
}

// Fetch implements Provider.
func (p *IMAPProvider) Fetch(ctx context.Context, folder string, sinceUID uint64, backfillDays int) ([]FetchedMessage, error) {
	c, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	defer c.Logout()

	if _, err := c.Select(folder, nil).Wait(); err != nil {
		return nil, errs.Transient("imap.select", err)
	}

	criteria := &imap.SearchCriteria{}
	if sinceUID > 0 {
		criteria.UID = []imap.UIDSet{{imap.UIDRange{Start: imap.UID(sinceUID + 1), Stop: 0}}}
	} else {
		criteria.Since = time.Now().AddDate(0, 0, -backfillDays)
	}

	searchData, err := c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, errs.Transient("imap.search", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	var uidSet imap.UIDSet
	for _, u := range uids {
		if uint64(u) <= sinceUID {
			continue
		}
		uidSet = append(uidSet, imap.UIDRange{Start: u, Stop: u})
	}
	if len(uidSet) == 0 {
		return nil, nil
	}

	fetchCmd := c.Fetch(uidSet, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	})

	var out []FetchedMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		var uid uint64
		var raw []byte
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch v := item.(type) {
			case imapclient.FetchItemDataUID:
				uid = uint64(v.UID)
			case imapclient.FetchItemDataBodySection:
				b, err := io.ReadAll(v.Literal)
				if err != nil {
					return nil, errs.Transient("imap.read_body", err)
				}
				raw = b
			}
		}
		if uid > 0 && raw != nil {
			out = append(out, FetchedMessage{Folder: folder, UID: uid, Raw: raw})
		}
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, errs.Transient("imap.fetch", err)
	}

	return out, nil
}
