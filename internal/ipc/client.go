package ipc

import (
	"context"
	"net/http"
	"time"

	"github.com/jayminwest/overstory/internal/events"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/session"
)

// Client implements SessionStore, MailStore, and EventRecorder by calling
// a Server over a Unix domain socket. It is the collaborator cmd/overstory
// substitutes for the stores cmd/overstoryd holds open directly.
type Client struct {
	http *http.Client
	base string
}

// NewClient builds a Client that dials socketPath for every call.
func NewClient(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{DialContext: dialer(socketPath)},
			Timeout:   30 * time.Second,
		},
		base: "http://unix",
	}
}

func (c *Client) call(path string, req, resp interface{}) error {
	return post(context.Background(), c.http, c.base, path, req, resp)
}

func (c *Client) GetByName(name string) (*session.Session, error) {
	var sess *session.Session
	if err := c.call("/session/getByName", sessionNameReq{Name: name}, &sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (c *Client) GetByRun(runID string) ([]*session.Session, error) {
	var all []*session.Session
	if err := c.call("/session/getByRun", sessionRunReq{RunID: runID}, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (c *Client) GetActive() ([]*session.Session, error) {
	var all []*session.Session
	if err := c.call("/session/getActive", struct{}{}, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (c *Client) GetAll() ([]*session.Session, error) {
	var all []*session.Session
	if err := c.call("/session/getAll", struct{}{}, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (c *Client) UpdateLastActivity(name string, now time.Time) error {
	return c.call("/session/updateLastActivity", sessionTouchReq{Name: name, Now: now}, nil)
}

func (c *Client) Send(from, to, subject, body string, typ mail.Type, priority mail.Priority, payload, threadID *string) ([]string, error) {
	var ids []string
	req := mailSendReq{From: from, To: to, Subject: subject, Body: body, Type: typ, Priority: priority, Payload: payload, ThreadID: threadID}
	if err := c.call("/mail/send", req, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *Client) List(f mail.Filter) ([]*mail.Message, error) {
	var msgs []*mail.Message
	if err := c.call("/mail/list", mailListReq{Filter: f}, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) Get(id string) (*mail.Message, error) {
	var msg *mail.Message
	if err := c.call("/mail/get", mailIDReq{ID: id}, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *Client) Reply(id, body, from string) (*mail.Message, error) {
	var reply *mail.Message
	req := mailReplyReq{ID: id, Body: body, From: from}
	if err := c.call("/mail/reply", req, &reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) Check(agent string) ([]*mail.Message, error) {
	var msgs []*mail.Message
	if err := c.call("/mail/check", mailAgentReq{Agent: agent}, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) Purge(f mail.PurgeFilter) (int, error) {
	var resp mailPurgeResp
	if err := c.call("/mail/purge", mailPurgeReq{Filter: f}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client) Record(ev events.Event) error {
	return c.call("/events/record", eventsRecordReq{Event: ev}, nil)
}
