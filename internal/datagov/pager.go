package datagov

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pager walks a resource one page at a time in offset order 0, L, 2L, ...
//
// It stops after a page shorter than L, an empty or absent records array, or
// once the rows seen reach the total the API reported. A Pager is not
// restartable; call Client.Pages for a new walk. Nothing is fetched ahead of
// the caller.
//
//	p := client.Pages()
//	for p.Next(ctx) {
//		handle(p.Records())
//	}
//	if err := p.Err(); err != nil { ... }
type Pager struct {
	client *Client

	offset     int
	pageOffset int
	records    []json.RawMessage
	requests   int
	done       bool
	err        error
}

// Next fetches the next page and reports whether one is available. It
// returns false at the end of the resource or on error; check Err.
func (p *Pager) Next(ctx context.Context) bool {
	p.records = nil
	if p.done || p.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		p.err = eris.Wrap(err, "datagov: walk cancelled")
		p.done = true
		return false
	}

	limit := p.client.cfg.PageSize
	offset := p.offset

	var resp Response
	p.requests++
	if err := p.client.f.GetJSON(ctx, p.client.PageURL(offset), &resp); err != nil {
		p.err = eris.Wrapf(err, "datagov: fetch page at offset %d", offset)
		p.done = true
		return false
	}

	n := len(resp.Records)
	zap.L().Debug("datagov: page fetched",
		zap.Int("offset", offset),
		zap.Int("records", n),
		zap.Int("total", resp.Total.Value),
	)

	if n == 0 {
		p.done = true
		return false
	}

	p.records = resp.Records
	p.pageOffset = offset
	p.offset = offset + limit

	switch {
	case n < limit:
		p.done = true
	case resp.Total.Valid && offset+n >= resp.Total.Value:
		p.done = true
	}
	return true
}

// Records returns the rows of the current page.
func (p *Pager) Records() []json.RawMessage { return p.records }

// Offset returns the offset the current page was requested at.
func (p *Pager) Offset() int { return p.pageOffset }

// Requests returns the number of page requests issued so far.
func (p *Pager) Requests() int { return p.requests }

// Err returns the error that ended the walk, if any.
func (p *Pager) Err() error { return p.err }
