package client

import (
	"errors"

	"tiledeck/internal/protocol"
)

// ErrNotConnected is returned by sends while no connection is up.
var ErrNotConnected = errors.New("not connected")

// handle routes one inbound message. Unknown types are ignored; nothing a
// single message does may take down the read loop.
func (c *Client) handle(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeHello:
		layout := protocol.Layout{}
		if msg.Layout != nil {
			layout = msg.Layout.Normalize()
		}
		if c.OnHello != nil {
			c.OnHello(msg.Lang, msg.PCName, msg.Actions, layout)
		}

	case protocol.TypeLayout:
		if msg.Layout != nil && c.OnLayout != nil {
			c.OnLayout(msg.Layout.Normalize())
		}

	case protocol.TypeLang:
		if c.OnLang != nil {
			c.OnLang(msg.Lang)
		}

	case protocol.TypeMetrics:
		if c.OnMetrics != nil {
			c.OnMetrics(msg.Metrics)
		}

	case protocol.TypeFileStart:
		if msg.ID == "" {
			return
		}
		if err := c.inbox.Start(msg.ID, msg.Name); err != nil {
			c.logger.Printf("file start %s: %v", msg.ID, err)
		}

	case protocol.TypeFileChunk:
		c.inbox.Chunk(msg.ID, msg.SeqValue(), msg.Data)

	case protocol.TypeFileEnd:
		c.inbox.End(msg.ID)

	case protocol.TypePCFileOffer:
		c.handleOffer(msg)

	case protocol.TypePCFileBegin:
		if msg.ID == "" {
			return
		}
		c.mu.Lock()
		name := c.offeredNames[msg.ID]
		delete(c.offeredNames, msg.ID)
		c.mu.Unlock()
		if err := c.inbox.Start(msg.ID, name); err != nil {
			c.logger.Printf("file begin %s: %v", msg.ID, err)
		}

	case protocol.TypePCFileChunk:
		c.inbox.Chunk(msg.ID, msg.SeqValue(), msg.Data)

	case protocol.TypePCFileEnd:
		c.inbox.End(msg.ID)

	default:
		// ignore
	}
}

// handleOffer answers a push offer. The decision callback may block on a
// user prompt, so it runs off the read loop; the host waits up to its
// decision timeout.
func (c *Client) handleOffer(msg *protocol.Message) {
	if msg.ID == "" {
		return
	}
	c.mu.Lock()
	c.offeredNames[msg.ID] = msg.Name
	c.mu.Unlock()

	id, name, size := msg.ID, msg.Name, msg.Size
	go func() {
		accepted := true
		if c.AcceptOffer != nil {
			accepted = c.AcceptOffer(name, size)
		}
		reply := protocol.TypePCFileAccept
		if !accepted {
			reply = protocol.TypePCFileReject
			c.mu.Lock()
			delete(c.offeredNames, id)
			c.mu.Unlock()
		}
		if err := c.send(&protocol.Message{Type: reply, ID: id}); err != nil {
			c.logger.Printf("offer reply %s: %v", id, err)
		}
	}()
}
