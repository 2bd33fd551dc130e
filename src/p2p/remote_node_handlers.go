package p2p

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/peers"
	"github.com/mosaicnetworks/ledgerd/src/protocol"
)

// handleMessage processes one message from the peer. A returned error closes
// the connection.
func (r *RemoteNode) handleMessage(msg *protocol.Message) error {
	payload, err := protocol.DecodePayload(msg)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownCommand) {
			r.logger.WithField("command", msg.Command).Debug("Ignoring unknown command")
			return nil
		}
		return err
	}

	switch r.getState() {
	case VersionSent:
		if msg.Command != protocol.CmdVersion {
			return protocol.NewProtocolErr(protocol.HandshakeViolation,
				"%s before version", msg.Command)
		}
		return r.handleVersion(payload.(*protocol.VersionPayload))
	case VersionReceived:
		if msg.Command != protocol.CmdVerAck {
			return protocol.NewProtocolErr(protocol.HandshakeViolation,
				"%s before verack", msg.Command)
		}
		return r.handleVerAck()
	case Ready:
		return r.handleReady(msg.Command, payload)
	default:
		return nil
	}
}

func (r *RemoteNode) handleVersion(v *protocol.VersionPayload) error {
	if v.Nonce == r.local.nonce {
		return ErrSelfConnection
	}

	r.l.Lock()
	r.version = v
	if r.endpoint.IsZero() && v.Port != 0 {
		r.endpoint = peers.Endpoint{Host: r.remoteHost, Port: v.Port}
	}
	r.l.Unlock()

	r.updateHeight(v.StartHeight)

	if err := r.local.peer.onHandshake(r); err != nil {
		return err
	}

	if !r.send(protocol.CmdVerAck, nil) {
		return errors.New("sending verack")
	}
	r.setState(VersionReceived)

	r.logger.WithFields(logrus.Fields{
		"user_agent": v.UserAgent,
		"height":     v.StartHeight,
		"port":       v.Port,
	}).Debug("Version received")

	return nil
}

func (r *RemoteNode) handleVerAck() error {
	r.setState(Ready)
	r.local.tasks.Register(r)

	if r.local.peer.wantsAddresses() {
		r.RequestAddresses()
	}

	r.logger.WithField("height", r.Height()).Info("Peer ready")
	return nil
}

func (r *RemoteNode) handleReady(cmd string, payload interface{}) error {
	switch cmd {
	case protocol.CmdVersion, protocol.CmdVerAck:
		return protocol.NewProtocolErr(protocol.HandshakeViolation, "repeated %s", cmd)

	case protocol.CmdGetAddr:
		r.handleGetAddr()

	case protocol.CmdAddr:
		r.handleAddr(payload.(*protocol.AddrPayload))

	case protocol.CmdInv:
		r.handleInv(payload.(*protocol.InvPayload))

	case protocol.CmdGetData:
		r.handleGetData(payload.(*protocol.InvPayload))

	case protocol.CmdTx:
		r.handleInventory(ledger.TxInventory(payload.(*ledger.Transaction)))

	case protocol.CmdBlock:
		block := payload.(*ledger.Block)
		r.updateHeight(block.Index())
		r.handleInventory(ledger.BlockInventory(block))

	case protocol.CmdConsensus:
		r.handleInventory(ledger.ConsensusInventory(payload.(*ledger.ConsensusPayload)))

	case protocol.CmdGetBlocks:
		p := payload.(*protocol.GetBlocksPayload)
		hashes := r.local.chain.BlockHashesFrom(p.HashStart, p.HashStop, protocol.MaxInvHashes)
		if len(hashes) > 0 {
			r.known.Add(hashes...)
			r.send(protocol.CmdInv, &protocol.InvPayload{Type: ledger.InvBlock, Hashes: hashes})
		}

	case protocol.CmdGetHeaders:
		p := payload.(*protocol.GetBlocksPayload)
		headers := r.local.chain.HeadersFrom(p.HashStart, p.HashStop, protocol.MaxHeadersCount)
		r.send(protocol.CmdHeaders, &protocol.HeadersPayload{Headers: headers})

	case protocol.CmdHeaders:
		r.handleHeaders(payload.(*protocol.HeadersPayload))

	case protocol.CmdPing:
		p := payload.(*protocol.PingPayload)
		if r.updateHeight(p.LastBlockIndex) {
			r.local.tasks.UpdateHeight(r)
		}
		r.sendPing(protocol.CmdPong, p.Nonce)

	case protocol.CmdPong:
		p := payload.(*protocol.PingPayload)
		if r.updateHeight(p.LastBlockIndex) {
			r.local.tasks.UpdateHeight(r)
		}
	}

	return nil
}

func (r *RemoteNode) handleGetAddr() {
	eps := r.local.peer.Addresses(protocol.MaxAddrCount, r.Endpoint())

	addrs := make([]protocol.NetworkAddress, 0, len(eps))
	now := r.local.now().Unix()
	for _, ep := range eps {
		addrs = append(addrs, protocol.NetworkAddress{
			Timestamp: now,
			Services:  protocol.ServiceFullNode,
			Address:   ep.Host,
			Port:      ep.Port,
		})
	}

	r.send(protocol.CmdAddr, &protocol.AddrPayload{Addresses: addrs})
}

func (r *RemoteNode) handleAddr(p *protocol.AddrPayload) {
	eps := make([]peers.Endpoint, 0, len(p.Addresses))
	for _, a := range p.Addresses {
		ep, err := peers.ParseEndpoint(a.Endpoint())
		if err != nil {
			continue
		}
		eps = append(eps, ep)
	}
	r.local.peer.AddCandidates(eps)
}

func (r *RemoteNode) handleInv(p *protocol.InvPayload) {
	r.known.Add(p.Hashes...)

	unknown := r.local.filterUnknown(p.Type, p.Hashes)
	if len(unknown) == 0 {
		return
	}

	r.local.tasks.NewTasks(r, p.Type, unknown)
}

func (r *RemoteNode) handleGetData(p *protocol.InvPayload) {
	for _, h := range p.Hashes {
		inv, ok := r.local.lookupInventory(p.Type, h)
		if !ok {
			continue
		}
		r.sendInventory(inv)
	}
}

func (r *RemoteNode) handleInventory(inv ledger.Inventory) {
	hash := inv.Hash()
	r.known.Add(hash)
	r.local.tasks.Completed(r, inv.Type, hash)
	r.local.relayFrom(r, inv)
}

func (r *RemoteNode) handleHeaders(p *protocol.HeadersPayload) {
	if n := len(p.Headers); n > 0 {
		if r.updateHeight(p.Headers[n-1].Index) {
			r.local.tasks.UpdateHeight(r)
		}
	}

	full := len(p.Headers) == protocol.MaxHeadersCount
	err := r.local.chain.ImportHeaders(p.Headers, func(added int, err error) {
		r.local.tasks.HeadersImported(r, added, full, err)
	})
	if err != nil {
		r.local.tasks.HeadersImported(r, 0, false, err)
	}
}
