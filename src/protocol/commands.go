package protocol

// Command names. They must fit in CommandSize bytes.
const (
	CmdVersion    = "version"
	CmdVerAck     = "verack"
	CmdGetAddr    = "getaddr"
	CmdAddr       = "addr"
	CmdInv        = "inv"
	CmdGetData    = "getdata"
	CmdTx         = "tx"
	CmdBlock      = "block"
	CmdGetBlocks  = "getblocks"
	CmdGetHeaders = "getheaders"
	CmdHeaders    = "headers"
	CmdPing       = "ping"
	CmdPong       = "pong"
	CmdConsensus  = "consensus"
)

// KnownCommand reports whether cmd is one of the commands above.
func KnownCommand(cmd string) bool {
	switch cmd {
	case CmdVersion, CmdVerAck, CmdGetAddr, CmdAddr, CmdInv, CmdGetData,
		CmdTx, CmdBlock, CmdGetBlocks, CmdGetHeaders, CmdHeaders, CmdPing,
		CmdPong, CmdConsensus:
		return true
	}
	return false
}
