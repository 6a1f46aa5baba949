package wire

type (
	// PeerID defines peer ID.
	PeerID [32]byte

	// CallType selects the call variant interpreting the message.
	CallType uint64
)

// Call types.
const (
	CallTypeRegular CallType = iota + 1
	CallTypeNoWait
	CallTypeSystem
)

// Header is the name-value pair attached to the message.
type Header struct {
	Name  string
	Value string
}

// Message is the envelope of every call exchanged between peers.
type Message struct {
	CallType  CallType
	RelatedID uint64
	Service   string
	Method    string
	Arguments []byte
	Headers   []Header
}

// Handshake is the first message exchanged between peers when connecting.
type Handshake struct {
	PeerID PeerID
	Index  uint64
}

// Ok completes the call with result.
type Ok struct {
	Result []byte
}

// Error completes the call with error.
type Error struct {
	Kind    string
	Message string
}

// KeepAlive confirms that objects are still in use.
type KeepAlive struct {
	ObjectIDs []uint64
}

// Release reports objects which are gone.
type Release struct {
	ObjectIDs []uint64
}

// Ack acknowledges stream items below NextIndex.
type Ack struct {
	NextIndex uint64
	Reset     bool
}

// Item carries single stream item.
type Item struct {
	Index uint64
	Value []byte
}

// Batch carries consecutive stream items starting at Index.
type Batch struct {
	Index  uint64
	Values [][]byte
}

// End terminates the stream at Index. Empty Error means normal completion.
type End struct {
	Index uint64
	Error Error
}
