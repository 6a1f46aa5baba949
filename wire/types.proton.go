package wire

import (
	"reflect"
	"unsafe"

	"github.com/outofforest/proton"
	"github.com/outofforest/proton/helpers"
	"github.com/pkg/errors"
)

const (
	id10 uint64 = iota + 1
	id8
	id7
	id0
	id6
	id5
	id4
	id3
	id2
	id1
)

var _ proton.Marshaller = Marshaller{}

// NewMarshaller creates marshaller.
func NewMarshaller() Marshaller {
	return Marshaller{}
}

// Marshaller marshals and unmarshals messages.
type Marshaller struct {
}

// Messages returns list of the message types supported by marshaller.
func (m Marshaller) Messages() []any {
	return []any {
		Message{},
		Handshake{},
		Ok{},
		Error{},
		KeepAlive{},
		Release{},
		Ack{},
		Item{},
		Batch{},
		End{},
	}
}

// ID returns ID of message type.
func (m Marshaller) ID(msg any) (uint64, error) {
	switch msg.(type) {
	case *Message:
		return id10, nil
	case *Handshake:
		return id8, nil
	case *Ok:
		return id7, nil
	case *Error:
		return id0, nil
	case *KeepAlive:
		return id6, nil
	case *Release:
		return id5, nil
	case *Ack:
		return id4, nil
	case *Item:
		return id3, nil
	case *Batch:
		return id2, nil
	case *End:
		return id1, nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Size computes the size of marshalled message.
func (m Marshaller) Size(msg any) (uint64, error) {
	switch msg2 := msg.(type) {
	case *Message:
		return size10(msg2), nil
	case *Handshake:
		return size8(msg2), nil
	case *Ok:
		return size7(msg2), nil
	case *Error:
		return size0(msg2), nil
	case *KeepAlive:
		return size6(msg2), nil
	case *Release:
		return size5(msg2), nil
	case *Ack:
		return size4(msg2), nil
	case *Item:
		return size3(msg2), nil
	case *Batch:
		return size2(msg2), nil
	case *End:
		return size1(msg2), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Marshal marshals message.
func (m Marshaller) Marshal(msg any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMarshal(&retErr)

	switch msg2 := msg.(type) {
	case *Message:
		return id10, marshal10(msg2, buf), nil
	case *Handshake:
		return id8, marshal8(msg2, buf), nil
	case *Ok:
		return id7, marshal7(msg2, buf), nil
	case *Error:
		return id0, marshal0(msg2, buf), nil
	case *KeepAlive:
		return id6, marshal6(msg2, buf), nil
	case *Release:
		return id5, marshal5(msg2, buf), nil
	case *Ack:
		return id4, marshal4(msg2, buf), nil
	case *Item:
		return id3, marshal3(msg2, buf), nil
	case *Batch:
		return id2, marshal2(msg2, buf), nil
	case *End:
		return id1, marshal1(msg2, buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Unmarshal unmarshals message.
func (m Marshaller) Unmarshal(id uint64, buf []byte) (retMsg any, retSize uint64, retErr error) {
	defer helpers.RecoverUnmarshal(&retErr)

	switch id {
	case id10:
		msg := &Message{}
		return msg, unmarshal10(msg, buf), nil
	case id8:
		msg := &Handshake{}
		return msg, unmarshal8(msg, buf), nil
	case id7:
		msg := &Ok{}
		return msg, unmarshal7(msg, buf), nil
	case id0:
		msg := &Error{}
		return msg, unmarshal0(msg, buf), nil
	case id6:
		msg := &KeepAlive{}
		return msg, unmarshal6(msg, buf), nil
	case id5:
		msg := &Release{}
		return msg, unmarshal5(msg, buf), nil
	case id4:
		msg := &Ack{}
		return msg, unmarshal4(msg, buf), nil
	case id3:
		msg := &Item{}
		return msg, unmarshal3(msg, buf), nil
	case id2:
		msg := &Batch{}
		return msg, unmarshal2(msg, buf), nil
	case id1:
		msg := &End{}
		return msg, unmarshal1(msg, buf), nil
	default:
		return nil, 0, errors.Errorf("unknown ID %d", id)
	}
}

// MakePatch creates a patch.
func (m Marshaller) MakePatch(msgDst, msgSrc any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMakePatch(&retErr)

	switch msg2 := msgDst.(type) {
	case *Message:
		return id10, makePatch10(msg2, msgSrc.(*Message), buf), nil
	case *Handshake:
		return id8, makePatch8(msg2, msgSrc.(*Handshake), buf), nil
	case *Ok:
		return id7, makePatch7(msg2, msgSrc.(*Ok), buf), nil
	case *Error:
		return id0, makePatch0(msg2, msgSrc.(*Error), buf), nil
	case *KeepAlive:
		return id6, makePatch6(msg2, msgSrc.(*KeepAlive), buf), nil
	case *Release:
		return id5, makePatch5(msg2, msgSrc.(*Release), buf), nil
	case *Ack:
		return id4, makePatch4(msg2, msgSrc.(*Ack), buf), nil
	case *Item:
		return id3, makePatch3(msg2, msgSrc.(*Item), buf), nil
	case *Batch:
		return id2, makePatch2(msg2, msgSrc.(*Batch), buf), nil
	case *End:
		return id1, makePatch1(msg2, msgSrc.(*End), buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msgDst)
	}
}

// ApplyPatch applies patch.
func (m Marshaller) ApplyPatch(msg any, buf []byte) (retSize uint64, retErr error) {
	defer helpers.RecoverApplyPatch(&retErr)

	switch msg2 := msg.(type) {
	case *Message:
		return applyPatch10(msg2, buf), nil
	case *Handshake:
		return applyPatch8(msg2, buf), nil
	case *Ok:
		return applyPatch7(msg2, buf), nil
	case *Error:
		return applyPatch0(msg2, buf), nil
	case *KeepAlive:
		return applyPatch6(msg2, buf), nil
	case *Release:
		return applyPatch5(msg2, buf), nil
	case *Ack:
		return applyPatch4(msg2, buf), nil
	case *Item:
		return applyPatch3(msg2, buf), nil
	case *Batch:
		return applyPatch2(msg2, buf), nil
	case *End:
		return applyPatch1(msg2, buf), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

func size1(m *End) uint64 {
	var n uint64 = 1
	{
		// Index

		helpers.UInt64Size(m.Index, &n)
	}
	{
		// Error

		n += size0(&m.Error)
	}
	return n
}

func marshal1(m *End, b []byte) uint64 {
	var o uint64
	{
		// Index

		helpers.UInt64Marshal(m.Index, b, &o)
	}
	{
		// Error

		o += marshal0(&m.Error, b[o:])
	}

	return o
}

func unmarshal1(m *End, b []byte) uint64 {
	var o uint64
	{
		// Index

		helpers.UInt64Unmarshal(&m.Index, b, &o)
	}
	{
		// Error

		o += unmarshal0(&m.Error, b[o:])
	}

	return o
}

func makePatch1(m, mSrc *End, b []byte) uint64 {
	var o uint64 = 1
	{
		// Index

		if m.Index == mSrc.Index {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			helpers.UInt64Marshal(m.Index, b, &o)
		}
	}
	{
		// Error

		if reflect.DeepEqual(m.Error, mSrc.Error) {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			o += marshal0(&m.Error, b[o:])
		}
	}

	return o
}

func applyPatch1(m *End, b []byte) uint64 {
	var o uint64 = 1
	{
		// Index

		if b[0]&0x01 != 0 {
			helpers.UInt64Unmarshal(&m.Index, b, &o)
		}
	}
	{
		// Error

		if b[0]&0x02 != 0 {
			o += unmarshal0(&m.Error, b[o:])
		}
	}

	return o
}

func size2(m *Batch) uint64 {
	var n uint64 = 2
	{
		// Index

		helpers.UInt64Size(m.Index, &n)
	}
	{
		// Values

		l := uint64(len(m.Values))
		helpers.UInt64Size(l, &n)
		n += l
		for _, sv1 := range m.Values {
			l := uint64(len(sv1))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal2(m *Batch, b []byte) uint64 {
	var o uint64
	{
		// Index

		helpers.UInt64Marshal(m.Index, b, &o)
	}
	{
		// Values

		helpers.UInt64Marshal(uint64(len(m.Values)), b, &o)
		for _, sv1 := range m.Values {
			l := uint64(len(sv1))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], sv1)
			o += l
		}
	}

	return o
}

func unmarshal2(m *Batch, b []byte) uint64 {
	var o uint64
	{
		// Index

		helpers.UInt64Unmarshal(&m.Index, b, &o)
	}
	{
		// Values

		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		if l > 0 {
			m.Values = make([][]byte, l)
			for i1 := range l {
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Values[i1] = make([]byte, l)
					copy(m.Values[i1], b[o:o+l])
					o += l
				}
			}
		}
	}

	return o
}

func makePatch2(m, mSrc *Batch, b []byte) uint64 {
	var o uint64 = 1
	{
		// Index

		if m.Index == mSrc.Index {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			helpers.UInt64Marshal(m.Index, b, &o)
		}
	}
	{
		// Values

		if reflect.DeepEqual(m.Values, mSrc.Values) {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			helpers.UInt64Marshal(uint64(len(m.Values)), b, &o)
			for _, sv1 := range m.Values {
				l := uint64(len(sv1))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], sv1)
				o += l
			}
		}
	}

	return o
}

func applyPatch2(m *Batch, b []byte) uint64 {
	var o uint64 = 1
	{
		// Index

		if b[0]&0x01 != 0 {
			helpers.UInt64Unmarshal(&m.Index, b, &o)
		}
	}
	{
		// Values

		if b[0]&0x02 != 0 {
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Values = make([][]byte, l)
				for i1 := range l {
					var l uint64
					helpers.UInt64Unmarshal(&l, b, &o)
					if l > 0 {
						m.Values[i1] = make([]byte, l)
						copy(m.Values[i1], b[o:o+l])
						o += l
					}
				}
			}
		}
	}

	return o
}

func size3(m *Item) uint64 {
	var n uint64 = 2
	{
		// Index

		helpers.UInt64Size(m.Index, &n)
	}
	{
		// Value

		{
			l := uint64(len(m.Value))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal3(m *Item, b []byte) uint64 {
	var o uint64
	{
		// Index

		helpers.UInt64Marshal(m.Index, b, &o)
	}
	{
		// Value

		{
			l := uint64(len(m.Value))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Value)
			o += l
		}
	}

	return o
}

func unmarshal3(m *Item, b []byte) uint64 {
	var o uint64
	{
		// Index

		helpers.UInt64Unmarshal(&m.Index, b, &o)
	}
	{
		// Value

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Value = make([]byte, l)
				copy(m.Value, b[o:o+l])
				o += l
			}
		}
	}

	return o
}

func makePatch3(m, mSrc *Item, b []byte) uint64 {
	var o uint64 = 1
	{
		// Index

		if m.Index == mSrc.Index {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			helpers.UInt64Marshal(m.Index, b, &o)
		}
	}
	{
		// Value

		if reflect.DeepEqual(m.Value, mSrc.Value) {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			{
				l := uint64(len(m.Value))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Value)
				o += l
			}
		}
	}

	return o
}

func applyPatch3(m *Item, b []byte) uint64 {
	var o uint64 = 1
	{
		// Index

		if b[0]&0x01 != 0 {
			helpers.UInt64Unmarshal(&m.Index, b, &o)
		}
	}
	{
		// Value

		if b[0]&0x02 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Value = make([]byte, l)
					copy(m.Value, b[o:o+l])
					o += l
				}
			}
		}
	}

	return o
}

func size4(m *Ack) uint64 {
	var n uint64 = 2
	{
		// NextIndex

		helpers.UInt64Size(m.NextIndex, &n)
	}
	return n
}

func marshal4(m *Ack, b []byte) uint64 {
	var o uint64 = 1
	{
		// NextIndex

		helpers.UInt64Marshal(m.NextIndex, b, &o)
	}
	{
		// Reset

		if m.Reset {
			b[0] |= 0x01
		} else {
			b[0] &= 0xFE
		}
	}

	return o
}

func unmarshal4(m *Ack, b []byte) uint64 {
	var o uint64 = 1
	{
		// NextIndex

		helpers.UInt64Unmarshal(&m.NextIndex, b, &o)
	}
	{
		// Reset

		m.Reset = b[0]&0x01 != 0
	}

	return o
}

func makePatch4(m, mSrc *Ack, b []byte) uint64 {
	var o uint64 = 2
	{
		// NextIndex

		if m.NextIndex == mSrc.NextIndex {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			helpers.UInt64Marshal(m.NextIndex, b, &o)
		}
	}
	{
		// Reset

		if m.Reset == mSrc.Reset {
			b[1] &= 0xFE
		} else {
			b[1] |= 0x01
		}
	}

	return o
}

func applyPatch4(m *Ack, b []byte) uint64 {
	var o uint64 = 2
	{
		// NextIndex

		if b[0]&0x01 != 0 {
			helpers.UInt64Unmarshal(&m.NextIndex, b, &o)
		}
	}
	{
		// Reset

		if b[1]&0x01 != 0 {
			m.Reset = !m.Reset
		}
	}

	return o
}

func size5(m *Release) uint64 {
	var n uint64 = 1
	{
		// ObjectIDs

		l := uint64(len(m.ObjectIDs))
		helpers.UInt64Size(l, &n)
		n += l
		for _, sv1 := range m.ObjectIDs {
			helpers.UInt64Size(sv1, &n)
		}
	}
	return n
}

func marshal5(m *Release, b []byte) uint64 {
	var o uint64
	{
		// ObjectIDs

		helpers.UInt64Marshal(uint64(len(m.ObjectIDs)), b, &o)
		for _, sv1 := range m.ObjectIDs {
			helpers.UInt64Marshal(sv1, b, &o)
		}
	}

	return o
}

func unmarshal5(m *Release, b []byte) uint64 {
	var o uint64
	{
		// ObjectIDs

		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		if l > 0 {
			m.ObjectIDs = make([]uint64, l)
			for i1 := range l {
				helpers.UInt64Unmarshal(&m.ObjectIDs[i1], b, &o)
			}
		}
	}

	return o
}

func makePatch5(m, mSrc *Release, b []byte) uint64 {
	var o uint64 = 1
	{
		// ObjectIDs

		if reflect.DeepEqual(m.ObjectIDs, mSrc.ObjectIDs) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			helpers.UInt64Marshal(uint64(len(m.ObjectIDs)), b, &o)
			for _, sv1 := range m.ObjectIDs {
				helpers.UInt64Marshal(sv1, b, &o)
			}
		}
	}

	return o
}

func applyPatch5(m *Release, b []byte) uint64 {
	var o uint64 = 1
	{
		// ObjectIDs

		if b[0]&0x01 != 0 {
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.ObjectIDs = make([]uint64, l)
				for i1 := range l {
					helpers.UInt64Unmarshal(&m.ObjectIDs[i1], b, &o)
				}
			}
		}
	}

	return o
}

func size6(m *KeepAlive) uint64 {
	var n uint64 = 1
	{
		// ObjectIDs

		l := uint64(len(m.ObjectIDs))
		helpers.UInt64Size(l, &n)
		n += l
		for _, sv1 := range m.ObjectIDs {
			helpers.UInt64Size(sv1, &n)
		}
	}
	return n
}

func marshal6(m *KeepAlive, b []byte) uint64 {
	var o uint64
	{
		// ObjectIDs

		helpers.UInt64Marshal(uint64(len(m.ObjectIDs)), b, &o)
		for _, sv1 := range m.ObjectIDs {
			helpers.UInt64Marshal(sv1, b, &o)
		}
	}

	return o
}

func unmarshal6(m *KeepAlive, b []byte) uint64 {
	var o uint64
	{
		// ObjectIDs

		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		if l > 0 {
			m.ObjectIDs = make([]uint64, l)
			for i1 := range l {
				helpers.UInt64Unmarshal(&m.ObjectIDs[i1], b, &o)
			}
		}
	}

	return o
}

func makePatch6(m, mSrc *KeepAlive, b []byte) uint64 {
	var o uint64 = 1
	{
		// ObjectIDs

		if reflect.DeepEqual(m.ObjectIDs, mSrc.ObjectIDs) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			helpers.UInt64Marshal(uint64(len(m.ObjectIDs)), b, &o)
			for _, sv1 := range m.ObjectIDs {
				helpers.UInt64Marshal(sv1, b, &o)
			}
		}
	}

	return o
}

func applyPatch6(m *KeepAlive, b []byte) uint64 {
	var o uint64 = 1
	{
		// ObjectIDs

		if b[0]&0x01 != 0 {
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.ObjectIDs = make([]uint64, l)
				for i1 := range l {
					helpers.UInt64Unmarshal(&m.ObjectIDs[i1], b, &o)
				}
			}
		}
	}

	return o
}

func size0(m *Error) uint64 {
	var n uint64 = 2
	{
		// Kind

		{
			l := uint64(len(m.Kind))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Message

		{
			l := uint64(len(m.Message))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal0(m *Error, b []byte) uint64 {
	var o uint64
	{
		// Kind

		{
			l := uint64(len(m.Kind))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Kind)
			o += l
		}
	}
	{
		// Message

		{
			l := uint64(len(m.Message))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Message)
			o += l
		}
	}

	return o
}

func unmarshal0(m *Error, b []byte) uint64 {
	var o uint64
	{
		// Kind

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Kind = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// Message

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Message = string(b[o:o+l])
				o += l
			}
		}
	}

	return o
}

func makePatch0(m, mSrc *Error, b []byte) uint64 {
	var o uint64 = 1
	{
		// Kind

		if m.Kind == mSrc.Kind {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			{
				l := uint64(len(m.Kind))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Kind)
				o += l
			}
		}
	}
	{
		// Message

		if m.Message == mSrc.Message {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			{
				l := uint64(len(m.Message))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Message)
				o += l
			}
		}
	}

	return o
}

func applyPatch0(m *Error, b []byte) uint64 {
	var o uint64 = 1
	{
		// Kind

		if b[0]&0x01 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Kind = string(b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// Message

		if b[0]&0x02 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Message = string(b[o:o+l])
					o += l
				}
			}
		}
	}

	return o
}

func size7(m *Ok) uint64 {
	var n uint64 = 1
	{
		// Result

		{
			l := uint64(len(m.Result))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal7(m *Ok, b []byte) uint64 {
	var o uint64
	{
		// Result

		{
			l := uint64(len(m.Result))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Result)
			o += l
		}
	}

	return o
}

func unmarshal7(m *Ok, b []byte) uint64 {
	var o uint64
	{
		// Result

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Result = make([]byte, l)
				copy(m.Result, b[o:o+l])
				o += l
			}
		}
	}

	return o
}

func makePatch7(m, mSrc *Ok, b []byte) uint64 {
	var o uint64 = 1
	{
		// Result

		if reflect.DeepEqual(m.Result, mSrc.Result) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			{
				l := uint64(len(m.Result))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Result)
				o += l
			}
		}
	}

	return o
}

func applyPatch7(m *Ok, b []byte) uint64 {
	var o uint64 = 1
	{
		// Result

		if b[0]&0x01 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Result = make([]byte, l)
					copy(m.Result, b[o:o+l])
					o += l
				}
			}
		}
	}

	return o
}

func size8(m *Handshake) uint64 {
	var n uint64 = 33
	{
		// Index

		helpers.UInt64Size(m.Index, &n)
	}
	return n
}

func marshal8(m *Handshake, b []byte) uint64 {
	var o uint64
	{
		// PeerID

		copy(b[o:o+32], unsafe.Slice(&m.PeerID[0], 32))
		o += 32
	}
	{
		// Index

		helpers.UInt64Marshal(m.Index, b, &o)
	}

	return o
}

func unmarshal8(m *Handshake, b []byte) uint64 {
	var o uint64
	{
		// PeerID

		copy(unsafe.Slice(&m.PeerID[0], 32), b[o:o+32])
		o += 32
	}
	{
		// Index

		helpers.UInt64Unmarshal(&m.Index, b, &o)
	}

	return o
}

func makePatch8(m, mSrc *Handshake, b []byte) uint64 {
	var o uint64 = 1
	{
		// PeerID

		if reflect.DeepEqual(m.PeerID, mSrc.PeerID) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			copy(b[o:o+32], unsafe.Slice(&m.PeerID[0], 32))
			o += 32
		}
	}
	{
		// Index

		if m.Index == mSrc.Index {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			helpers.UInt64Marshal(m.Index, b, &o)
		}
	}

	return o
}

func applyPatch8(m *Handshake, b []byte) uint64 {
	var o uint64 = 1
	{
		// PeerID

		if b[0]&0x01 != 0 {
			copy(unsafe.Slice(&m.PeerID[0], 32), b[o:o+32])
			o += 32
		}
	}
	{
		// Index

		if b[0]&0x02 != 0 {
			helpers.UInt64Unmarshal(&m.Index, b, &o)
		}
	}

	return o
}

func size10(m *Message) uint64 {
	var n uint64 = 6
	{
		// CallType

		helpers.UInt64Size(m.CallType, &n)
	}
	{
		// RelatedID

		helpers.UInt64Size(m.RelatedID, &n)
	}
	{
		// Service

		{
			l := uint64(len(m.Service))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Method

		{
			l := uint64(len(m.Method))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Arguments

		{
			l := uint64(len(m.Arguments))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Headers

		l := uint64(len(m.Headers))
		helpers.UInt64Size(l, &n)
		for _, sv1 := range m.Headers {
			n += size9(&sv1)
		}
	}
	return n
}

func marshal10(m *Message, b []byte) uint64 {
	var o uint64
	{
		// CallType

		helpers.UInt64Marshal(m.CallType, b, &o)
	}
	{
		// RelatedID

		helpers.UInt64Marshal(m.RelatedID, b, &o)
	}
	{
		// Service

		{
			l := uint64(len(m.Service))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Service)
			o += l
		}
	}
	{
		// Method

		{
			l := uint64(len(m.Method))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Method)
			o += l
		}
	}
	{
		// Arguments

		{
			l := uint64(len(m.Arguments))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Arguments)
			o += l
		}
	}
	{
		// Headers

		helpers.UInt64Marshal(uint64(len(m.Headers)), b, &o)
		for _, sv1 := range m.Headers {
			o += marshal9(&sv1, b[o:])
		}
	}

	return o
}

func unmarshal10(m *Message, b []byte) uint64 {
	var o uint64
	{
		// CallType

		helpers.UInt64Unmarshal(&m.CallType, b, &o)
	}
	{
		// RelatedID

		helpers.UInt64Unmarshal(&m.RelatedID, b, &o)
	}
	{
		// Service

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Service = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// Method

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Method = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// Arguments

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Arguments = make([]byte, l)
				copy(m.Arguments, b[o:o+l])
				o += l
			}
		}
	}
	{
		// Headers

		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		if l > 0 {
			m.Headers = make([]Header, l)
			for i1 := range l {
				o += unmarshal9(&m.Headers[i1], b[o:])
			}
		}
	}

	return o
}

func makePatch10(m, mSrc *Message, b []byte) uint64 {
	var o uint64 = 1
	{
		// CallType

		if m.CallType == mSrc.CallType {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			helpers.UInt64Marshal(m.CallType, b, &o)
		}
	}
	{
		// RelatedID

		if m.RelatedID == mSrc.RelatedID {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			helpers.UInt64Marshal(m.RelatedID, b, &o)
		}
	}
	{
		// Service

		if m.Service == mSrc.Service {
			b[0] &= 0xFB
		} else {
			b[0] |= 0x04
			{
				l := uint64(len(m.Service))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Service)
				o += l
			}
		}
	}
	{
		// Method

		if m.Method == mSrc.Method {
			b[0] &= 0xF7
		} else {
			b[0] |= 0x08
			{
				l := uint64(len(m.Method))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Method)
				o += l
			}
		}
	}
	{
		// Arguments

		if reflect.DeepEqual(m.Arguments, mSrc.Arguments) {
			b[0] &= 0xEF
		} else {
			b[0] |= 0x10
			{
				l := uint64(len(m.Arguments))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Arguments)
				o += l
			}
		}
	}
	{
		// Headers

		if reflect.DeepEqual(m.Headers, mSrc.Headers) {
			b[0] &= 0xDF
		} else {
			b[0] |= 0x20
			helpers.UInt64Marshal(uint64(len(m.Headers)), b, &o)
			for _, sv1 := range m.Headers {
				o += marshal9(&sv1, b[o:])
			}
		}
	}

	return o
}

func applyPatch10(m *Message, b []byte) uint64 {
	var o uint64 = 1
	{
		// CallType

		if b[0]&0x01 != 0 {
			helpers.UInt64Unmarshal(&m.CallType, b, &o)
		}
	}
	{
		// RelatedID

		if b[0]&0x02 != 0 {
			helpers.UInt64Unmarshal(&m.RelatedID, b, &o)
		}
	}
	{
		// Service

		if b[0]&0x04 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Service = string(b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// Method

		if b[0]&0x08 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Method = string(b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// Arguments

		if b[0]&0x10 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Arguments = make([]byte, l)
					copy(m.Arguments, b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// Headers

		if b[0]&0x20 != 0 {
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Headers = make([]Header, l)
				for i1 := range l {
					o += unmarshal9(&m.Headers[i1], b[o:])
				}
			}
		}
	}

	return o
}

func size9(m *Header) uint64 {
	var n uint64 = 2
	{
		// Name

		{
			l := uint64(len(m.Name))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Value

		{
			l := uint64(len(m.Value))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal9(m *Header, b []byte) uint64 {
	var o uint64
	{
		// Name

		{
			l := uint64(len(m.Name))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Name)
			o += l
		}
	}
	{
		// Value

		{
			l := uint64(len(m.Value))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Value)
			o += l
		}
	}

	return o
}

func unmarshal9(m *Header, b []byte) uint64 {
	var o uint64
	{
		// Name

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Name = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// Value

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Value = string(b[o:o+l])
				o += l
			}
		}
	}

	return o
}
