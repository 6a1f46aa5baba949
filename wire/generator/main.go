package main

import (
	"github.com/outofforest/proton"
	"github.com/outofforest/tether/wire"
)

//go:generate go run .
func main() {
	proton.Generate("../types.proton.go",
		proton.Message[wire.Message](),
		proton.Message[wire.Handshake](),
		proton.Message[wire.Ok](),
		proton.Message[wire.Error](),
		proton.Message[wire.KeepAlive](),
		proton.Message[wire.Release](),
		proton.Message[wire.Ack](),
		proton.Message[wire.Item](),
		proton.Message[wire.Batch](),
		proton.Message[wire.End](),
	)
}
