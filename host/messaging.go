package host

import (
	"fmt"

	"github.com/inference-sim/vmhost/host/pickle"
	"github.com/inference-sim/vmhost/host/trace"
)

// Send copies value from the sending instance to instance `to`.
//
// The value is packed with the sender's pickle.pack entry point, posted to
// the target as a DeliverMessageEvent, and unpacked by the target when the
// event runs. Sending to a closed port is a silent no-op. Errors are local
// to the sender: an unknown target, a missing entry point, or a pack failure.
func Send(from *Instance, to int64, value pickle.Value) error {
	target, err := from.env.Lookup(to)
	if err != nil {
		return err
	}
	if target.PortClosed() {
		target.dropped(from.id, "port closed")
		return nil
	}

	pack, err := from.packFunc()
	if err != nil {
		return err
	}
	payload, err := pack(value)
	if err != nil {
		return fmt.Errorf("send to instance %d: %w", to, err)
	}
	return post(from.env, from.id, target, payload)
}

// SendTo delivers a value from the host itself (sender id 0), packing it
// with the default codec. The CLI and tests use it to feed instances.
func (env *Environment) SendTo(to int64, value pickle.Value) error {
	target, err := env.Lookup(to)
	if err != nil {
		return err
	}
	if target.PortClosed() {
		target.dropped(0, "port closed")
		return nil
	}
	payload, err := pickle.Pack(value)
	if err != nil {
		return fmt.Errorf("send to instance %d: %w", to, err)
	}
	return post(env, 0, target, payload)
}

func post(env *Environment, from int64, target *Instance, payload []byte) error {
	if !target.Post(&DeliverMessageEvent{From: from, Payload: payload}) {
		target.dropped(from, "instance terminated")
		return nil
	}
	env.metrics.MessagesSent.Add(1)
	env.metrics.BytesSent.Add(int64(len(payload)))
	env.record(trace.Record{Kind: trace.KindSent, Instance: target.id, Peer: from, Detail: fmt.Sprintf("%d bytes", len(payload))})
	return nil
}
