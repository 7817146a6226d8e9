package netreplica

import "sort"

// DefaultMaxNetObjectID bounds the quantized width used for an event's
// destination id on the wire (§6 NetEvent payload: "destination replica-id
// (quantized)"). Chosen generously; a session with more live replicas than
// this would need a larger bound configured via EventCodec.
const DefaultMaxNetObjectID = 1 << 24

// NetEvent is one scripted event addressed to a specific replica (§4.1,
// §6). TypeName is the event's registered reflection type; EventID
// further distinguishes events of the same type (e.g. "Damaged" vs
// "Healed" on a shared "HealthEvent" type).
type NetEvent struct {
	Destination NetObjectID
	TypeName    string
	EventID     string
	Properties  map[string]PropertyValue
}

// EventCodec serializes/deserializes NetEvents against a fixed
// destination-id bound.
type EventCodec struct {
	MaxNetObjectID uint64
}

// NewEventCodec returns a codec using DefaultMaxNetObjectID.
func NewEventCodec() *EventCodec {
	return &EventCodec{MaxNetObjectID: DefaultMaxNetObjectID}
}

// Encode serializes e as a MsgNetEvent datagram: destination (quantized),
// type name, event id, property count, then each (name, tagged-variant)
// pair in a stable (sorted) order so wire output is deterministic (§4.1,
// §6).
func (c *EventCodec) Encode(e NetEvent) (Message, error) {
	msg := NewMessage(MsgNetEvent)
	msg.Data.WriteQuantized(float64(e.Destination), 0, float64(c.MaxNetObjectID), 1, nil)
	msg.Data.WriteString(e.TypeName)
	msg.Data.WriteString(e.EventID)

	names := make([]string, 0, len(e.Properties))
	for name := range e.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	msg.Data.WriteVarUint(uint64(len(names)))
	for _, name := range names {
		msg.Data.WriteString(name)
		if err := msg.Data.WriteVariant(e.Properties[name]); err != nil {
			return Message{}, err
		}
	}
	return msg, nil
}

// Decode is the inverse of Encode. Per §7 "Programmer errors", a type
// name mismatch against the registered event (checked by the caller
// using ReflectionService, not here) is reported as a *ScriptError
// rather than disconnecting the link.
func (c *EventCodec) Decode(in *BitStream) (NetEvent, error) {
	destRaw, err := in.ReadQuantized(0, float64(c.MaxNetObjectID), 1)
	if err != nil {
		return NetEvent{}, err
	}
	typeName, err := in.ReadString(MaxStringLen)
	if err != nil {
		return NetEvent{}, err
	}
	eventID, err := in.ReadString(MaxStringLen)
	if err != nil {
		return NetEvent{}, err
	}
	count, err := in.ReadVarUint()
	if err != nil {
		return NetEvent{}, err
	}
	props := make(map[string]PropertyValue, count)
	for i := uint64(0); i < count; i++ {
		name, err := in.ReadString(MaxStringLen)
		if err != nil {
			return NetEvent{}, err
		}
		val, err := in.ReadVariant()
		if err != nil {
			return NetEvent{}, err
		}
		props[name] = val
	}
	return NetEvent{
		Destination: NetObjectID(destRaw),
		TypeName:    typeName,
		EventID:     eventID,
		Properties:  props,
	}, nil
}

// EventDispatcher routes decoded events to per-type-name handlers on the
// main thread via the engine's DispatchBus (§5 "the main-thread dispatch
// bus", §6 job/dispatch bus collaborator).
type EventDispatcher struct {
	ctx      *EngineContext
	handlers map[string]func(NetEvent)
}

// NewEventDispatcher builds a dispatcher bound to ctx's DispatchBus.
func NewEventDispatcher(ctx *EngineContext) *EventDispatcher {
	return &EventDispatcher{ctx: ctx, handlers: make(map[string]func(NetEvent))}
}

// On registers a handler for events of a given registered type name.
func (d *EventDispatcher) On(typeName string, handler func(NetEvent)) {
	d.handlers[typeName] = handler
}

// Dispatch posts e to its registered handler via the dispatch bus, or
// reports a ScriptError if no handler is registered for its type name
// (§7 "reading an event whose registered type differs... are reported
// as exceptions visible to scripts").
func (d *EventDispatcher) Dispatch(e NetEvent) error {
	handler, ok := d.handlers[e.TypeName]
	if !ok {
		return NewScriptError("Dispatch", "no handler registered for event type "+e.TypeName)
	}
	if d.ctx != nil && d.ctx.Dispatch != nil {
		d.ctx.Dispatch.Post(func() { handler(e) })
		return nil
	}
	handler(e)
	return nil
}
