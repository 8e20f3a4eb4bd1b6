package events

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Subscriber receives a published event. Returning false unsubscribes it.
type Subscriber func(interface{})

// Hub dispatches events to subscribers keyed by the event's concrete type.
// Publishing is synchronous: every subscriber runs before Publish returns,
// which is what keeps snapshot mutations atomic with respect to observers.
type Hub struct {
	sync.Mutex
	channels map[reflect.Type]*channel
}

type channel struct {
	subscribers      sync.Map // uint64 -> Subscriber
	prevSubscriberID uint64
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[reflect.Type]*channel),
	}
}

func (h *Hub) getChannel(ty reflect.Type) *channel {
	h.Lock()
	defer h.Unlock()

	ch, ok := h.channels[ty]
	if !ok {
		ch = &channel{}
		h.channels[ty] = ch
	}

	return ch
}

// Publish delivers data to every subscriber registered for its type.
func (h *Hub) Publish(data interface{}) {
	ch := h.getChannel(reflect.TypeOf(data))

	ch.subscribers.Range(func(_ interface{}, sub interface{}) bool {
		sub.(Subscriber)(data)
		return true
	})
}

// Subscribe registers cb, a func(T) bool for some event type T. The
// callback stays registered until it returns false.
func (h *Hub) Subscribe(cb interface{}) {
	cbVal := reflect.ValueOf(cb)

	if cbVal.Kind() != reflect.Func {
		panic("expected func for callback")
	}

	if cbVal.Type().NumIn() != 1 {
		panic("expected exactly one argument for callback")
	}

	if cbVal.Type().NumOut() != 1 || cbVal.Type().Out(0).Kind() != reflect.Bool {
		panic("expected exactly one boolean value for callback return")
	}

	ch := h.getChannel(cbVal.Type().In(0))
	id := atomic.AddUint64(&ch.prevSubscriberID, 1)

	ch.subscribers.Store(id, Subscriber(func(msg interface{}) {
		ret := cbVal.Call([]reflect.Value{reflect.ValueOf(msg)})
		if !ret[0].Bool() {
			ch.subscribers.Delete(id)
		}
	}))
}
