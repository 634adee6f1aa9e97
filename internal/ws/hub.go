package ws

// AllTopics subscribes a client to every broadcast regardless of topic.
const AllTopics = ""

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans run notifications out to subscribers keyed by run label.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan countRequest
}

type message struct {
	topic   string
	payload []byte
}

type subscription struct {
	topic  string
	client Subscriber
}

type countRequest struct {
	topic string
	reply chan int
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		count:     make(chan countRequest),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.topic]; !ok {
				h.clients[sub.topic] = make(map[Subscriber]struct{})
			}
			h.clients[sub.topic][sub.client] = struct{}{}
		case sub := <-h.unreg:
			h.remove(sub.topic, sub.client)
		case msg := <-h.broadcast:
			h.deliver(msg.topic, msg.payload)
			if msg.topic != AllTopics {
				h.deliver(AllTopics, msg.payload)
			}
		case req := <-h.count:
			req.reply <- len(h.clients[req.topic])
		}
	}
}

func (h *Hub) deliver(topic string, payload []byte) {
	for c := range h.clients[topic] {
		if err := c.Send(payload); err != nil {
			c.Close()
			h.remove(topic, c)
		}
	}
}

func (h *Hub) remove(topic string, client Subscriber) {
	clients, ok := h.clients[topic]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, topic)
	}
}

// Register adds a client to a topic.
func (h *Hub) Register(topic string, client Subscriber) {
	h.register <- subscription{topic: topic, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(topic string, client Subscriber) {
	h.unreg <- subscription{topic: topic, client: client}
}

// Broadcast sends payload to the topic's clients and to AllTopics clients.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.broadcast <- message{topic: topic, payload: payload}
}

// Subscribers reports how many clients listen on a topic.
func (h *Hub) Subscribers(topic string) int {
	reply := make(chan int)
	h.count <- countRequest{topic: topic, reply: reply}
	return <-reply
}
