package domain

// Message is one chat line attributed to the connection that sent it.
type Message struct {
	Identity string
	Text     string
}

// String renders the message in wire format: "<identity>: <text>".
func (m Message) String() string {
	return m.Identity + ": " + m.Text
}
