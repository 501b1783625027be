package notify

import "log"

// LogChannel writes notifications to the process log. It stands in for a
// host persistent-notification surface and is always safe to register.
type LogChannel struct{}

func NewLogChannel() *LogChannel { return &LogChannel{} }

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(n Notification) error {
	if len(n.Actions) > 0 {
		log.Printf("[notification] %s: %s (tag=%s, %d actions)", n.Title, n.Message, n.Tag, len(n.Actions))
		return nil
	}
	log.Printf("[notification] %s: %s", n.Title, n.Message)
	return nil
}
