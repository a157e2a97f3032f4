package mqtt

import "fmt"

// Topic prefixes for the Gatehouse event hierarchy.
//
// Events use the scheme: gatehouse/events/{category}/{action}
// where category and action come from the dot-form event name
// (auth.token.reused publishes to gatehouse/events/auth/token.reused).
const (
	// TopicPrefixEvents is the base for all security event topics.
	TopicPrefixEvents = "gatehouse/events"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "gatehouse/system"
)

// Topics provides builders for Gatehouse MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// Event returns the topic for a security event, splitting the dot-form
// event name at its first dot so brokers can route per category.
//
// Example: "auth.token.reused" -> gatehouse/events/auth/token.reused
func (Topics) Event(action string) string {
	for i := 0; i < len(action); i++ {
		if action[i] == '.' {
			return fmt.Sprintf("%s/%s/%s", TopicPrefixEvents, action[:i], action[i+1:])
		}
	}
	return fmt.Sprintf("%s/%s", TopicPrefixEvents, action)
}

// SystemStatus returns the service status topic.
//
// Example: gatehouse/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllEvents returns a pattern matching every security event.
//
// Pattern: gatehouse/events/#
func (Topics) AllEvents() string {
	return TopicPrefixEvents + "/#"
}

// EventCategory returns a pattern matching one category of events.
//
// Pattern: gatehouse/events/auth/+
func (Topics) EventCategory(category string) string {
	return fmt.Sprintf("%s/%s/+", TopicPrefixEvents, category)
}
