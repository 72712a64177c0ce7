package mqtt

import "strings"

// TopicPrefix is the root of every INDI Panel topic.
const TopicPrefix = "indipanel"

// Topics provides builders for INDI Panel MQTT topics.
//
//	indipanel/service                    retained panel presence (LWT)
//	indipanel/status                     retained INDI connection status
//	indipanel/event/{kind}/{device}      engine events
//	indipanel/command                    inbound raw INDI commands
type Topics struct{}

// Service returns the retained presence topic.
func (Topics) Service() string {
	return TopicPrefix + "/service"
}

// Status returns the retained INDI connection status topic.
func (Topics) Status() string {
	return TopicPrefix + "/status"
}

// Event returns the topic for one engine event. Device-less events
// (connected, disconnected, global messages) use "_" as the device level.
//
// Example: indipanel/event/property_updated/CCD_Simulator
func (Topics) Event(kind, device string) string {
	if device == "" {
		device = "_"
	}
	return TopicPrefix + "/event/" + TopicSafe(kind) + "/" + TopicSafe(device)
}

// AllEvents returns a wildcard matching every event topic.
func (Topics) AllEvents() string {
	return TopicPrefix + "/event/#"
}

// Command returns the inbound raw command topic.
func (Topics) Command() string {
	return TopicPrefix + "/command"
}

// topicReplacer maps characters that are separators or wildcards in MQTT,
// and spaces, to underscores.
var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_")

// TopicSafe makes s usable as a single topic level.
func TopicSafe(s string) string {
	return topicReplacer.Replace(s)
}
