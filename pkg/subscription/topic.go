package subscription

import (
	"fmt"
	"regexp"

	"github.com/deebot-t8/deebot-t8-go/pkg/api"
)

// topicPattern matches device event topics:
// iot/atr/{command}/{device_id}/{device_class}/{device_resource}/j
var topicPattern = regexp.MustCompile(`^iot/atr/([^/]+)/([^/]+)/([^/]+)/([^/]+)/[^/]+$`)

// topicInfo is the decoded form of an event topic.
type topicInfo struct {
	Command  string
	DeviceID string
	Class    string
	Resource string
}

// parseTopic decodes an event topic. ok is false when the topic does not
// match the expected shape.
func parseTopic(topic string) (topicInfo, bool) {
	m := topicPattern.FindStringSubmatch(topic)
	if m == nil {
		return topicInfo{}, false
	}
	return topicInfo{
		Command:  m[1],
		DeviceID: m[2],
		Class:    m[3],
		Resource: m[4],
	}, true
}

// deviceFilter returns the subscription filter for a device, wildcarding
// the command and payload-type segments.
func deviceFilter(device api.Device) string {
	return fmt.Sprintf("iot/atr/+/%s/%s/%s/+", device.ID, device.Class, device.Resource)
}
