package mqtt

import (
	"fmt"
	"strings"
)

const (
	// TopicPrefix is the root of every control center topic.
	TopicPrefix = "mircc"

	// TopicPrefixPlugin is the base for per-plugin topics.
	TopicPrefixPlugin = TopicPrefix + "/plugin"

	// TopicPrefixSystem is the base for control center status topics.
	TopicPrefixSystem = TopicPrefix + "/system"

	// Fixed per-plugin leaves.
	StateSuffix   = "state"
	CommandSuffix = "command"
	AckSuffix     = "ack"
)

// Topics builds control center topic names.
//
//	topic := mqtt.Topics{}.PluginEvent("mir", "log")
//	// Returns: "mircc/plugin/mir/log"
type Topics struct{}

// PluginEvent returns the topic an event of the named plugin is published on.
//
// Example: mircc/plugin/mir/pluginError
func (Topics) PluginEvent(plugin, event string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixPlugin, plugin, event)
}

// PluginState returns the retained lifecycle state topic.
//
// Example: mircc/plugin/mir/state
func (t Topics) PluginState(plugin string) string {
	return t.PluginEvent(plugin, StateSuffix)
}

// PluginCommand returns the inbound command topic.
//
// Example: mircc/plugin/mir/command
func (t Topics) PluginCommand(plugin string) string {
	return t.PluginEvent(plugin, CommandSuffix)
}

// PluginAck returns the topic command acknowledgements are published on.
//
// Example: mircc/plugin/mir/ack
func (t Topics) PluginAck(plugin string) string {
	return t.PluginEvent(plugin, AckSuffix)
}

// AllPluginCommands matches the command topic of every plugin.
//
// Pattern: mircc/plugin/+/command
func (Topics) AllPluginCommands() string {
	return fmt.Sprintf("%s/+/%s", TopicPrefixPlugin, CommandSuffix)
}

// AllPluginEvents matches every plugin topic.
//
// Pattern: mircc/plugin/#
func (Topics) AllPluginEvents() string {
	return TopicPrefixPlugin + "/#"
}

// SystemStatus returns the retained online/offline topic.
//
// Example: mircc/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllTopics matches all control center traffic.
//
// Pattern: mircc/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParsePluginTopic splits mircc/plugin/<name>/<leaf> into name and leaf.
func ParsePluginTopic(topic string) (plugin, leaf string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixPlugin+"/")
	if !found {
		return "", "", false
	}
	plugin, leaf, found = strings.Cut(rest, "/")
	if !found || plugin == "" || leaf == "" || strings.Contains(leaf, "/") {
		return "", "", false
	}
	return plugin, leaf, true
}

// ValidPluginName reports whether name can be used as a single topic level.
func ValidPluginName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/+#")
}
