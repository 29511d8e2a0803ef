// Package mqtt connects the control center to an MQTT broker.
//
// Plugin events are fanned out to other processes on the host (wallet UIs,
// dashboards, home automation) and remote start/stop commands are received
// on per-plugin command topics.
//
// This package manages:
//   - Connection with auto-reconnect and subscription restoration
//   - Last Will and Testament so subscribers notice a crashed control center
//   - Publishing with payload size and QoS validation
//   - Handler panic recovery
//
// # Topics
//
//	mircc/system/status              online/offline, retained
//	mircc/plugin/<name>/state        lifecycle state, retained
//	mircc/plugin/<name>/<event>      every other plugin event
//	mircc/plugin/<name>/command      {"action":"start"|"stop"} inbound
//	mircc/plugin/<name>/ack          command acknowledgements
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllPluginCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        name, _, _ := mqtt.ParsePluginTopic(topic)
//	        return handle(name, payload)
//	    })
package mqtt
