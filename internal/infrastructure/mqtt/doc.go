// Package mqtt bridges INDI Panel to an MQTT broker.
//
// Engine events are published under indipanel/event/{kind}/{device}, the
// INDI connection status is retained on indipanel/status, and payloads sent
// to indipanel/command are forwarded verbatim to the INDI server. The
// panel's own presence is retained on indipanel/service with a Last Will so
// subscribers notice a crash.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.PublishJSON(mqtt.Topics{}.Status(), status, true)
//
// The bridge is optional (mqtt.enabled). Broker-backed tests live behind the
// integration build tag.
package mqtt
