// Package msgs provides the host side message models of the controller,
// and their encodings for publishing.
//
// Producer: MQTT bridge, websocket server
// Consumer: monitors, browsers, MQTT subscribers
package msgs
