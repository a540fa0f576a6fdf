// Package mqtt connects the Tiko bridge to an MQTT broker.
//
// The bridge publishes retained room state and consumption, listens for
// room commands and answers with acks. Availability is tracked on a single
// retained health topic: the client publishes "online" after connecting,
// "offline" on a clean Close, and the broker publishes "offline" through
// the Last Will if the process dies.
//
// # Topics
//
//	{prefix}/state/{property}/{room}        retained room state
//	{prefix}/consumption/{property}/{room}  retained room consumption
//	{prefix}/command/{property}/{room}      inbound commands
//	{prefix}/ack/{property}/{room}          command acknowledgements
//	{prefix}/health                         retained availability (LWT)
//	{prefix}/status/coordinator             retained coordinator status
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllRoomCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
