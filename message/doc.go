// Package message defines the HiveMessage envelope, the typed container
// every HiveMind frame carries.
//
// An envelope wraps either an agent bus message, raw binary data, or
// another envelope (for the fan-out primitives), together with the
// routing metadata that travels with it: the ordered hop history, the
// source peer, the target peers, and optional site or public key
// targeting.
//
// Example:
//
//	msg, err := message.New(message.TypeBus, map[string]interface{}{
//	    "type": "recognizer_loop:utterance",
//	    "data": map[string]interface{}{"utterances": []string{"hello"}},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	frame, _ := msg.Serialize()
package message
