// Package bus models the agent bus the HiveMind listener bridges to.
//
// A bus Message is the application-level {type, data, context} triple
// exchanged with the collocated agent stack. The Bus interface is
// satisfied by the in-process Emitter, used for tests and embedded
// agents, and by Client, which bridges to an external bus over a
// websocket connection.
package bus
