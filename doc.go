/*
Package signalr contains a client for the SignalR hub protocol over WebSockets with the JSON (Text) transfer format.
For a deeper understanding of signalr see https://github.com/dotnet/aspnetcore/blob/master/src/SignalR/docs/specs/HubProtocol.md
and https://github.com/dotnet/aspnetcore/blob/master/src/SignalR/docs/specs/TransportProtocols.md

Basics

The SignalR Protocol is a protocol for two-way RPC over any Message-based transport.
Either party in the connection may invoke procedures on the other party,
and procedures can return zero or more results or an error.

Client

A Client is created with NewClient(). Its Connect method negotiates with the server, opens the websocket
and sends the handshake. The returned Connection is ready to call server methods:

	client, err := signalr.NewClient(signalr.Logger(logger, false))
	conn, err := client.Connect(ctx, "http://localhost:5000/hub", accessToken)
	defer conn.Close()

	result := <-conn.Invoke(ctx, "Add", 5, 20)

Invoke waits for a single result, Stream receives the items of a server side stream, Send invokes a server method
without waiting for a result. On receives the invocations the server sends to the client.
Cancelling the context of a Stream call asks the server to cancel the stream.

Message values

Arguments are encoded with encoding/json. Received values are generic JSON values
(map[string]interface{}, []interface{}, float64, string, bool, nil). The property parsers of the client
convert them after parsing, by default ISO 8601 date strings become time.Time.
InvokeResult.Into converts a result into a typed value.

Connection lifetime

The connection sends nothing by itself besides answering the pings of the server.
When nothing has been sent for the IdleTimeout, the connection closes itself.
A closed connection is not reconnected. Callers that need reconnection connect again.
*/
package signalr
