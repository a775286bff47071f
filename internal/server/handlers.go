// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler returns the handler for WebSocket upgrade requests. It
// validates that the request uses the GET method, upgrades the connection,
// and hands the new client to the hub, which launches its read/write pumps.
func WebSocketHandler(hub *Hub, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr, logger)
		client.hub.register <- client
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the relay is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Pulse Relay server is running!")
}

// TestPageHandler serves an HTML page for exercising the relay by hand:
// register a phone number, watch the active-user list, and send a message to
// another number.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Pulse Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; cursor: pointer; }
    </style>
</head>
<body>
    <h1>Pulse Relay Test</h1>

    <div>
        <input type="text" id="phone" placeholder="Your phone number">
        <button onclick="register()">Register</button>
    </div>
    <div>
        <input type="text" id="receiver" placeholder="Receiver phone number">
        <input type="text" id="text" placeholder="Message text">
        <button onclick="send()">Send</button>
    </div>
    <div id="log"></div>

    <script>
        const logDiv = document.getElementById('log');
        function log(line) {
            const el = document.createElement('div');
            el.textContent = line;
            logDiv.appendChild(el);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        const ws = new WebSocket('ws://' + location.host + '/ws');
        ws.onopen = () => log('connected');
        ws.onclose = () => log('disconnected');
        ws.onmessage = (e) => log('<< ' + e.data);

        function emit(event, data) {
            ws.send(JSON.stringify({event: event, data: data}));
        }

        function register() {
            emit('sendSocketID', {phoneNumber: document.getElementById('phone').value});
        }

        function send() {
            emit('sendMessage', {
                sender: document.getElementById('phone').value,
                receiver: document.getElementById('receiver').value,
                text: document.getElementById('text').value
            });
        }
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		log.Warn().Err(err).Msg("Error writing HTML response")
	}
}
