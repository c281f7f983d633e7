// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in chat page.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/minichat/internal/chat"
)

// WebSocketHandler upgrades the request and runs one chat session for it.
// The display name comes from the "username" query parameter. The handler
// blocks until the session has been cleaned up.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	name := SanitizeDisplayName(r.URL.Query().Get("username"), s.cfg.DefaultName)

	if !s.beginSession() {
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("[chat] WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.cfg)
	go client.writePump()

	session := chat.NewSession(s.manager, client, name, chat.SessionConfig{
		AllowedPrefixes: s.cfg.AllowedResourcePrefixes(),
		RateLimit: chat.RateLimit{
			Burst:          s.cfg.RateLimit.Burst,
			RefillInterval: s.cfg.RateLimit.RefillInterval,
		},
	})
	session.Run()

	<-client.Done()
}

// HealthHandler reports liveness and the number of connected sessions.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "MiniChat server is running! %d online", s.manager.Count())
}

// IndexHandler serves <StaticDir>/index.html when it exists and the built-in
// chat page otherwise.
func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	index := filepath.Join(s.cfg.StaticDir, "index.html")
	if _, err := os.Stat(index); err == nil {
		http.ServeFile(w, r, index)
		return
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", index).Msg("[chat] stat index page")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprint(w, chatPage); err != nil {
		log.Warn().Err(err).Msg("[chat] write index page")
	}
}

const chatPage = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>MiniChat</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #layout { display: flex; gap: 16px; }
        #messages {
            flex: 1;
            border: 1px solid #ccc;
            height: 360px;
            padding: 10px;
            overflow-y: scroll;
            background-color: #f9f9f9;
        }
        #participants { width: 160px; border: 1px solid #ccc; padding: 10px; }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .system { color: gray; font-style: italic; }
        .error { color: #721c24; }
        .ts { color: #999; font-size: 12px; margin-right: 6px; }
        img.shared { max-width: 240px; display: block; }
    </style>
</head>
<body>
    <h1>MiniChat</h1>
    <div>
        <input type="text" id="nameInput" placeholder="昵称">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div id="layout">
        <div id="messages"></div>
        <ul id="participants"></ul>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <input type="file" id="fileInput" disabled>
    </div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const participantsList = document.getElementById('participants');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const fileInput = document.getElementById('fileInput');
        const connectButton = document.getElementById('connectButton');

        function line(cls) {
            const el = document.createElement('div');
            if (cls) el.className = cls;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
            return el;
        }

        function render(msg) {
            const el = line(msg.type === 'system' ? 'system' : (msg.type === 'error' ? 'error' : ''));
            if (msg.ts) {
                const ts = document.createElement('span');
                ts.className = 'ts';
                ts.textContent = msg.ts;
                el.appendChild(ts);
            }
            const body = document.createElement('span');
            if (msg.type === 'image') {
                body.textContent = msg.user + ': ';
                const img = document.createElement('img');
                img.className = 'shared';
                img.src = msg.data;
                img.alt = msg.name || '';
                body.appendChild(img);
            } else if (msg.type === 'file') {
                body.textContent = msg.user + ': ';
                const a = document.createElement('a');
                a.href = msg.data;
                a.textContent = msg.name || msg.data;
                body.appendChild(a);
            } else if (msg.user) {
                body.textContent = msg.user + ': ' + msg.data;
            } else {
                body.textContent = msg.data;
            }
            el.appendChild(body);
        }

        function setConnected(connected) {
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            fileInput.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const name = encodeURIComponent(document.getElementById('nameInput').value);
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?username=' + name);
            ws.onopen = () => setConnected(true);
            ws.onmessage = (event) => {
                const msg = JSON.parse(event.data);
                if (msg.type === 'history') {
                    msg.data.forEach(render);
                } else if (msg.type === 'participants') {
                    participantsList.innerHTML = '';
                    msg.data.forEach((n) => {
                        const li = document.createElement('li');
                        li.textContent = n;
                        participantsList.appendChild(li);
                    });
                } else {
                    render(msg);
                }
            };
            ws.onclose = () => { setConnected(false); ws = null; };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ type: 'chat', data: text }));
                messageInput.value = '';
            }
        }

        fileInput.addEventListener('change', async () => {
            const file = fileInput.files[0];
            if (!file || !ws) return;
            const form = new FormData();
            form.append('file', file);
            const res = await fetch('/upload', { method: 'POST', body: form });
            const body = await res.json();
            fileInput.value = '';
            if (!res.ok) {
                render({ type: 'error', data: body.error });
                return;
            }
            ws.send(JSON.stringify({ type: body.type, data: body.url, name: body.name }));
        });

        messageInput.addEventListener('keypress', (e) => {
            if (e.key === 'Enter') sendMessage();
        });
    </script>
</body>
</html>`
