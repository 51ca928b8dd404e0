package dashboard

import "net/http"

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>monmon</title>
<style>
body { font-family: monospace; margin: 2em; background: #111; color: #ddd; }
#state { font-size: 1.4em; margin-bottom: 1em; }
.paused { color: #fc3; } .terminated { color: #f55; } .running { color: #5d5; }
#prompt { display: none; margin: 1em 0; padding: 1em; border: 1px solid #fc3; }
#log div { white-space: pre-wrap; border-bottom: 1px solid #222; padding: 2px 0; }
</style>
</head>
<body>
<div id="state">connecting...</div>
<div id="prompt">
  Permission required: <b id="condition"></b>
  <button onclick="decide(true)">Grant</button>
  <button onclick="decide(false)">Deny</button>
</div>
<div id="log"></div>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
const log = document.getElementById("log");
function line(text) {
  const d = document.createElement("div");
  d.textContent = text;
  log.prepend(d);
}
function setState(state, condition) {
  const el = document.getElementById("state");
  el.textContent = state + (condition ? " (" + condition + ")" : "");
  el.className = state;
  document.getElementById("prompt").style.display = state === "paused" ? "block" : "none";
  document.getElementById("condition").textContent = condition || "";
}
function decide(granted) {
  ws.send(JSON.stringify({type: "decision", granted: granted}));
}
ws.onmessage = (ev) => {
  const m = JSON.parse(ev.data);
  switch (m.type) {
  case "hello":
    setState(m.state, m.condition);
    break;
  case "entry":
    line("[" + m.entry.index + "] " + m.entry.role + ": " + JSON.stringify(m.entry.content));
    break;
  case "transition":
    setState(m.state, m.state === "running" ? "" : m.condition);
    line("== " + m.event + (m.condition ? ": " + m.condition : "") + (m.details ? " - " + m.details : ""));
    break;
  case "permission_required":
    setState("paused", m.condition);
    break;
  case "error":
    line("!! " + m.error);
    break;
  }
};
ws.onclose = () => setState("disconnected");
</script>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}
