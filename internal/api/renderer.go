package api

import (
	"fmt"
	"html/template"
	"io"
)

// Renderer renders the embedded controller page.
type Renderer struct {
	page *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	page, err := template.New("control").Parse(controlPageTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse control page template: %w", err)
	}
	return &Renderer{page: page}, nil
}

// RenderControlPage writes the controller page.
func (r *Renderer) RenderControlPage(w io.Writer) error {
	return r.page.Execute(w, nil)
}

const controlPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1, user-scalable=no">
<title>robotd</title>
<style>
  body { font-family: sans-serif; background: #111; color: #eee; margin: 0; padding: 1rem; }
  h1 { font-size: 1.1rem; margin: 0 0 1rem; }
  .axis { margin: 1.5rem 0; }
  .axis label { display: block; margin-bottom: .3rem; }
  input[type=range] { width: 100%; }
  .toggles { display: flex; gap: .6rem; flex-wrap: wrap; margin: 1.5rem 0; }
  button { flex: 1; min-width: 6rem; padding: .8rem; border: 0; border-radius: .4rem;
           background: #333; color: #eee; font-size: 1rem; }
  button.on { background: #2a6; }
  button.stop { background: #a33; }
  #state { font-family: monospace; font-size: .8rem; color: #888; white-space: pre; }
  #link { float: right; }
</style>
</head>
<body>
<h1>robotd <span id="link">&#9675;</span></h1>

<div class="axis">
  <label>Throttle <span id="speedVal">0</span></label>
  <input type="range" id="speed" min="-100" max="100" value="0">
</div>
<div class="axis">
  <label>Steering <span id="dirVal">0</span></label>
  <input type="range" id="direction" min="-100" max="100" value="0">
</div>

<div class="toggles">
  <button id="headlights">Lights</button>
  <button id="horn">Horn</button>
  <button id="turbo">Turbo</button>
  <button id="stop" class="stop">STOP</button>
</div>

<div id="state"></div>

<script>
function send(command, value) {
  fetch('/api/command', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({command: command, value: value})
  }).catch(function () {});
}

var toggles = {headlights: false, horn: false, turbo: false};
['headlights', 'horn', 'turbo'].forEach(function (name) {
  var btn = document.getElementById(name);
  btn.addEventListener('click', function () {
    toggles[name] = !toggles[name];
    btn.classList.toggle('on', toggles[name]);
    send(name, toggles[name]);
  });
});

['speed', 'direction'].forEach(function (name) {
  var slider = document.getElementById(name);
  var label = document.getElementById(name === 'speed' ? 'speedVal' : 'dirVal');
  slider.addEventListener('input', function () {
    label.textContent = slider.value;
    send(name, parseInt(slider.value, 10));
  });
  // Sliders snap back to center on release, like a real transmitter stick.
  ['mouseup', 'touchend'].forEach(function (ev) {
    slider.addEventListener(ev, function () {
      slider.value = 0;
      label.textContent = '0';
      send(name, 0);
    });
  });
});

// Drive commands repeat while held so the watchdog stays fed.
setInterval(function () {
  var speed = parseInt(document.getElementById('speed').value, 10);
  if (speed !== 0) send('speed', speed);
}, 200);

document.getElementById('stop').addEventListener('click', function () {
  ['headlights', 'horn', 'turbo'].forEach(function (name) {
    toggles[name] = false;
    document.getElementById(name).classList.remove('on');
  });
  document.getElementById('speed').value = 0;
  document.getElementById('direction').value = 0;
  document.getElementById('speedVal').textContent = '0';
  document.getElementById('dirVal').textContent = '0';
  send('stop', null);
});

function connect() {
  var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
  var ws = new WebSocket(proto + location.host + '/api/telemetry');
  var link = document.getElementById('link');
  ws.onopen = function () { link.innerHTML = '&#9679;'; };
  ws.onmessage = function (ev) {
    document.getElementById('state').textContent = ev.data;
  };
  ws.onclose = function () {
    link.innerHTML = '&#9675;';
    setTimeout(connect, 1000);
  };
}
connect();
</script>
</body>
</html>
`
