package web

import (
	"fmt"
	"net/http"
	"strings"
)

// handleUI serves the embedded UI.
func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, strings.ReplaceAll(uiHTML, "{{APP_VERSION}}", s.version))
}

const uiHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Cluster Watch</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
    background: #1b1b1d;
    color: #e4e4e7;
    min-height: 100vh;
  }
  .container { max-width: 1200px; margin: 0 auto; padding: 24px; }

  .header {
    display: flex;
    justify-content: space-between;
    align-items: center;
    margin-bottom: 24px;
    padding-bottom: 16px;
    border-bottom: 1px solid #27272a;
  }
  .header h1 { font-size: 24px; font-weight: 700; color: #fff; letter-spacing: -0.5px; }
  .header h1 span { color: #FB326E; }
  .header .meta { font-size: 12px; color: #71717a; }

  .section {
    background: #232326;
    border: 1px solid #27272a;
    border-radius: 10px;
    margin-bottom: 24px;
  }
  .section-head {
    display: flex;
    justify-content: space-between;
    align-items: center;
    padding: 14px 18px;
    border-bottom: 1px solid #27272a;
    gap: 12px;
  }
  .section-head h2 { font-size: 16px; font-weight: 600; color: #fff; }
  .section-body { max-height: 420px; overflow-y: auto; padding: 14px 18px; }
  .controls { display: flex; align-items: center; gap: 8px; font-size: 13px; color: #a1a1aa; }
  .controls input[type=number] { width: 64px; }

  input {
    background: #1b1b1d;
    border: 1px solid #3f3f46;
    color: #e4e4e7;
    border-radius: 6px;
    padding: 6px 8px;
    font-size: 13px;
  }
  .btn {
    background: #FB326E;
    color: #fff;
    border: none;
    padding: 6px 14px;
    border-radius: 6px;
    font-size: 13px;
    font-weight: 600;
    cursor: pointer;
    transition: all 0.2s;
  }
  .btn:hover { background: #e02a5f; }
  .btn.secondary { background: #3f3f46; }
  .btn.secondary:hover { background: #52525b; }
  .btn:disabled { opacity: 0.5; cursor: not-allowed; }
  .btn.busy::after {
    content: '';
    display: inline-block;
    width: 10px;
    height: 10px;
    margin-left: 6px;
    border: 2px solid #fff;
    border-top-color: transparent;
    border-radius: 50%;
    animation: spin 0.8s linear infinite;
    vertical-align: -1px;
  }
  @keyframes spin { to { transform: rotate(360deg); } }

  .badge { font-size: 11px; padding: 2px 8px; border-radius: 10px; background: #3f3f46; color: #d4d4d8; }
  .badge.active { background: #14532d; color: #86efac; }
  .badge.error { background: #7f1d1d; color: #fca5a5; }

  .chart-row { display: flex; align-items: center; gap: 10px; margin-bottom: 6px; font-size: 12px; }
  .chart-label { width: 160px; text-align: right; color: #a1a1aa; overflow: hidden; text-overflow: ellipsis; white-space: nowrap; }
  .chart-bar { flex: 1; display: flex; height: 16px; background: #1b1b1d; border-radius: 3px; overflow: hidden; }
  .seg-used { background: #FB326E; }
  .seg-remaining { background: #22c55e; }
  .seg-over { background: #f59e0b; }
  .seg-max { background: #3f3f46; }
  .legend { display: flex; gap: 14px; font-size: 12px; color: #a1a1aa; margin-bottom: 10px; }
  .legend i { display: inline-block; width: 10px; height: 10px; border-radius: 2px; margin-right: 4px; }

  .grid { display: grid; grid-template-columns: 1fr 2fr; gap: 18px; margin-top: 16px; }
  .tree { font-family: ui-monospace, monospace; font-size: 12px; color: #d4d4d8; }
  .tree .leaf { color: #86efac; }

  table { width: 100%; border-collapse: collapse; font-size: 13px; }
  th { text-align: left; color: #71717a; font-weight: 500; padding: 6px 8px; border-bottom: 1px solid #3f3f46; }
  td { padding: 6px 8px; border-bottom: 1px solid #27272a; vertical-align: top; }
  td a { color: #93c5fd; text-decoration: none; }
  .apps div { display: flex; justify-content: space-between; gap: 12px; }
  .status-copied { color: #86efac; }
  .status-notcopied { color: #a1a1aa; }
  .empty { color: #71717a; font-size: 13px; padding: 8px 0; }
  .warn { color: #f59e0b; font-size: 12px; margin-top: 8px; }

  .logs {
    font-family: ui-monospace, monospace;
    font-size: 11px;
    line-height: 1.6;
    max-height: 260px;
    overflow-y: auto;
  }
  .log-ERROR { color: #fca5a5; }
  .log-WARN { color: #fcd34d; }
  .log-label { color: #FB326E; margin-right: 6px; }

  #toasts { position: fixed; right: 20px; bottom: 20px; display: flex; flex-direction: column; gap: 8px; z-index: 10; }
  .toast {
    background: #27272a;
    border-left: 3px solid #22c55e;
    padding: 10px 14px;
    border-radius: 6px;
    font-size: 13px;
    box-shadow: 0 4px 12px rgba(0,0,0,0.4);
  }
  .toast.error { border-left-color: #ef4444; }
</style>
</head>
<body>
<div class="container">
  <div class="header">
    <h1>Cluster<span>Watch</span></h1>
    <div class="meta" id="meta">{{APP_VERSION}}</div>
  </div>

  <div class="section">
    <div class="section-head">
      <h2>Queues</h2>
      <div class="controls" id="queues-controls"></div>
    </div>
    <div class="section-body" id="queues-body"><div class="empty">Waiting for the first scheduler fetch</div></div>
  </div>

  <div class="section">
    <div class="section-head">
      <h2>Tracked jobs</h2>
      <div class="controls">
        <input id="track-id" placeholder="Job id">
        <button class="btn" id="track-btn" onclick="window.__trackJob()">Track</button>
        <span id="tracking-controls" class="controls"></span>
      </div>
    </div>
    <div class="section-body" id="tracking-body"></div>
  </div>

  <div class="section">
    <div class="section-head"><h2>Activity</h2></div>
    <div class="section-body logs" id="logs"></div>
  </div>
</div>
<div id="toasts"></div>

<script>
(function() {
  var state = null;
  var trackingRevision = -1;
  var rowsRevision = 0;
  var ws = null;
  var wsReconnectDelay = 1000;
  var scrollTimers = {};

  function esc(s) {
    return String(s == null ? '' : s)
      .replace(/&/g, '&amp;').replace(/</g, '&lt;').replace(/>/g, '&gt;')
      .replace(/"/g, '&quot;').replace(/'/g, '&#39;');
  }

  function ts(d) {
    if (!d || d.indexOf('0001-01-01') === 0) return '-';
    var dt = new Date(d);
    if (isNaN(dt)) return '-';
    return dt.toLocaleString();
  }

  function post(url, body) {
    return fetch(url, {
      method: 'POST',
      headers: { 'Content-Type': 'application/json' },
      body: JSON.stringify(body || {})
    }).then(function(r) {
      return r.json().catch(function() { return {}; }).then(function(data) {
        data.httpStatus = r.status;
        return data;
      });
    });
  }

  function toast(level, text) {
    var el = document.createElement('div');
    el.className = 'toast' + (level === 'error' ? ' error' : '');
    el.textContent = text;
    document.getElementById('toasts').appendChild(el);
    setTimeout(function() { el.remove(); }, 5000);
  }

  function pollStatus(view) {
    if (!state || !state.polls) return null;
    for (var i = 0; i < state.polls.length; i++) {
      if (state.polls[i].view === view) return state.polls[i];
    }
    return null;
  }

  function renderControls(view) {
    var st = pollStatus(view) || {};
    var secs = st.interval ? Math.round(st.interval / 1e9) : 10;
    var badge = st.active
      ? '<span class="badge active">' + esc(st.phase) + '</span>'
      : '<span class="badge">paused</span>';
    if (st.lastError) badge += ' <span class="badge error" title="' + esc(st.lastError) + '">last fetch failed</span>';
    return badge +
      ' every <input type="number" min="1" id="interval-' + view + '" value="' + secs + '"> s' +
      ' <button class="btn secondary" onclick="window.__togglePoll(\'' + view + '\')">' + (st.active ? 'Pause' : 'Poll') + '</button>' +
      ' <button class="btn secondary" onclick="window.__refresh(\'' + view + '\')">Refresh</button>';
  }

  function renderChart(ds) {
    if (!ds || !ds.names || ds.names.length === 0) return '<div class="empty">No leaf queues</div>';
    var html = '<div class="legend">' +
      '<span><i class="seg-used"></i>used</span><span><i class="seg-remaining"></i>remaining</span>' +
      '<span><i class="seg-over"></i>over</span><span><i class="seg-max"></i>max</span></div>';
    for (var i = 0; i < ds.names.length; i++) {
      var over = -ds.over[i];
      var total = ds.used[i] + ds.remaining[i] + over + ds.max[i];
      var scale = total > 100 ? 100 / total : 1;
      html += '<div class="chart-row"><div class="chart-label" title="' + esc(ds.names[i]) + '">' + esc(ds.names[i]) + '</div>' +
        '<div class="chart-bar" title="used ' + ds.used[i] + '% remaining ' + ds.remaining[i] + '% over ' + over + '% max ' + ds.max[i] + '%">' +
        '<div class="seg-used" style="width:' + ds.used[i] * scale + '%"></div>' +
        '<div class="seg-remaining" style="width:' + ds.remaining[i] * scale + '%"></div>' +
        '<div class="seg-over" style="width:' + over * scale + '%"></div>' +
        '<div class="seg-max" style="width:' + ds.max[i] * scale + '%"></div>' +
        '</div></div>';
    }
    return html;
  }

  function renderTree(node, depth) {
    if (!node) return '';
    var html = '<div class="' + (node.leaf ? 'leaf' : '') + '" style="padding-left:' + depth * 14 + 'px">' + esc(node.name) + '</div>';
    (node.children || []).forEach(function(c) { html += renderTree(c, depth + 1); });
    return html;
  }

  function renderUsers(users) {
    if (!users || users.length === 0) return '<div class="empty">No active users</div>';
    var html = '<table><tr><th>Queue</th><th>User</th><th>Active</th><th>Pending</th><th>Memory</th><th>vCores</th><th>Limit</th></tr>';
    users.forEach(function(u) {
      html += '<tr><td>' + esc(u.queue) + '</td><td>' + esc(u.username) + '</td><td>' + u.active + '</td><td>' + u.pending +
        '</td><td>' + esc(u.memoryUsed) + '</td><td>' + u.vCoresUsed + '</td><td>' + esc(u.resourceLimit) + '</td></tr>';
    });
    return html + '</table>';
  }

  function renderQueues() {
    document.getElementById('queues-controls').innerHTML = renderControls('queues');
    var q = state.queues;
    if (!q || !q.view) return;
    var v = q.view;
    var html = renderChart(v.dataset) +
      '<div class="grid"><div class="tree">' + renderTree(v.tree, 0) + '</div><div>' + renderUsers(v.users) + '</div></div>';
    (v.duplicates || []).forEach(function(d) {
      html += '<div class="warn">Duplicate queue ' + esc(d.name) + ' under ' + esc(d.parent) + ', last entry shown</div>';
    });
    html += '<div class="empty">Updated ' + ts(q.updated) + '</div>';
    document.getElementById('queues-body').innerHTML = html;
  }

  function statusClass(text) {
    return text === 'COPIED' ? 'status-copied' : (text === 'NOT COPIED' ? 'status-notcopied' : '');
  }

  function appKey(job, app) { return job + '|' + app; }

  function renderRow(row) {
    var apps = (row.applications || []).map(function(a) {
      return '<div><a href="/api/logs/' + encodeURIComponent(row.id) + '/' + encodeURIComponent(a.id) + '" target="_blank">' + esc(a.id) + '</a>' +
        '<span class="' + statusClass(a.status) + '" data-app="' + esc(appKey(row.id, a.id)) + '">' + esc(a.status) + '</span></div>';
    }).join('');
    return '<td>' + esc(row.id) + '</td><td>' + esc(row.status) + '</td><td>' + ts(row.lastChecked) + '</td>' +
      '<td class="apps">' + apps + '</td>' +
      '<td><button class="btn secondary" data-busy="copy-logs:' + esc(row.id) + '" onclick="window.__copyLogs(this, false)" data-job="' + esc(row.id) + '">Copy logs</button> ' +
      '<button class="btn" data-busy="force-copy-logs:' + esc(row.id) + '" onclick="window.__copyLogs(this, true)" data-job="' + esc(row.id) + '">Force</button></td>';
  }

  function renderTracking() {
    document.getElementById('tracking-controls').innerHTML = renderControls('tracking');
    var t = state.tracking;
    if (!t) return;
    // A rows revision ahead of what was applied means an update was missed.
    if (t.revision === trackingRevision && t.rowsRevision <= rowsRevision) return;
    trackingRevision = t.revision;
    rowsRevision = t.rowsRevision;
    var body = document.getElementById('tracking-body');
    if (!t.rows || t.rows.length === 0) {
      body.innerHTML = '<div class="empty">No jobs are being tracked (' + ts(t.updated) + ')</div>';
      return;
    }
    var html = '<table id="tracking-table"><tr><th>Job</th><th>Status</th><th>Last checked</th><th>Applications</th><th></th></tr>';
    t.rows.forEach(function(row) {
      html += '<tr data-job="' + esc(row.id) + '">' + renderRow(row) + '</tr>';
    });
    body.innerHTML = html + '</table>';
  }

  function applyTrackingEvent(ev) {
    applyRows(ev);
    if (ev.revision === rowsRevision + 1) rowsRevision = ev.revision;
  }

  function applyRows(ev) {
    if (ev.kind === 'patch') {
      (ev.patches || []).forEach(function(p) {
        var cells = document.querySelectorAll('[data-app]');
        for (var i = 0; i < cells.length; i++) {
          if (cells[i].getAttribute('data-app') === appKey(p.job, p.application)) {
            cells[i].textContent = p.status;
            cells[i].className = statusClass(p.status);
          }
        }
      });
      return;
    }
    var table = document.getElementById('tracking-table');
    if (!table) {
      document.getElementById('tracking-body').innerHTML =
        '<table id="tracking-table"><tr><th>Job</th><th>Status</th><th>Last checked</th><th>Applications</th><th></th></tr></table>';
      table = document.getElementById('tracking-table');
    }
    (ev.rows || []).forEach(function(row) {
      var existing = null;
      var rows = table.querySelectorAll('tr[data-job]');
      for (var i = 0; i < rows.length; i++) {
        if (rows[i].getAttribute('data-job') === row.id) existing = rows[i];
      }
      if (existing) {
        existing.innerHTML = renderRow(row);
      } else {
        var tr = table.insertRow(-1);
        tr.setAttribute('data-job', row.id);
        tr.innerHTML = renderRow(row);
      }
    });
  }

  function renderLogs() {
    var el = document.getElementById('logs');
    var atBottom = el.scrollHeight - el.scrollTop - el.clientHeight < 20;
    el.innerHTML = (state.logs || []).map(function(l) {
      return '<div class="log-' + esc(l.level) + '"><span class="log-label">' + esc(l.label) + '</span>' + esc(l.message) + '</div>';
    }).join('');
    if (atBottom) el.scrollTop = el.scrollHeight;
  }

  function render() {
    if (!state) return;
    document.getElementById('meta').textContent = state.upstream + ' · ' + state.version;
    renderQueues();
    renderTracking();
    renderLogs();
  }

  function setBusy(target, busy) {
    var buttons = document.querySelectorAll('[data-busy]');
    for (var i = 0; i < buttons.length; i++) {
      if (buttons[i].getAttribute('data-busy') === target) {
        buttons[i].disabled = busy;
        buttons[i].classList.toggle('busy', busy);
      }
    }
    if (target.indexOf('track:') === 0) {
      var btn = document.getElementById('track-btn');
      btn.disabled = busy;
      btn.classList.toggle('busy', busy);
    }
  }

  function reportScroll(view) {
    clearTimeout(scrollTimers[view]);
    scrollTimers[view] = setTimeout(function() {
      if (ws && ws.readyState === WebSocket.OPEN) {
        var el = document.getElementById(view + '-body');
        ws.send(JSON.stringify({ type: 'scroll', view: view, offset: el.scrollTop }));
      }
    }, 150);
  }

  ['queues', 'tracking'].forEach(function(view) {
    document.getElementById(view + '-body').addEventListener('scroll', function() { reportScroll(view); });
  });

  window.__togglePoll = function(view) {
    var st = pollStatus(view) || {};
    var secs = parseInt(document.getElementById('interval-' + view).value, 10) || 0;
    post('/api/poll/' + view, { active: !st.active, intervalSeconds: secs }).then(function(r) {
      if (r.httpStatus !== 200) toast('error', r.error || 'Unable to change polling');
    });
  };

  window.__refresh = function(view) {
    post('/api/refresh/' + view).then(function(r) {
      if (r.httpStatus !== 200) toast('error', 'Refresh failed: ' + (r.error || r.httpStatus));
    });
  };

  window.__trackJob = function() {
    var input = document.getElementById('track-id');
    var id = input.value.trim();
    if (!id) return;
    post('/api/track', { id: id }).then(function(r) {
      if (r.httpStatus !== 200) return;
      input.value = '';
      if (r.rows && r.rows.length) applyTrackingEvent({ kind: 'append', rows: r.rows });
    });
  };

  window.__copyLogs = function(btn, force) {
    var id = btn.getAttribute('data-job');
    if (force && !confirm('Copy the logs of every application of job ' + id + ' again?')) return;
    post('/api/copy-logs', { id: id, force: force, confirm: force }).then(function(r) {
      if (r.httpStatus === 409) toast('error', 'A copy is already running for job ' + id);
      if (r.httpStatus === 200 && r.patches) applyTrackingEvent({ kind: 'patch', patches: r.patches });
    });
  };

  function handleMessage(msg) {
    switch (msg.type) {
      case 'state':
        state = msg.data;
        render();
        break;
      case 'patch':
        applyTrackingEvent(msg.data);
        break;
      case 'busy':
        setBusy(msg.data.target, msg.data.busy);
        break;
      case 'notify':
        toast(msg.data.level, msg.data.message);
        break;
      case 'scroll':
        var el = document.getElementById(msg.data.view + '-body');
        if (el) el.scrollTop = msg.data.offset;
        break;
    }
  }

  function fetchState() {
    fetch('/api/state').then(function(r) { return r.json(); }).then(function(s) {
      state = s;
      render();
    }).catch(function() {});
  }

  // WebSocket connection
  function connectWebSocket() {
    var protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
    try {
      ws = new WebSocket(protocol + '//' + window.location.host + '/ws');
      ws.onopen = function() {
        wsReconnectDelay = 1000;
      };
      ws.onmessage = function(event) {
        try {
          handleMessage(JSON.parse(event.data));
        } catch(e) {
          console.error('Failed to parse WebSocket message:', e);
        }
      };
      ws.onclose = function() {
        ws = null;
        // Exponential backoff with max 10 seconds
        wsReconnectDelay = Math.min(wsReconnectDelay * 1.5, 10000);
        trackingRevision = -1;
        setTimeout(connectWebSocket, wsReconnectDelay);
      };
    } catch(e) {
      setTimeout(connectWebSocket, wsReconnectDelay);
    }
  }

  connectWebSocket();

  // Fallback polling (only if WebSocket is disconnected)
  setInterval(function() {
    if (!ws || ws.readyState !== WebSocket.OPEN) {
      fetchState();
    }
  }, 5000);
})();
</script>
</body>
</html>`
