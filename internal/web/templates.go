package web

// Page templates. baseHTML carries the shared chrome; each page template
// defines "content" and is concatenated with it at parse time.

const baseHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>medic</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2rem auto; max-width: 64rem; color: #222; }
a { color: #0b60d8; text-decoration: none; }
table { border-collapse: collapse; width: 100%; margin-top: 1rem; }
th, td { text-align: left; padding: 0.4rem 0.8rem; border-bottom: 1px solid #e3e3e3; font-size: 0.9rem; }
th { color: #666; font-weight: 600; }
code { background: #f4f4f4; padding: 0.1rem 0.3rem; border-radius: 3px; }
.badge { padding: 0.1rem 0.5rem; border-radius: 9px; font-size: 0.8rem; }
.badge-success { background: #d7f5dc; color: #157a2e; }
.badge-exhausted { background: #fde5c0; color: #9a5b00; }
.badge-aborted { background: #fbd9d9; color: #a61b1b; }
.badge-running { background: #e3ecfb; color: #0b60d8; }
.muted { color: #888; }
</style>
</head>
<body>
<h2><a href="/">medic</a></h2>
{{template "content" .}}
</body>
</html>`

const dashboardHTML = `{{define "content"}}
<h3>Repair runs</h3>
{{if not .Runs}}<p class="muted">No runs recorded yet.</p>{{end}}
<table>
<tr><th>Run</th><th>Outcome</th><th>Iterations</th><th>Repo</th><th>Build</th><th>Started</th></tr>
{{range .Runs}}
<tr>
<td><a href="/runs/{{.RunID}}"><code>{{.RunID}}</code></a></td>
<td><span class="{{badgeClass .Outcome}}">{{if .Outcome}}{{.Outcome}}{{else}}running{{end}}</span></td>
<td>{{.Iterations}}</td>
<td>{{.Repo}}</td>
<td><code>{{.BuildCmd}}</code></td>
<td class="muted">{{relTime .StartedAt}}</td>
</tr>
{{end}}
</table>
{{end}}`

const runHTML = `{{define "content"}}
<h3>Run <code>{{.Run.RunID}}</code>
<span class="{{badgeClass .Run.Outcome}}">{{if .Run.Outcome}}{{.Run.Outcome}}{{else}}running{{end}}</span></h3>
<p class="muted">{{.Run.Task}} — <code>{{.Run.BuildCmd}}</code> in {{.Run.Repo}}</p>
<table>
<tr><th>Iter</th><th>State</th><th>Target</th><th>Signature</th><th>Exit</th><th>Detail</th></tr>
{{range .Iterations}}
<tr>
<td>{{.Iteration}}</td>
<td>{{.State}}</td>
<td>{{.Target}}</td>
<td class="muted"><code>{{shortSig .Signature}}</code></td>
<td>{{.ExitCode}}</td>
<td>{{.Detail}}</td>
</tr>
{{end}}
</table>
{{if .Skips}}
<h4>Skipped targets</h4>
<table>
<tr><th>Target</th><th>Skipped at iteration</th><th>Signature</th></tr>
{{range .Skips}}
<tr><td>{{.Target}}</td><td>{{.Iterations}}</td><td class="muted"><code>{{shortSig .Signature}}</code></td></tr>
{{end}}
</table>
{{end}}
{{end}}`
