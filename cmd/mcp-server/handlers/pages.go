package handlers

import (
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"
)

var pageTemplates = template.Must(template.New("layout").Parse(`
{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0" />
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; background:#0f172a; color:#e2e8f0; display:flex; align-items:center; justify-content:center; min-height:100vh; margin:0; }
    .card { background:#111827; border:1px solid #1f2937; padding:32px; border-radius:12px; max-width:420px; width:100%; }
    h1 { margin:0 0 12px; font-size:22px; }
    p { color:#94a3b8; }
    label { display:block; margin:12px 0 4px; font-size:14px; }
    input { width:100%; box-sizing:border-box; padding:8px; border-radius:6px; border:1px solid #334155; background:#0f172a; color:#e2e8f0; }
    button { margin-top:18px; width:100%; padding:10px; border:0; border-radius:6px; background:#2563eb; color:white; font-size:15px; }
    .error { color:#f87171; }
    .ok { color:#4ade80; }
  </style>
</head>
<body><div class="card">{{end}}
{{define "foot"}}</div></body></html>{{end}}

{{define "message"}}{{template "head" .}}
  <h1>{{.Title}}</h1>
  <p{{if .Error}} class="error"{{end}}>{{.Message}}</p>
{{template "foot" .}}{{end}}

{{define "refresh"}}{{template "head" .}}
  <h1>{{.Title}}</h1>
  {{if .Message}}<p class="{{if .Error}}error{{else}}ok{{end}}">{{.Message}}</p>{{end}}
  {{if .Done}}
  <p>You can close this window and return to your assistant.</p>
  {{else}}
  <p>Sign in with your Monarch Money account. Your password is sent to Monarch once and never stored.</p>
  <form method="POST" action="/auth/refresh">
    <label for="email">Email</label>
    <input id="email" name="email" type="email" value="{{.Email}}" required autocomplete="username" />
    <label for="password">Password</label>
    <input id="password" name="password" type="password" required autocomplete="current-password" />
    {{if .NeedMFA}}
    <label for="mfa_code">Multi-factor code</label>
    <input id="mfa_code" name="mfa_code" inputmode="numeric" autocomplete="one-time-code" autofocus />
    {{end}}
    <button type="submit">Connect Monarch Money</button>
  </form>
  {{end}}
{{template "foot" .}}{{end}}
`))

type pageData struct {
	Title   string
	Message string
	Error   bool
	Email   string
	NeedMFA bool
	Done    bool
}

func renderPage(w http.ResponseWriter, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		log.Error().Err(err).Str("page", name).Msg("failed to render page")
	}
}

func renderMessage(w http.ResponseWriter, status int, title, message string) {
	renderPage(w, status, "message", pageData{Title: title, Message: message, Error: status >= http.StatusBadRequest})
}
