package tracking

import (
	"html/template"
)

var pages = template.Must(template.New("pages").Parse(`{{define "layout"}}<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{font-family:Arial,sans-serif;background:#f6f6f6;color:#333;margin:0;padding:40px 16px}
main{max-width:560px;margin:0 auto;background:#fff;border-radius:8px;padding:32px}
h1{font-size:22px;margin-top:0}
input{width:100%;padding:8px;margin:8px 0 16px;box-sizing:border-box}
button{background:#333;color:#fff;border:0;border-radius:4px;padding:10px 18px;cursor:pointer}
</style>
</head>
<body><main>{{template "content" .}}</main></body>
</html>{{end}}`))

var (
	confirmedPage = template.Must(template.Must(pages.Clone()).Parse(`{{define "content"}}
<h1>Te has dado de baja</h1>
<p>{{if .Email}}La dirección <strong>{{.Email}}</strong> ya no{{else}}Ya no{{end}} recibirá nuestros emails.</p>
<p>Si ha sido un error, puedes <a href="{{.PreferencesURL}}">volver a gestionar tus preferencias</a>.</p>
{{end}}`))

	errorPage = template.Must(template.Must(pages.Clone()).Parse(`{{define "content"}}
<h1>No hemos podido procesar la baja</h1>
<p>{{.Message}}</p>
{{end}}`))

	preferencesPage = template.Must(template.Must(pages.Clone()).Parse(`{{define "content"}}
<h1>Darse de baja</h1>
<form method="post" action="/unsubscribe">
<label for="email">Email</label>
<input id="email" name="email" type="email" value="{{.Email}}" required>
<button type="submit">Dejar de recibir emails</button>
</form>
{{end}}`))
)

type pageData struct {
	Title          string
	Email          string
	Message        string
	PreferencesURL string
}
