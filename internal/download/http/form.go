package http

import (
	"html/template"
	"net/http"

	"github.com/aussiebroadwan/droplock/pkg/httpx"
	"github.com/aussiebroadwan/droplock/pkg/slogx"
)

// formMessages maps the msg query parameter to the text shown above the form.
// Both "used" and "already_used" resolve to the same text so older links keep
// working.
var formMessages = map[string]string{
	"invalid":      "That code is not valid. Check it and try again.",
	"used":         "That code has already been used.",
	"already_used": "That code has already been used.",
	"max_attempts": "Too many download attempts for that code.",
}

var formTmpl = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="robots" content="noindex, nofollow">
<title>Download</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 28rem; margin: 4rem auto; padding: 0 1rem; }
input[type=text] { font-size: 1.4rem; letter-spacing: .3rem; text-transform: uppercase; width: 100%; padding: .5rem; box-sizing: border-box; }
button { font-size: 1.1rem; margin-top: 1rem; padding: .5rem 1.5rem; }
.msg { padding: .75rem 1rem; border: 1px solid #c66; background: #fee; margin-bottom: 1.5rem; }
</style>
</head>
<body>
<h1>Enter your download code</h1>
{{if .Message}}<p class="msg">{{.Message}}</p>{{end}}
<form method="post" action="{{.Action}}" autocomplete="off">
<input type="hidden" name="nonce" value="{{.Nonce}}">
<input type="text" name="download_code" maxlength="12" autofocus required
       spellcheck="false" autocapitalize="characters" placeholder="XXXXXX">
<button type="submit">Download</button>
</form>
</body>
</html>
`))

// FormHandler renders the public code entry form.
type FormHandler struct {
	Nonces *NonceIssuer
}

func (h *FormHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	data := struct {
		Action  string
		Nonce   string
		Message string
	}{
		Action:  FormPath,
		Nonce:   h.Nonces.Issue(),
		Message: formMessages[r.URL.Query().Get("msg")],
	}

	httpx.NoCache(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := formTmpl.Execute(w, data); err != nil {
		log.Error("failed to render download form", "error", err)
	}
}
