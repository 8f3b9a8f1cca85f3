package gmail

import (
	"html/template"
	"net/http"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>{{.Title}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background: #f6f8fa;
        }
        .card {
            background: #fff;
            padding: 40px 48px;
            border-radius: 12px;
            box-shadow: 0 4px 12px rgba(0, 0, 0, 0.08);
            text-align: center;
            max-width: 440px;
        }
        h1 { margin-top: 0; }
        .ok { color: #1a7f37; }
        .fail { color: #cf222e; }
        .info { color: #0969da; }
        p { color: #57606a; }
    </style>
</head>
<body>
    <div class="card">
        <h1 class="{{.Class}}">{{.Title}}</h1>
        <p>{{.Message}}</p>
        <p>You can close this window and return to the terminal.</p>
    </div>
</body>
</html>`))

type page struct {
	Title   string
	Message string
	Class   string
}

func renderSuccess(w http.ResponseWriter) {
	renderPage(w, http.StatusOK, page{
		Title:   "Authorization Successful",
		Message: "inboxd now has read-only access to your mailbox.",
		Class:   "ok",
	})
}

func renderFailure(w http.ResponseWriter, status int, reason string) {
	renderPage(w, status, page{
		Title:   "Authorization Failed",
		Message: reason,
		Class:   "fail",
	})
}

// renderHandled answers callbacks that arrive after the first one.
func renderHandled(w http.ResponseWriter) {
	renderPage(w, http.StatusConflict, page{
		Title:   "Authorization Already Handled",
		Message: "This sign-in request was already completed. Start a new one from the terminal if needed.",
		Class:   "info",
	})
}

func renderPage(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, p)
}
