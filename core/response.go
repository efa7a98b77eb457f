package core

import "net/http"

// Response renders itself onto the wire. Handlers return a Response instead
// of writing directly, which keeps status and encoding decisions in one
// place.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Respond renders resp and logs nothing: encoding errors after the header is
// written cannot be reported to the client anyway.
func Respond(w http.ResponseWriter, r *http.Request, resp Response) {
	_ = resp.Render(w, r)
}
