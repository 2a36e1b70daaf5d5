package httpbinding

import (
	"encoding/json"
	"net/http"

	"github.com/mabumohsen/veggieshop-sub000/pkg/problem"
)

// WriteProblem renders err as an RFC 7807 problem+json body. Non-problem
// errors are rendered as internal-error so a handler bug never leaks a Go
// error string to the caller.
func WriteProblem(w http.ResponseWriter, r *http.Request, err error) {
	pe, ok := problem.As(err)
	if !ok {
		pe = problem.New(problem.InternalError, "internal error", nil)
	}
	doc := pe.Render(problem.DocumentOptions{Instance: r.URL.Path})
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(doc.Status)
	_ = json.NewEncoder(w).Encode(doc)
}
