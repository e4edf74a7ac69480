package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"pss-server/pkg/auth"
	"pss-server/pkg/database"
	"pss-server/pkg/errors"
)

// maxJSONBodyBytes bounds JSON request bodies. Recordings use multipart
// uploads with their own limit.
const maxJSONBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err == io.EOF {
			if allowEmpty {
				return nil
			}
			return errors.NewInvalidInput("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.Wrap(errors.ErrPayloadTooLarge, "request body too large").WithCode("PAYLOAD_TOO_LARGE")
		}
		return errors.NewInvalidInput("malformed JSON body: " + err.Error())
	}
	return nil
}

// currentUser returns the caller placed in the context by the auth
// middleware. Services reject a nil user as unauthenticated.
func currentUser(r *http.Request) *auth.UserInfo {
	user, _ := auth.UserFromContext(r.Context())
	return user
}

func listOptions(r *http.Request) (database.ListOptions, error) {
	var opts database.ListOptions
	query := r.URL.Query()

	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, errors.NewInvalidInput(name+" must be a non-negative integer", map[string]interface{}{name: raw})
		}
		*dst = n
	}
	return opts, nil
}

type listResponse struct {
	Items  interface{} `json:"items"`
	Count  int         `json:"count"`
	Offset int         `json:"offset"`
}
