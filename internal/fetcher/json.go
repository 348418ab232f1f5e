package fetcher

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/resilience"
)

// DecodeJSON decodes a response body into v. A body that is not valid JSON
// (for example an HTML error page served with 200) is reported as transient
// so the request is retried like any other upstream hiccup.
func DecodeJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "json: decode object"), 0)
	}
	return nil
}
