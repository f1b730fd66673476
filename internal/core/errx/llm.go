package errx

import "net/http"

// WrapLLM wraps a provider-side generation failure. Generation errors are
// terminal for one turn only, so the status stays a gateway-style 502.
func WrapLLM(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, LLMErrorMessage)
}
