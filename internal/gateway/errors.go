package gateway

import (
	"errors"
	"net/http"
	"strings"

	"imagetool/internal/imagemage"
	"imagetool/internal/tooling"
)

// ErrorBody is the wire form of a failed tool call.
type ErrorBody struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// classify maps a tool error to an HTTP status and its wire form.
func classify(err error) (int, *ErrorBody) {
	eb := &ErrorBody{Kind: "internal", Message: err.Error()}

	var (
		re *imagemage.ResolutionError
		de *imagemage.DownloadError
		pe *imagemage.ProcessError
	)
	switch {
	case errors.Is(err, tooling.ErrUnknownTool):
		eb.Kind = "unknown_tool"
		return http.StatusNotFound, eb
	case errors.Is(err, tooling.ErrInvalidInput), errors.Is(err, imagemage.ErrInvalidRequest):
		eb.Kind = "invalid_input"
		return http.StatusBadRequest, eb
	case errors.As(err, &re):
		eb.Kind = wireKind("resolution", re.Kind.String())
		return http.StatusUnprocessableEntity, eb
	case errors.As(err, &de):
		eb.Kind = wireKind("download", de.Kind.String())
		if de.Kind == imagemage.DownloadTimeout {
			return http.StatusGatewayTimeout, eb
		}
		return http.StatusBadGateway, eb
	case errors.As(err, &pe):
		eb.Kind = wireKind("process", pe.Kind.String())
		if pe.Kind == imagemage.ExecutionFailed {
			code := pe.ExitCode
			eb.ExitCode = &code
		}
		if pe.Kind == imagemage.ProcessTimeout {
			return http.StatusGatewayTimeout, eb
		}
		return http.StatusBadGateway, eb
	}
	return http.StatusInternalServerError, eb
}

// wireKind turns ("download", "http status") into "download_http_status".
func wireKind(category, kind string) string {
	return category + "_" + strings.ReplaceAll(kind, " ", "_")
}
