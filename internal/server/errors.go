package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"example.com/dirserve/internal/logger"
	"example.com/dirserve/internal/render"
)

// ErrorPageTitle heads every HTML error page.
const ErrorPageTitle = "Oops! Something went wrong"

var jsonMarshalFunc = json.Marshal

// ErrorDetail is the JSON body of an error response.
type ErrorDetail struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponseJSON wraps ErrorDetail under an "error" key.
type ErrorResponseJSON struct {
	Error ErrorDetail `json:"error"`
}

// Status is the phrase and long description of an HTTP status code.
type Status struct {
	Code        int
	Phrase      string
	Description string
}

// StatusLine is "<code> <phrase>".
func (s Status) StatusLine() string {
	return strconv.Itoa(s.Code) + " " + s.Phrase
}

// StatusCatalog is a fixed code to Status table.
type StatusCatalog struct {
	byCode map[int]Status
}

var statusDescriptions = map[int]string{
	http.StatusContinue:                      "Request received, please continue",
	http.StatusSwitchingProtocols:            "Switching to new protocol; obey Upgrade header",
	http.StatusOK:                            "Request fulfilled, document follows",
	http.StatusCreated:                       "Document created, URL follows",
	http.StatusAccepted:                      "Request accepted, processing continues off-line",
	http.StatusNonAuthoritativeInfo:          "Request fulfilled from cache",
	http.StatusNoContent:                     "Request fulfilled, nothing follows",
	http.StatusResetContent:                  "Clear input form for further input",
	http.StatusPartialContent:                "Partial content follows",
	http.StatusMultipleChoices:               "Object has several resources -- see URI list",
	http.StatusMovedPermanently:              "Object moved permanently -- see URI list",
	http.StatusFound:                         "Object moved temporarily -- see URI list",
	http.StatusSeeOther:                      "Object moved -- see Method and URL list",
	http.StatusNotModified:                   "Document has not changed since given time",
	http.StatusUseProxy:                      "You must use proxy specified in Location to access this resource",
	http.StatusTemporaryRedirect:             "Object moved temporarily -- see URI list",
	http.StatusPermanentRedirect:             "Object moved permanently -- see URI list",
	http.StatusBadRequest:                    "Bad request syntax or unsupported method",
	http.StatusUnauthorized:                  "No permission -- see authorization schemes",
	http.StatusPaymentRequired:               "No payment -- see charging schemes",
	http.StatusForbidden:                     "Request forbidden -- authorization will not help",
	http.StatusNotFound:                      "Nothing matches the given URI",
	http.StatusMethodNotAllowed:              "Specified method is invalid for this resource",
	http.StatusNotAcceptable:                 "URI not available in preferred format",
	http.StatusProxyAuthRequired:             "You must authenticate with this proxy before proceeding",
	http.StatusRequestTimeout:                "Request timed out; try again later",
	http.StatusConflict:                      "Request conflict",
	http.StatusGone:                          "URI no longer exists and has been permanently removed",
	http.StatusLengthRequired:                "Client must specify Content-Length",
	http.StatusPreconditionFailed:            "Precondition in headers is false",
	http.StatusRequestEntityTooLarge:         "Entity is too large",
	http.StatusRequestURITooLong:             "URI is too long",
	http.StatusUnsupportedMediaType:          "Entity body in unsupported format",
	http.StatusRequestedRangeNotSatisfiable:  "Cannot satisfy request range",
	http.StatusExpectationFailed:             "Expect condition could not be satisfied",
	http.StatusMisdirectedRequest:            "Server is not able to produce a response",
	http.StatusUnprocessableEntity:           "The server understands the content type of the request entity, but was unable to process the contained instructions",
	http.StatusPreconditionRequired:          "The origin server requires the request to be conditional",
	http.StatusTooManyRequests:               "The user has sent too many requests in a given amount of time (\"rate limiting\")",
	http.StatusRequestHeaderFieldsTooLarge:   "The server is unwilling to process the request because its header fields are too large",
	http.StatusUnavailableForLegalReasons:    "The server is denying access to the resource as a consequence of a legal demand",
	http.StatusInternalServerError:           "Server got itself in trouble",
	http.StatusNotImplemented:                "Server does not support this operation",
	http.StatusBadGateway:                    "Invalid responses from another server/proxy",
	http.StatusServiceUnavailable:            "The server cannot process the request due to a high load",
	http.StatusGatewayTimeout:                "The gateway server did not receive a timely response",
	http.StatusHTTPVersionNotSupported:       "Cannot fulfill request",
	http.StatusNetworkAuthenticationRequired: "The client needs to authenticate to gain network access",
}

const genericDescription = "The server could not complete the request"

// NewStatusCatalog builds the catalog. Phrases come from http.StatusText.
func NewStatusCatalog() *StatusCatalog {
	c := &StatusCatalog{byCode: make(map[int]Status, len(statusDescriptions))}
	for code, desc := range statusDescriptions {
		c.byCode[code] = Status{Code: code, Phrase: http.StatusText(code), Description: desc}
	}
	return c
}

// Lookup returns the Status for code. Unknown codes get http.StatusText (or
// "Unknown Status") and a generic description.
func (c *StatusCatalog) Lookup(code int) Status {
	if s, ok := c.byCode[code]; ok {
		return s
	}
	phrase := http.StatusText(code)
	if phrase == "" {
		phrase = "Unknown Status"
	}
	return Status{Code: code, Phrase: phrase, Description: genericDescription}
}

// PrefersJSON reports whether an Accept header ranks application/json above
// every other acceptable type. Ties go to the more specific type, then to
// header order. An empty or unusable header means HTML.
func PrefersJSON(acceptHeaderValue string) bool {
	if acceptHeaderValue == "" {
		return false
	}

	type offer struct {
		mediaType string
		q         float64
		specific  bool
		order     int
	}
	var offers []offer

	for i, partStr := range strings.Split(acceptHeaderValue, ",") {
		partStr = strings.TrimSpace(partStr)
		mediaType := partStr
		qValue := 1.0

		if idx := strings.Index(partStr, ";"); idx != -1 {
			mediaType = strings.TrimSpace(partStr[:idx])
			for _, param := range strings.Split(partStr[idx+1:], ";") {
				param = strings.TrimSpace(param)
				if !strings.HasPrefix(param, "q=") {
					continue
				}
				if q, err := strconv.ParseFloat(param[2:], 64); err == nil && q >= 0 && q <= 1 {
					qValue = q
				} else {
					qValue = 0
				}
				break
			}
		}

		if qValue > 0 && mediaType != "" {
			offers = append(offers, offer{
				mediaType: strings.ToLower(mediaType),
				q:         qValue,
				specific:  !strings.HasSuffix(mediaType, "/*") && mediaType != "*/*",
				order:     i,
			})
		}
	}

	if len(offers) == 0 {
		return false
	}

	sort.Slice(offers, func(i, j int) bool {
		if offers[i].q != offers[j].q {
			return offers[i].q > offers[j].q
		}
		if offers[i].specific != offers[j].specific {
			return offers[i].specific
		}
		return offers[i].order < offers[j].order
	})

	return offers[0].mediaType == "application/json"
}

// ErrorWriter renders error responses as HTML pages or JSON documents.
type ErrorWriter struct {
	catalog  *StatusCatalog
	renderer *render.Renderer
	log      *logger.Logger
}

// NewErrorWriter returns an ErrorWriter. A nil catalog or logger selects the
// defaults.
func NewErrorWriter(catalog *StatusCatalog, renderer *render.Renderer, lg *logger.Logger) *ErrorWriter {
	if catalog == nil {
		catalog = NewStatusCatalog()
	}
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	return &ErrorWriter{catalog: catalog, renderer: renderer, log: lg}
}

// Catalog returns the status table used for pages.
func (ew *ErrorWriter) Catalog() *StatusCatalog { return ew.catalog }

// WriteError sends a complete error response. detail is shown to the client
// (for a 404, the decoded request path). HEAD requests get headers only.
func (ew *ErrorWriter) WriteError(w http.ResponseWriter, r *http.Request, statusCode int, detail string) {
	status := ew.catalog.Lookup(statusCode)

	var body []byte
	contentType := "text/html; charset=utf-8"

	if PrefersJSON(r.Header.Get("Accept")) {
		b, err := jsonMarshalFunc(ErrorResponseJSON{Error: ErrorDetail{
			StatusCode: statusCode,
			Message:    status.Phrase,
			Detail:     detail,
		}})
		if err != nil {
			ew.log.Error("Failed to marshal JSON error response, falling back to HTML.", logger.LogFields{"error": err.Error(), "status_code": statusCode})
		} else {
			body = b
			contentType = "application/json; charset=utf-8"
		}
	}

	if body == nil {
		b, err := ew.renderer.Error(render.ErrorPage{
			Title:      ErrorPageTitle,
			StatusCode: status.StatusLine(),
			Message:    status.Description,
			Traceback:  detail,
		})
		if err != nil {
			ew.log.Error("Failed to render error page", logger.LogFields{"error": err.Error(), "status_code": statusCode})
			b = []byte(fmt.Sprintf("%s\n%s\n", status.StatusLine(), status.Description))
			contentType = "text/plain; charset=utf-8"
		}
		body = b
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Del("Content-Disposition")
	h.Del("Content-Description")
	h.Del("Content-Transfer-Encoding")
	w.WriteHeader(statusCode)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		ew.log.Debug("Failed to write error response body", logger.LogFields{"error": err.Error(), "status_code": statusCode})
	}
}
