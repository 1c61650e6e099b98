// Package webreq contains the data model of the network requests a page makes
// while it loads.  The field names and JSON tags follow the Chrome DevTools
// Protocol Network.requestWillBeSent event.
package webreq

// ResourceType is the type of the resource a request loads, as reported by the
// browser.
type ResourceType string

// Resource types that the filtering rules distinguish.  Browsers report more
// types than these, for example "Font" or "Fetch"; such requests only match
// rules without resource-type modifiers.
const (
	ResourceTypeDocument   ResourceType = "Document"
	ResourceTypeStylesheet ResourceType = "Stylesheet"
	ResourceTypeScript     ResourceType = "Script"
	ResourceTypeImage      ResourceType = "Image"
	ResourceTypeMedia      ResourceType = "Media"
	ResourceTypeWebSocket  ResourceType = "WebSocket"
	ResourceTypeXHR        ResourceType = "XHR"
	ResourceTypeOther      ResourceType = "Other"
)

// RequestInfo is the information about a single outgoing request captured
// during a page load.
type RequestInfo struct {
	// Request is the request itself.  It must not be nil.
	Request *Request `json:"request"`

	// Initiator describes what caused the request.  It may be nil.
	Initiator *Initiator `json:"initiator,omitempty"`

	// DocumentURL is the URL of the document this request is loaded for.
	DocumentURL string `json:"documentURL"`

	// Type is the type of the loaded resource.  It may be empty.
	Type ResourceType `json:"type,omitempty"`
}

// Request contains the data of an outgoing HTTP request.
type Request struct {
	// Headers are the request headers.
	Headers map[string]string `json:"headers,omitempty"`

	// URL is the requested URL.
	URL string `json:"url"`

	// Method is the HTTP method of the request.
	Method string `json:"method"`

	// ReferrerPolicy is the referrer policy of the request.
	ReferrerPolicy string `json:"referrerPolicy,omitempty"`

	// IsSameSite is true if the request is made to the same site as the
	// document.  A nil value means that the browser didn't report it.
	IsSameSite *bool `json:"isSameSite,omitempty"`
}

// Initiator describes the origin of a request.
type Initiator struct {
	// Stack is the JavaScript stack trace of the initiator, if any.
	Stack *StackTrace `json:"stack,omitempty"`

	// Type is the type of the initiator, for example "parser" or "script".
	Type string `json:"type"`

	// URL is the URL of the initiator, if any.
	URL string `json:"url,omitempty"`

	// LineNumber is the zero-based line number of the initiator.
	LineNumber float64 `json:"lineNumber,omitempty"`

	// ColumnNumber is the zero-based column number of the initiator.
	ColumnNumber float64 `json:"columnNumber,omitempty"`
}

// StackTrace is a JavaScript call stack.
type StackTrace struct {
	// Parent is the asynchronous parent stack trace, if any.
	Parent *StackTrace `json:"parent,omitempty"`

	// Description is an optional label of the trace, for example the name of
	// the asynchronous operation.
	Description string `json:"description,omitempty"`

	// CallFrames are the frames of the trace, innermost first.
	CallFrames []*CallFrame `json:"callFrames"`
}

// CallFrame is a single stack frame.
type CallFrame struct {
	FunctionName string `json:"functionName"`
	ScriptID     string `json:"scriptId"`
	URL          string `json:"url"`

	LineNumber   int `json:"lineNumber"`
	ColumnNumber int `json:"columnNumber"`
}

// IsSameSite returns true if ri is known to be a same-site request.  ri must
// not be nil.
func (ri *RequestInfo) IsSameSite() (ok bool) {
	return ri.Request != nil && ri.Request.IsSameSite != nil && *ri.Request.IsSameSite
}

// URL returns the requested URL.  ri must not be nil.
func (ri *RequestInfo) URL() (u string) {
	if ri.Request == nil {
		return ""
	}

	return ri.Request.URL
}
