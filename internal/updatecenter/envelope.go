package updatecenter

import "strings"

const (
	postMessagePreamble = "window.parent.postMessage(JSON.stringify("
	postMessageSuffix   = "),'*');"
)

// extractJSONP strips a JSONP-style wrapper (`callback({...});`) down to the
// raw JSON object by locating the first '{' and the last '}'.
func extractJSONP(body string) (string, error) {
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start == -1 || end == -1 || end < start {
		return "", &MalformedEnvelope{Reason: "no balanced { ... } region found"}
	}
	return body[start : end+1], nil
}

// extractPostMessage strips the HTML postMessage envelope historically used
// by update sites embedded in an iframe.
func extractPostMessage(body string) (string, error) {
	start := strings.Index(body, postMessagePreamble)
	if start == -1 {
		return "", &MalformedEnvelope{Reason: "postMessage preamble not found"}
	}
	start += len(postMessagePreamble)

	end := strings.Index(body[start:], postMessageSuffix)
	if end == -1 {
		return "", &MalformedEnvelope{Reason: "postMessage suffix not found"}
	}

	return strings.TrimSpace(body[start : start+end]), nil
}

// extractMetadataJSON tries the postMessage envelope first (the format
// preferred by current sites) and falls back to the legacy JSONP envelope.
func extractMetadataJSON(body string) (string, error) {
	if json, err := extractPostMessage(body); err == nil {
		return json, nil
	}
	return extractJSONP(body)
}
