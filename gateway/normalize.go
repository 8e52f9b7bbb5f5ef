package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/glFusion/shop-sub005/infra/response"
)

// KindMap is a pure mapping table from a gateway's native event-type
// vocabulary to the canonical taxonomy. Unmapped types normalize to
// EventUnknown and are still acknowledged; gateways send many event types
// the pipeline does not act on.
type KindMap map[string]EventKind

// Lookup resolves a native event type.
func (m KindMap) Lookup(native string) EventKind {
	if kind, ok := m[native]; ok {
		return kind
	}
	return EventUnknown
}

// ParseAmount parses a decimal amount string, tolerating surrounding
// whitespace and thousands separators. Missing amounts parse to zero; the
// normalizer only fails closed on missing identifiers.
func ParseAmount(raw string) float64 {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return 0
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return amount
}

// DigString walks a decoded JSON object along the given keys and returns
// the string leaf, tolerating missing optional nesting.
func DigString(m map[string]any, keys ...string) string {
	var cur any = m
	for _, key := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = obj[key]
	}
	switch v := cur.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// DigMap walks a decoded JSON object and returns a nested object.
func DigMap(m map[string]any, keys ...string) map[string]any {
	var cur any = m
	for _, key := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	out, _ := cur.(map[string]any)
	return out
}

// RequireEvent enforces the fail-closed rule: an event without its external
// reference id or order id cannot be applied to anything and is rejected.
func RequireEvent(ev *NotificationEvent) (*NotificationEvent, error) {
	if ev.ExternalRefID == "" {
		return nil, NormalizationFailedf("gateway %s: external reference id missing", ev.SourceGateway)
	}
	if ev.OrderID == "" && ev.Kind != EventUnknown {
		return nil, NormalizationFailedf("gateway %s: order id missing", ev.SourceGateway)
	}
	return ev, nil
}

// RespondJSON is the default respond strategy: status code plus the
// service's standard JSON body.
func RespondJSON(w http.ResponseWriter, outcome Outcome) {
	if outcome.Disposition == DispositionAck {
		response.Success(w, outcome.Status, outcome.Message, nil)
		return
	}
	response.Error(w, outcome.Status, outcome.Message, nil)
}

// RespondPlain is the legacy respond style: a literal body string, used by
// gateways that parse the response text rather than the status code.
func RespondPlain(ackBody string) RespondFunc {
	return func(w http.ResponseWriter, outcome Outcome) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(outcome.Status)
		if outcome.Disposition == DispositionAck {
			_, _ = w.Write([]byte(ackBody))
		}
	}
}
