package pfwall

// RequestKind discriminates a control-plane request (spec.md §6.2).
type RequestKind uint8

const (
	ListFilterRules RequestKind = iota
	AddFilterRule
	DeleteFilterRule
	SetDefaultAction
	ListLogs
	ListConnections
	AddNatRule
	DeleteNatRule
	ListNatRules
)

// BodyType discriminates a control-plane response body (spec.md §6.2).
type BodyType uint8

const (
	BodyMsg BodyType = iota
	BodyIPRules
	BodyHeadOnly
	BodyIPLogs
	BodyConnLogs
	BodyNatRules
)

// Request is a typed control-plane request. Only the fields relevant to
// Kind are consulted by Dispatch.
type Request struct {
	Kind RequestKind

	// add_filter_rule
	AnchorName string
	FilterRule FilterRule

	// delete_filter_rule
	RuleName string

	// set_default_action
	Action Verdict

	// list_logs
	N int

	// add_nat_rule
	NatRule NatRule

	// delete_nat_rule
	Index int
}

// Response is the typed control-plane response. Response header layout is
// bit-level compatible with {u32 body_type; u32 array_len;} followed by the
// array (spec.md §6.2). For list responses ArrayLen is the length of the body
// slice that is set; for BodyHeadOnly responses it is the number of rules
// removed; for BodyMsg responses it is 0.
type Response struct {
	BodyType BodyType
	ArrayLen int

	Msg         string
	FilterRules []FilterRule
	Logs        []LogRecord
	Connections []FlowSnapshot
	NatRules    []NatRule
}

// Handler dispatches typed requests against an Engine and produces typed
// responses (spec.md §4.6). Each request maps to exactly one response in a
// single synchronous call, with no transport of its own;
// the abstract message channel spec.md §1 places out of scope can wrap it
// however it likes (in-process call, net/rpc, a pipe).
type Handler struct {
	engine *Engine
}

// NewHandler creates a control-plane handler bound to engine.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// Dispatch processes req to completion and returns the response. Errors
// never propagate past this boundary: an add_filter_rule failure is surfaced
// as a status string in a BodyMsg response (spec.md §7), and a delete that
// fails (negative or out-of-range index) is a BodyHeadOnly response with
// ArrayLen 0.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Kind {
	case ListFilterRules:
		rules := h.engine.FilterChain.Snapshot()
		return Response{BodyType: BodyIPRules, ArrayLen: len(rules), FilterRules: rules}

	case AddFilterRule:
		rule := req.FilterRule
		if err := h.engine.FilterChain.AddAfter(req.AnchorName, &rule); err != nil {
			return Response{BodyType: BodyMsg, Msg: err.Error()}
		}
		return Response{BodyType: BodyMsg, Msg: "ok"}

	case DeleteFilterRule:
		n := h.engine.FilterChain.DeleteByName(req.RuleName)
		return Response{BodyType: BodyHeadOnly, ArrayLen: n}

	case SetDefaultAction:
		h.engine.FilterChain.SetDefaultAction(req.Action)
		return Response{BodyType: BodyMsg, Msg: "ok"}

	case ListLogs:
		n := req.N
		if n <= 0 {
			n = h.engine.LogBuffer.Len()
		}
		logs := h.engine.LogBuffer.Snapshot(n)
		return Response{BodyType: BodyIPLogs, ArrayLen: len(logs), Logs: logs}

	case ListConnections:
		conns := h.engine.Tracker.Snapshot()
		return Response{BodyType: BodyConnLogs, ArrayLen: len(conns), Connections: conns}

	case AddNatRule:
		rule := req.NatRule
		h.engine.NatChain.Append(&rule)
		return Response{BodyType: BodyMsg, Msg: "ok"}

	case DeleteNatRule:
		if req.Index < 0 {
			return Response{BodyType: BodyHeadOnly, ArrayLen: 0}
		}
		n, err := h.engine.NatChain.DeleteAt(req.Index)
		if err != nil {
			return Response{BodyType: BodyHeadOnly, ArrayLen: 0}
		}
		return Response{BodyType: BodyHeadOnly, ArrayLen: n}

	case ListNatRules:
		rules := h.engine.NatChain.Snapshot()
		return Response{BodyType: BodyNatRules, ArrayLen: len(rules), NatRules: rules}

	default:
		return Response{BodyType: BodyMsg, Msg: "unknown request kind"}
	}
}
