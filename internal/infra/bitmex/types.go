package bitmex

// Wire-format request/response types. Prices cross this boundary as float64
// because the exchange speaks plain JSON numbers; domain code uses decimals.

// OrderSubmission is one new order in a create call.
type OrderSubmission struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side,omitempty"`
	OrderQty int64   `json:"orderQty"`
	Price    float64 `json:"price"`
	ClOrdID  string  `json:"clOrdID"`
	ExecInst string  `json:"execInst,omitempty"`
}

// OrderAmendment amends a resting order in place, keeping its exchange
// identity.
type OrderAmendment struct {
	OrderID   string  `json:"orderID"`
	LeavesQty int64   `json:"leavesQty"`
	Price     float64 `json:"price"`
	Side      string  `json:"side,omitempty"`
}

type bulkOrdersRequest struct {
	Orders any `json:"orders"`
}

type cancelRequest struct {
	OrderID []string `json:"orderID"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Token    string `json:"token,omitempty"`
}

type loginResponse struct {
	ID string `json:"id"`
}

// apiError is the exchange's error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Name    string `json:"name"`
	} `json:"error"`
}

// wsEnvelope covers every inbound streaming message: subscription acks,
// status codes, and table deltas.
type wsEnvelope struct {
	// Subscription ack / error
	Success   bool   `json:"success,omitempty"`
	Subscribe string `json:"subscribe,omitempty"`
	Error     string `json:"error,omitempty"`
	Request   *struct {
		Op   string `json:"op"`
		Args []any  `json:"args"`
	} `json:"request,omitempty"`

	// Status message
	Status int `json:"status,omitempty"`

	// Table delta
	Table  string           `json:"table,omitempty"`
	Action string           `json:"action,omitempty"`
	Keys   []string         `json:"keys,omitempty"`
	Data   []map[string]any `json:"data,omitempty"`
}
