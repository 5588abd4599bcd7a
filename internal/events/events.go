// Package events defines the domain events the core emits and the
// fire-and-forget sink that receives them. The core never blocks on a
// subscriber; Publish is expected to be cheap (buffer, log, or hand off
// to a transport layer) and never to return an error the caller must
// react to.
package events

// Topic names the event's delivery channel, mirroring the core's
// upstream message type tags.
type Topic string

const (
	// TopicBalance carries U3 balance-update events.
	TopicBalance Topic = "U3"
	// TopicVerification carries B11 verify-customer-refresh events.
	TopicVerification Topic = "B11"
	// TopicEmail carries C e-mail job events, also mirrored to EMAIL.
	TopicEmail Topic = "C"
	TopicEmailAlias Topic = "EMAIL"
	// TopicOrder/TopicTrade carry execution events to the RPC websocket hub.
	TopicOrder  Topic = "order"
	TopicTrade  Topic = "trade"
	// TopicReconciliation carries advisory reconciliation failures.
	TopicReconciliation Topic = "reconciliation_failure"
)

// BalanceUpdate is the U3 event payload: the new balance for one
// (account, broker, currency) key.
type BalanceUpdate struct {
	MsgType  string `json:"MsgType"`
	ClientID int64  `json:"ClientID"`
	BrokerID int64  `json:"BrokerID"`
	Currency string `json:"Currency"`
	Balance  int64  `json:"Balance"`
}

// VerificationUpdate is the B11 event payload.
type VerificationUpdate struct {
	MsgType          string `json:"MsgType"`
	ClientID         int64  `json:"ClientID"`
	BrokerID         int64  `json:"BrokerID"`
	Username         string `json:"Username"`
	Verified         int    `json:"Verified"`
	VerificationData string `json:"VerificationData,omitempty"`
}

// EmailJob is the C e-mail job event payload.
type EmailJob struct {
	MsgType         string            `json:"MsgType"`
	EmailThreadID   string            `json:"EmailThreadID"`
	OrigTime        int64             `json:"OrigTime"`
	To              string            `json:"To"`
	Subject         string            `json:"Subject"`
	Language        string            `json:"Language"`
	EmailType       string            `json:"EmailType"`
	RawData         string            `json:"RawData,omitempty"`
	RawDataLength   int               `json:"RawDataLength,omitempty"`
	Template        string            `json:"Template,omitempty"`
	Params          map[string]string `json:"Params,omitempty"`
}

// ReconciliationFailure is emitted by internal/reporting when a ledger
// invariant check finds a discrepancy. Additive to the existing event
// schema; does not replace or alter it.
type ReconciliationFailure struct {
	MsgType string `json:"MsgType"`
	Check   string `json:"Check"`
	Detail  string `json:"Detail"`
}

// Publisher is the sink the core publishes to. Implementations must not
// block the caller for long; Publish is called from the same critical
// section that committed the underlying mutation (§5).
type Publisher interface {
	Publish(topic Topic, event interface{})
}

// NopPublisher discards every event. Useful in tests that don't care
// about the event stream.
type NopPublisher struct{}

func (NopPublisher) Publish(Topic, interface{}) {}

// Multi fans a publish out to several sinks, in order. A panic in one
// sink does not prevent delivery to the others.
type Multi []Publisher

func (m Multi) Publish(topic Topic, event interface{}) {
	for _, p := range m {
		func() {
			defer func() { recover() }()
			p.Publish(topic, event)
		}()
	}
}
