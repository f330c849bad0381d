package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Outbound frame names.
const (
	frameAuth      = "ssid"
	frameSend      = "sendMessage"
	frameSubscribe = "subscribe"
	frameHeartbeat = "heartbeat"

	msgGetProfile    = "get-profile"
	msgChangeBalance = "change-balance"
	msgOpenOption    = "binary-options.open-option"
	msgQuotes        = "quotes"
	msgQuote         = "quote-generated"
	msgOptionChanged = "option-changed"

	// turbo options settle on the next minute boundary
	optionTypeTurbo = 3
)

type outbound struct {
	Name      string `json:"name"`
	RequestID string `json:"request_id,omitempty"`
	Msg       any    `json:"msg"`
}

type request struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Body    any    `json:"body"`
}

type subscription struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

type openOptionBody struct {
	UserBalanceID int64       `json:"user_balance_id"`
	ActiveID      int         `json:"active_id"`
	OptionTypeID  int         `json:"option_type_id"`
	Direction     string      `json:"direction"`
	Expired       int64       `json:"expired"`
	Price         json.Number `json:"price"`
	Value         json.Number `json:"value"`
	ProfitIncome  json.Number `json:"profit_income"`
	TimeRate      int64       `json:"time_rate"`
}

// wireNumber renders d as a bare JSON number; decimal marshals as a string.
func wireNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func authFrame(token string) outbound {
	return outbound{Name: frameAuth, Msg: token}
}

func sendFrame(reqID, name string, body any) outbound {
	if body == nil {
		body = struct{}{}
	}
	return outbound{Name: frameSend, RequestID: reqID, Msg: request{Name: name, Version: "1.0", Body: body}}
}

func profileFrame(reqID string) outbound {
	return sendFrame(reqID, msgGetProfile, nil)
}

func changeBalanceFrame(reqID string, balanceID int64) outbound {
	return sendFrame(reqID, msgChangeBalance, map[string]int64{"balance_id": balanceID})
}

func quoteSubscribeFrame(reqID string, activeID int) outbound {
	return outbound{
		Name:      frameSubscribe,
		RequestID: reqID,
		Msg: subscription{
			Name:   msgQuotes,
			Params: map[string]any{"routingFilters": map[string]int{"active_id": activeID}},
		},
	}
}

func openOptionFrame(reqID string, body openOptionBody) outbound {
	body.OptionTypeID = optionTypeTurbo
	body.Value = body.Price
	return sendFrame(reqID, msgOpenOption, body)
}

func heartbeatReply(serverTime int64, now time.Time) outbound {
	return outbound{Name: frameHeartbeat, Msg: map[string]int64{
		"userTime":      now.UnixMilli(),
		"heartbeatTime": serverTime,
	}}
}

// ServerFrame is one decoded inbound frame. The set of implementations is
// closed; unrecognised names decode to UnknownFrame.
type ServerFrame interface {
	frameName() string
}

// ProfileFrame answers get-profile.
type ProfileFrame struct {
	UserID   string
	Balances []Balance
}

// Balance is one account balance; Type 1 is live and 4 is practice.
type Balance struct {
	ID     int64           `json:"id"`
	Type   int             `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

// QuoteFrame is a quote-generated push.
type QuoteFrame struct {
	ActiveID int
	Value    decimal.Decimal
	Time     time.Time
}

// OptionFrame answers open-option and carries the request id it replies to.
type OptionFrame struct {
	RequestID string
	Status    int
	ID        string
	Message   string
}

// OptionChangedFrame is the broker's acceptance of an open-option request.
type OptionChangedFrame struct {
	RequestID string
	ID        string
}

// OptionClosedFrame reports settlement of an option.
type OptionClosedFrame struct {
	ID           string
	Result       string
	Amount       decimal.Decimal
	ProfitAmount decimal.Decimal
}

// HeartbeatFrame is a server heartbeat that must be answered.
type HeartbeatFrame struct {
	Time int64
}

// UnauthorizedFrame is any frame that rejects the session token.
type UnauthorizedFrame struct {
	RequestID string
	Status    int
}

// UnknownFrame is anything else.
type UnknownFrame struct {
	Name string
}

func (ProfileFrame) frameName() string       { return "profile" }
func (QuoteFrame) frameName() string         { return msgQuote }
func (OptionFrame) frameName() string        { return "option" }
func (OptionChangedFrame) frameName() string { return msgOptionChanged }
func (OptionClosedFrame) frameName() string  { return "option-closed" }
func (HeartbeatFrame) frameName() string     { return frameHeartbeat }
func (UnauthorizedFrame) frameName() string  { return "unauthorized" }
func (f UnknownFrame) frameName() string     { return f.Name }

// Accepted reports whether the broker opened the option.
func (f OptionFrame) Accepted() bool {
	return f.ID != "" && f.ID != "0" && (f.Status == 0 || f.Status/100 == 2 || f.Status/1000 == 2)
}

// flexID accepts request ids and order ids encoded as strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type envelope struct {
	Name      string          `json:"name"`
	RequestID flexID          `json:"request_id"`
	Status    int             `json:"status"`
	Msg       json.RawMessage `json:"msg"`
}

// DecodeFrame parses one text message from the broker socket.
func DecodeFrame(b []byte) (ServerFrame, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Status == 401 || env.Status == 403 || env.Name == "unauthorized" {
		return UnauthorizedFrame{RequestID: string(env.RequestID), Status: env.Status}, nil
	}

	switch env.Name {
	case "profile":
		var m struct {
			UserID   flexID    `json:"user_id"`
			Balances []Balance `json:"balances"`
		}
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		return ProfileFrame{UserID: string(m.UserID), Balances: m.Balances}, nil

	case msgQuote, msgQuotes:
		var m struct {
			ActiveID int             `json:"active_id"`
			Value    decimal.Decimal `json:"value"`
			Time     int64           `json:"time"`
		}
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			return nil, fmt.Errorf("decode quote: %w", err)
		}
		return QuoteFrame{ActiveID: m.ActiveID, Value: m.Value, Time: time.UnixMilli(m.Time).UTC()}, nil

	case "option":
		var m struct {
			ID      flexID `json:"id"`
			Message string `json:"message"`
		}
		if len(env.Msg) > 0 && env.Msg[0] == '"' {
			_ = json.Unmarshal(env.Msg, &m.Message)
		} else if err := json.Unmarshal(env.Msg, &m); err != nil {
			return nil, fmt.Errorf("decode option: %w", err)
		}
		return OptionFrame{RequestID: string(env.RequestID), Status: env.Status, ID: string(m.ID), Message: m.Message}, nil

	case msgOptionChanged:
		var m struct {
			OptionID flexID `json:"option_id"`
			ID       flexID `json:"id"`
		}
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			return nil, fmt.Errorf("decode option-changed: %w", err)
		}
		id := m.OptionID
		if id == "" {
			id = m.ID
		}
		return OptionChangedFrame{RequestID: string(env.RequestID), ID: string(id)}, nil

	case "option-closed":
		var m struct {
			OptionID     flexID          `json:"option_id"`
			ID           flexID          `json:"id"`
			Result       string          `json:"result"`
			Amount       decimal.Decimal `json:"amount"`
			ProfitAmount decimal.Decimal `json:"profit_amount"`
		}
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			return nil, fmt.Errorf("decode option-closed: %w", err)
		}
		id := m.OptionID
		if id == "" {
			id = m.ID
		}
		return OptionClosedFrame{
			ID:           string(id),
			Result:       strings.ToLower(m.Result),
			Amount:       m.Amount,
			ProfitAmount: m.ProfitAmount,
		}, nil

	case frameHeartbeat:
		var ts int64
		if err := json.Unmarshal(env.Msg, &ts); err != nil {
			// some servers send the timestamp as a string
			var s string
			if json.Unmarshal(env.Msg, &s) == nil {
				ts, _ = strconv.ParseInt(s, 10, 64)
			}
		}
		return HeartbeatFrame{Time: ts}, nil
	}
	return UnknownFrame{Name: env.Name}, nil
}
