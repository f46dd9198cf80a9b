package paymentprovider

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Типы событий вебхука, на которые реагирует сервис.
const (
	EventChargeSuccess        = "charge.success"
	EventSubscriptionCreate   = "subscription.create"
	EventSubscriptionDisable  = "subscription.disable"
	EventSubscriptionNotRenew = "subscription.not_renew"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// envelope общий конверт ответов API шлюза.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// InitializeRequest запрос на создание сессии оплаты.
// Amount в минорных единицах валюты.
type InitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Plan        string            `json:"plan,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Reference   string            `json:"reference,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// InitializeResponse сессия оплаты, на которую перенаправляется пользователь.
type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Customer клиент шлюза.
type Customer struct {
	CustomerCode string `json:"customer_code"`
	Email        string `json:"email"`
}

// Authorization платёжное средство, которым выполнено списание.
type Authorization struct {
	Channel  string `json:"channel"`
	CardType string `json:"card_type"`
	Last4    string `json:"last4"`
}

// Method краткое описание средства оплаты для снимка подписки.
func (a Authorization) Method() string {
	switch {
	case a.CardType != "" && a.Last4 != "":
		return strings.TrimSpace(a.CardType) + " *" + a.Last4
	case a.CardType != "":
		return strings.TrimSpace(a.CardType)
	default:
		return a.Channel
	}
}

// PlanRef план в событии. Шлюз присылает его то объектом, то строкой с кодом, то пустым объектом.
type PlanRef struct {
	PlanCode string `json:"plan_code"`
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Interval string `json:"interval"`
}

// UnmarshalJSON принимает объект, строку или null.
func (p *PlanRef) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var code string
		if err := json.Unmarshal(b, &code); err != nil {
			return err
		}
		p.PlanCode = code
		return nil
	}
	type plain PlanRef
	return json.Unmarshal(b, (*plain)(p))
}

// SubscriptionRef вложенная подписка в событиях счетов.
type SubscriptionRef struct {
	SubscriptionCode string `json:"subscription_code"`
	EmailToken       string `json:"email_token"`
	NextPaymentDate  string `json:"next_payment_date"`
	Status           string `json:"status"`
}

// Metadata произвольные данные, переданные при создании платежа.
// Шлюз может прислать пустую строку вместо объекта.
type Metadata map[string]string

// UnmarshalJSON принимает объект с любыми скалярными значениями, строку или null.
func (m *Metadata) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Metadata, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	*m = out
	return nil
}

// EventData полезная нагрузка события. Поля заполнены в зависимости от типа события.
type EventData struct {
	Reference        string          `json:"reference"`
	Status           string          `json:"status"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	PaidAt           string          `json:"paid_at"`
	PaidAtAlt        string          `json:"paidAt"`
	CreatedAt        string          `json:"created_at"`
	CreatedAtAlt     string          `json:"createdAt"`
	Plan             PlanRef         `json:"plan"`
	Customer         Customer        `json:"customer"`
	Authorization    Authorization   `json:"authorization"`
	Metadata         Metadata        `json:"metadata"`
	SubscriptionCode string          `json:"subscription_code"`
	EmailToken       string          `json:"email_token"`
	NextPaymentDate  string          `json:"next_payment_date"`
	InvoiceCode      string          `json:"invoice_code"`
	Subscription     SubscriptionRef `json:"subscription"`
}

// Event входящее событие вебхука.
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

// OccurredAt время события у шлюза для упорядочивания доставок.
// Списание и счёт несут время оплаты или выставления. subscription.create датируется
// созданием подписки. У subscription.disable и subscription.not_renew собственного
// времени нет (createdAt там тоже время создания подписки), поэтому для них и для
// событий без валидной даты возвращается нулевое значение: упорядочивать по времени получения.
func (d EventData) OccurredAt(event string) time.Time {
	var candidates []string
	switch {
	case event == EventChargeSuccess, strings.HasPrefix(event, "invoice."):
		candidates = []string{d.PaidAt, d.PaidAtAlt, d.CreatedAt, d.CreatedAtAlt}
	case event == EventSubscriptionCreate:
		candidates = []string{d.CreatedAt, d.CreatedAtAlt}
	}
	for _, v := range candidates {
		if t, ok := parseTime(v); ok {
			return t
		}
	}
	return time.Time{}
}

// Code код подписки из корня события или из вложенного объекта.
func (d EventData) Code() string {
	if d.SubscriptionCode != "" {
		return d.SubscriptionCode
	}
	return d.Subscription.SubscriptionCode
}

// Token email-токен подписки, нужен для её отключения.
func (d EventData) Token() string {
	if d.EmailToken != "" {
		return d.EmailToken
	}
	return d.Subscription.EmailToken
}

// NextPayment дата следующего списания, nil если неизвестна.
func (d EventData) NextPayment() *time.Time {
	for _, v := range []string{d.NextPaymentDate, d.Subscription.NextPaymentDate} {
		if t, ok := parseTime(v); ok {
			return &t
		}
	}
	return nil
}

// PlanCurrency валюта события или плана.
func (d EventData) PlanCurrency() string {
	if d.Currency != "" {
		return d.Currency
	}
	return d.Plan.Currency
}

// PlanAmount сумма события или плана.
func (d EventData) PlanAmount() int64 {
	if d.Amount != 0 {
		return d.Amount
	}
	return d.Plan.Amount
}

func parseTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Transaction результат проверки платежа.
type Transaction struct {
	Status        string        `json:"status"`
	Reference     string        `json:"reference"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	PaidAt        string        `json:"paid_at"`
	GatewayResp   string        `json:"gateway_response"`
	Plan          PlanRef       `json:"plan"`
	Customer      Customer      `json:"customer"`
	Authorization Authorization `json:"authorization"`
	Metadata      Metadata      `json:"metadata"`
}

// Paid платёж завершён успешно.
func (t Transaction) Paid() bool {
	return t.Status == "success"
}

// PaidAtTime время оплаты или нулевое значение.
func (t Transaction) PaidAtTime() time.Time {
	at, _ := parseTime(t.PaidAt)
	return at
}
