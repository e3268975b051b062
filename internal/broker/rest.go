package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	jsoniter "github.com/json-iterator/go"

	"algotrade/pkg/ratelimit"
)

// jsoniter быстрее encoding/json на горячем пути реконсиляции,
// интерфейс совместим со стандартной библиотекой
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// restClient - REST клиент connectivity-сервиса для одного счёта.
//
// Все торговые действия идут через единый trade endpoint с actionType,
// как это делает терминал. Чтение (цены, баланс, история) через GET.
type restClient struct {
	baseURL   string
	accountID string
	authToken string

	http    *HTTPClient
	limiter *ratelimit.RateLimiter
}

func newRESTClient(baseURL, accountID, authToken string, httpClient *HTTPClient, limiter *ratelimit.RateLimiter) *restClient {
	return &restClient{
		baseURL:   baseURL,
		accountID: accountID,
		authToken: authToken,
		http:      httpClient,
		limiter:   limiter,
	}
}

// Типы торговых действий trade endpoint'а
const (
	actionMarketBuy   = "ORDER_TYPE_BUY"
	actionMarketSell  = "ORDER_TYPE_SELL"
	actionBuyLimit    = "ORDER_TYPE_BUY_LIMIT"
	actionSellLimit   = "ORDER_TYPE_SELL_LIMIT"
	actionBuyStop     = "ORDER_TYPE_BUY_STOP"
	actionSellStop    = "ORDER_TYPE_SELL_STOP"
	actionPositionMod = "POSITION_MODIFY"
	actionPositionEnd = "POSITION_CLOSE_ID"
	actionOrderModify = "ORDER_MODIFY"
	actionOrderCancel = "ORDER_CANCEL"
)

// tradeRequest - тело запроса к trade endpoint
type tradeRequest struct {
	ActionType string  `json:"actionType"`
	Symbol     string  `json:"symbol,omitempty"`
	Volume     float64 `json:"volume,omitempty"`
	OpenPrice  float64 `json:"openPrice,omitempty"`
	StopLoss   float64 `json:"stopLoss,omitempty"`
	TakeProfit float64 `json:"takeProfit,omitempty"`
	Comment    string  `json:"comment,omitempty"`
	ClientID   string  `json:"clientId,omitempty"`
	PositionID string  `json:"positionId,omitempty"`
	OrderID    string  `json:"orderId,omitempty"`
}

// tradeResponse - ответ trade endpoint'а
type tradeResponse struct {
	NumericCode int    `json:"numericCode"`
	StringCode  string `json:"stringCode"`
	Message     string `json:"message"`
	OrderID     string `json:"orderId"`
	PositionID  string `json:"positionId"`
}

// errorBody - тело ошибки connectivity-сервиса
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StringCode string `json:"stringCode"`
}

// Коды успешного приёма ордера терминалом
const (
	retcodeDone   = "TRADE_RETCODE_DONE"
	retcodePlaced = "TRADE_RETCODE_PLACED"
)

func (c *restClient) accountPath(suffix string) string {
	return fmt.Sprintf("%s/users/current/accounts/%s%s", c.baseURL, url.PathEscape(c.accountID), suffix)
}

// doJSON выполняет запрос с rate limiting и декодирует ответ в out.
// Ошибки HTTP уровня переводятся в *Error / ErrBrokerUnavailable.
func (c *restClient) doJSON(ctx context.Context, method, rawURL string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return wrapTimeout(err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("auth-token", c.authToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return wrapTimeout(ctx.Err())
		}
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrBrokerUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return c.classifyError(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// classifyError превращает HTTP ошибку сервиса в *Error с кодом.
// Код нужен вызывающим для идемпотентных close/cancel (NOT_FOUND).
func (c *restClient) classifyError(status int, data []byte) error {
	var eb errorBody
	_ = json.Unmarshal(data, &eb)

	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}
	if msg == "" {
		msg = fmt.Sprintf("http status %d", status)
	}

	if status >= 500 {
		return &Error{Code: eb.StringCode, Message: msg, Original: ErrBrokerUnavailable}
	}
	return &Error{Code: eb.StringCode, Message: msg}
}

// ============================================================
// Чтение состояния
// ============================================================

func (c *restClient) getPrice(ctx context.Context, symbol string) (Price, error) {
	var price Price
	u := c.accountPath("/symbols/" + url.PathEscape(symbol) + "/current-price")
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &price); err != nil {
		return Price{}, err
	}
	if price.Symbol == "" {
		price.Symbol = symbol
	}
	return price, nil
}

func (c *restClient) getAccountInformation(ctx context.Context) (*AccountInformation, error) {
	var info AccountInformation
	u := c.accountPath("/account-information")
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *restClient) getRecentDeals(ctx context.Context, limit int) ([]Deal, error) {
	var deals []Deal
	u := fmt.Sprintf("%s?limit=%d", c.accountPath("/history-deals"), limit)
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &deals); err != nil {
		return nil, err
	}
	return deals, nil
}

func (c *restClient) getRecentHistoryOrders(ctx context.Context, limit int) ([]HistoryOrder, error) {
	var orders []HistoryOrder
	u := fmt.Sprintf("%s?limit=%d", c.accountPath("/history-orders"), limit)
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ============================================================
// Торговые действия
// ============================================================

// actionTypeFor переводит side + orderType заявки в actionType терминала
func actionTypeFor(side, orderType string) (string, error) {
	switch orderType {
	case "Market":
		if side == "buy" {
			return actionMarketBuy, nil
		}
		return actionMarketSell, nil
	case "Limit":
		if side == "buy" {
			return actionBuyLimit, nil
		}
		return actionSellLimit, nil
	case "Stop":
		if side == "buy" {
			return actionBuyStop, nil
		}
		return actionSellStop, nil
	}
	return "", fmt.Errorf("unsupported order type %q", orderType)
}

func (c *restClient) trade(ctx context.Context, req tradeRequest) (*tradeResponse, error) {
	var resp tradeResponse
	if err := c.doJSON(ctx, http.MethodPost, c.accountPath("/trade"), req, &resp); err != nil {
		return nil, err
	}

	// Сервис может ответить 200 с кодом отказа терминала в теле
	if resp.StringCode != "" && resp.StringCode != retcodeDone && resp.StringCode != retcodePlaced {
		msg := resp.Message
		if msg == "" {
			msg = "trade rejected"
		}
		return nil, &Error{Code: resp.StringCode, Message: msg}
	}
	return &resp, nil
}

func (c *restClient) createOrder(ctx context.Context, spec OrderSpec) (*OrderConfirmation, error) {
	actionType, err := actionTypeFor(spec.Side, spec.OrderType)
	if err != nil {
		return nil, err
	}

	req := tradeRequest{
		ActionType: actionType,
		Symbol:     spec.Symbol,
		Volume:     spec.Volume,
		StopLoss:   spec.StopLoss,
		TakeProfit: spec.TakeProfit,
		Comment:    spec.Comment,
		ClientID:   spec.ClientID,
	}
	if spec.OrderType != "Market" {
		req.OpenPrice = spec.Price
	}

	resp, err := c.trade(ctx, req)
	if err != nil {
		return nil, err
	}
	return &OrderConfirmation{
		OrderID:    resp.OrderID,
		PositionID: resp.PositionID,
		Code:       resp.StringCode,
	}, nil
}

func (c *restClient) modifyPosition(ctx context.Context, id string, stopLoss, takeProfit float64) error {
	_, err := c.trade(ctx, tradeRequest{
		ActionType: actionPositionMod,
		PositionID: id,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	return err
}

func (c *restClient) modifyOrder(ctx context.Context, id string, openPrice, stopLoss, takeProfit float64) error {
	_, err := c.trade(ctx, tradeRequest{
		ActionType: actionOrderModify,
		OrderID:    id,
		OpenPrice:  openPrice,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	return err
}

func (c *restClient) closePosition(ctx context.Context, id string) error {
	_, err := c.trade(ctx, tradeRequest{
		ActionType: actionPositionEnd,
		PositionID: id,
	})
	return err
}

func (c *restClient) cancelOrder(ctx context.Context, id string) error {
	_, err := c.trade(ctx, tradeRequest{
		ActionType: actionOrderCancel,
		OrderID:    id,
	})
	return err
}
