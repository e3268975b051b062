package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig конфигурация streaming-соединения с connectivity-сервисом
type StreamConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут ожидания записи ping
	PongTimeout time.Duration
}

// DefaultStreamConfig возвращает конфигурацию по умолчанию.
// Задержки переподключения: 2s, 4s, 8s, 16s, 16s...
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     0, // терминал должен переподключаться пока сессию не закрыли
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// streamState состояние streaming-соединения
type streamState int32

const (
	streamDisconnected streamState = iota
	streamConnecting
	streamConnected
	streamReconnecting
	streamClosed
)

func (s streamState) String() string {
	switch s {
	case streamDisconnected:
		return "disconnected"
	case streamConnecting:
		return "connecting"
	case streamConnected:
		return "connected"
	case streamReconnecting:
		return "reconnecting"
	case streamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// streamManager держит WebSocket до connectivity-сервиса терминала
// с автоматическим переподключением и exponential backoff.
//
// После переподключения повторяет подписки на котировки, чтобы
// реконсиляция продолжала получать тики без участия движка.
type streamManager struct {
	// Идентификатор счёта (для логирования)
	accountID string

	wsURL     string
	authToken string
	config    StreamConfig

	conn   *websocket.Conn
	connMu sync.RWMutex

	state int32 // atomic streamState

	retryCount int32 // atomic

	closeChan chan struct{}

	onMessage    func([]byte)
	onConnect    func()
	onDisconnect func(error)
	// Терминальный конец стрима: сервис закрыл соединение штатно
	// или попытки переподключения исчерпаны
	onClosed   func()
	callbackMu sync.RWMutex

	// Подписки на котировки для восстановления после переподключения
	subscriptions   map[string]struct{}
	subscriptionsMu sync.Mutex
}

func newStreamManager(accountID, wsURL, authToken string, config StreamConfig) *streamManager {
	return &streamManager{
		accountID:     accountID,
		wsURL:         wsURL,
		authToken:     authToken,
		config:        config,
		closeChan:     make(chan struct{}),
		subscriptions: make(map[string]struct{}),
	}
}

func (m *streamManager) setOnMessage(handler func([]byte)) {
	m.callbackMu.Lock()
	m.onMessage = handler
	m.callbackMu.Unlock()
}

func (m *streamManager) setOnConnect(handler func()) {
	m.callbackMu.Lock()
	m.onConnect = handler
	m.callbackMu.Unlock()
}

func (m *streamManager) setOnDisconnect(handler func(error)) {
	m.callbackMu.Lock()
	m.onDisconnect = handler
	m.callbackMu.Unlock()
}

func (m *streamManager) setOnClosed(handler func()) {
	m.callbackMu.Lock()
	m.onClosed = handler
	m.callbackMu.Unlock()
}

func (m *streamManager) getState() streamState {
	return streamState(atomic.LoadInt32(&m.state))
}

// connect устанавливает streaming-соединение и запускает чтение
func (m *streamManager) connect() error {
	select {
	case <-m.closeChan:
		return ErrSessionClosed
	default:
	}

	atomic.StoreInt32(&m.state, int32(streamConnecting))

	if err := m.dial(); err != nil {
		atomic.StoreInt32(&m.state, int32(streamDisconnected))
		return err
	}

	atomic.StoreInt32(&m.state, int32(streamConnected))
	atomic.StoreInt32(&m.retryCount, 0)

	m.callbackMu.RLock()
	onConnect := m.onConnect
	m.callbackMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}

	go m.readPump()
	go m.pingPump()

	log.Printf("[broker %s] stream connected to %s", m.accountID, m.wsURL)

	return nil
}

// dial выполняет подключение и восстанавливает подписки
func (m *streamManager) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.ConnectTimeout,
	}

	header := map[string][]string{"auth-token": {m.authToken}}
	conn, _, err := dialer.DialContext(ctx, m.wsURL, header)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	if err := m.resubscribe(); err != nil {
		// Не фатально, сервис пришлёт тики после следующей подписки
		log.Printf("[broker %s] resubscribe error: %v", m.accountID, err)
	}

	return nil
}

type subscribeMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// subscribe регистрирует подписку и отправляет её сервису
func (m *streamManager) subscribe(symbol string) error {
	m.subscriptionsMu.Lock()
	m.subscriptions[symbol] = struct{}{}
	m.subscriptionsMu.Unlock()

	return m.send(subscribeMessage{Type: "subscribeToMarketData", Symbol: symbol})
}

// unsubscribe снимает подписку
func (m *streamManager) unsubscribe(symbol string) error {
	m.subscriptionsMu.Lock()
	delete(m.subscriptions, symbol)
	m.subscriptionsMu.Unlock()

	return m.send(subscribeMessage{Type: "unsubscribeFromMarketData", Symbol: symbol})
}

// resubscribe восстанавливает подписки после переподключения
func (m *streamManager) resubscribe() error {
	m.subscriptionsMu.Lock()
	symbols := make([]string, 0, len(m.subscriptions))
	for s := range m.subscriptions {
		symbols = append(symbols, s)
	}
	m.subscriptionsMu.Unlock()

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("no connection")
	}

	for _, symbol := range symbols {
		if err := conn.WriteJSON(subscribeMessage{Type: "subscribeToMarketData", Symbol: symbol}); err != nil {
			return fmt.Errorf("resubscribe %s: %w", symbol, err)
		}
	}

	if len(symbols) > 0 {
		log.Printf("[broker %s] resubscribed to %d symbols", m.accountID, len(symbols))
	}

	return nil
}

// readPump читает сообщения стрима
func (m *streamManager) readPump() {
	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		m.connMu.RLock()
		conn := m.conn
		m.connMu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			// Штатное закрытие со стороны сервиса терминально,
			// переподключаться бессмысленно
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.terminate()
				return
			}
			m.handleDisconnect(err)
			return
		}

		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()

		if onMessage != nil {
			onMessage(message)
		}
	}
}

// pingPump отправляет ping для проверки соединения
func (m *streamManager) pingPump() {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeChan:
			return
		case <-ticker.C:
			m.connMu.RLock()
			conn := m.conn
			m.connMu.RUnlock()

			if conn == nil || m.getState() != streamConnected {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(m.config.PongTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[broker %s] ping error: %v", m.accountID, err)
				m.handleDisconnect(err)
				return
			}
		}
	}
}

// handleDisconnect обрабатывает разрыв соединения
func (m *streamManager) handleDisconnect(err error) {
	select {
	case <-m.closeChan:
		return
	default:
	}

	// Избегаем повторной обработки
	state := m.getState()
	if state == streamReconnecting || state == streamClosed {
		return
	}

	atomic.StoreInt32(&m.state, int32(streamReconnecting))

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	m.callbackMu.RLock()
	onDisconnect := m.onDisconnect
	m.callbackMu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(err)
	}

	if err != nil {
		log.Printf("[broker %s] stream disconnected: %v", m.accountID, err)
	}

	go m.reconnectLoop()
}

// reconnectLoop выполняет переподключение с exponential backoff
func (m *streamManager) reconnectLoop() {
	delay := m.config.InitialDelay

	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		retryCount := atomic.AddInt32(&m.retryCount, 1)

		if m.config.MaxRetries > 0 && int(retryCount) > m.config.MaxRetries {
			log.Printf("[broker %s] max reconnect attempts (%d) reached", m.accountID, m.config.MaxRetries)
			atomic.StoreInt32(&m.state, int32(streamDisconnected))
			m.notifyClosed()
			return
		}

		log.Printf("[broker %s] reconnecting in %v (attempt %d)...", m.accountID, delay, retryCount)

		select {
		case <-m.closeChan:
			return
		case <-time.After(delay):
		}

		if err := m.dial(); err != nil {
			log.Printf("[broker %s] reconnect failed: %v", m.accountID, err)

			delay = delay * 2
			if delay > m.config.MaxDelay {
				delay = m.config.MaxDelay
			}
			continue
		}

		atomic.StoreInt32(&m.state, int32(streamConnected))
		atomic.StoreInt32(&m.retryCount, 0)

		m.callbackMu.RLock()
		onConnect := m.onConnect
		m.callbackMu.RUnlock()
		if onConnect != nil {
			onConnect()
		}

		log.Printf("[broker %s] stream reconnected", m.accountID)

		go m.readPump()
		go m.pingPump()

		return
	}
}

// terminate завершает стрим без переподключения: сервис закрыл
// соединение сам, восстанавливать нечего
func (m *streamManager) terminate() {
	select {
	case <-m.closeChan:
		return
	default:
	}

	atomic.StoreInt32(&m.state, int32(streamDisconnected))

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	log.Printf("[broker %s] stream closed by service", m.accountID)
	m.notifyClosed()
}

func (m *streamManager) notifyClosed() {
	m.callbackMu.RLock()
	onClosed := m.onClosed
	m.callbackMu.RUnlock()
	if onClosed != nil {
		onClosed()
	}
}

// send отправляет сообщение в стрим
func (m *streamManager) send(msg interface{}) error {
	if m.getState() != streamConnected {
		return fmt.Errorf("stream not connected (state: %s)", m.getState())
	}

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("no connection")
	}

	return conn.WriteJSON(msg)
}

// close закрывает соединение и останавливает переподключение
func (m *streamManager) close() error {
	select {
	case <-m.closeChan:
		return nil
	default:
		close(m.closeChan)
	}

	atomic.StoreInt32(&m.state, int32(streamClosed))

	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}

	return nil
}
