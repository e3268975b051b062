package websocket

import (
	"bytes"
	"log"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"algotrade/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ sync.Pool для JSON буферов ============
// Убирает аллокации на каждом Publish: live-проекции уходят после
// каждого прохода реконсиляции, тики котировок ещё чаще

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// roomMessage - сообщение, адресованное одной комнате
type roomMessage struct {
	room string
	data []byte
}

// Hub управляет всеми активными WebSocket соединениями.
//
// Клиенты группируются в комнаты по ключу счёта: live-проекция и тики
// котировок одного счёта уходят только его подписчикам. Hub реализует
// bot.Notifier и подключается к движку как транспорт трансляции.
//
// Медленные клиенты не тормозят остальных: при переполнении буфера
// отправки клиент отключается.
type Hub struct {
	// Комнаты: ключ счёта -> подписанные клиенты
	rooms map[string]map[*Client]bool

	// Канал адресных сообщений
	broadcast chan roomMessage

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	// Сигнал остановки главного цикла
	stop chan struct{}

	stopOnce sync.Once

	// Mutex для потокобезопасного доступа к rooms
	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan roomMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Stop завершает главный цикл и отключает всех клиентов
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Run запускает главный цикл Hub.
//
// Должен запускаться в отдельной горутине: go hub.Run().
// Отправка в комнату идет без глобального лока: список получателей
// копируется под коротким RLock, медленные клиенты удаляются после.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for _, room := range h.rooms {
				for client := range room {
					close(client.send)
				}
			}
			h.rooms = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[client.room]
			if !ok {
				room = make(map[*Client]bool)
				h.rooms[client.room] = room
			}
			room[client] = true
			h.mu.Unlock()
			log.Printf("[ws] client joined room %s (%d subscribers)", client.room, len(room))

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropClient(client)
			h.mu.Unlock()
			log.Printf("[ws] client left room %s", client.room)

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.rooms[message.room]))
			for client := range h.rooms[message.room] {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			// Отправка без блокировки hub'а
			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message.data:
				default:
					// Клиент не вычитывает буфер
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					h.dropClient(client)
				}
				h.mu.Unlock()
				log.Printf("[ws] dropped %d slow clients from room %s", len(toRemove), message.room)
			}
		}
	}
}

// dropClient удаляет клиента из его комнаты. Вызывается под h.mu.
func (h *Hub) dropClient(client *Client) {
	room, ok := h.rooms[client.room]
	if !ok {
		return
	}
	if _, ok := room[client]; ok {
		delete(room, client)
		close(client.send)
	}
	if len(room) == 0 {
		delete(h.rooms, client.room)
	}
}

// publish сериализует сообщение и отправляет его в комнату
func (h *Hub) publish(room string, message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		log.Printf("[ws] marshal message for room %s: %v", room, err)
		jsonBufferPool.Put(buf)
		return
	}

	// Encoder добавляет trailing newline
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	// Буфер вернется в пул, данные копируем
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	select {
	case h.broadcast <- roomMessage{room: room, data: msgCopy}:
	default:
		log.Printf("[ws] broadcast backlog full, dropping message for room %s", room)
	}
}

// PublishLiveData транслирует проекцию состояния счёта его подписчикам
func (h *Hub) PublishLiveData(data models.LiveData) {
	h.publish(data.AccountID, &LiveDataMessage{
		Type:    messageTypeLiveData,
		Account: data.AccountID,
		Data:    data,
	})
}

// PublishPrice транслирует тик котировки подписчикам счёта
func (h *Hub) PublishPrice(quote models.PriceQuote) {
	h.publish(quote.AccountID, &PriceMessage{
		Type:    messageTypePrice,
		Account: quote.AccountID,
		Symbol:  quote.Symbol,
		Bid:     quote.Bid,
		Ask:     quote.Ask,
	})
}

// PublishAccountStatus транслирует смену статуса подключения счёта
func (h *Hub) PublishAccountStatus(accountID, status string) {
	h.publish(accountID, &AccountStatusMessage{
		Type:    messageTypeAccountStatus,
		Account: accountID,
		Status:  status,
	})
}

// RoomCount возвращает количество подписчиков комнаты
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ClientCount возвращает общее количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, room := range h.rooms {
		total += len(room)
	}
	return total
}
