package websocket

import (
	"encoding/json"
	"sync"
)

// BalanceUpdate is pushed to every subscriber of a ledger whenever a write
// lands. Balance carries the raw signed quantity; Display is the same value
// rendered for the ledger's unit.
type BalanceUpdate struct {
	LedgerUUID string `json:"ledger_uuid"`
	Balance    int64  `json:"balance"`
	Display    string `json:"display"`
	Unit       string `json:"unit"`
}

// Hub fans balance updates out to subscribers, keyed by ledger UUID. It also
// remembers the last payload per ledger so a new subscriber sees the current
// balance without waiting for the next write.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[*Client]struct{}
	last    map[string][]byte
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		last:    make(map[string][]byte),
	}
}

func (h *Hub) Register(ledgerUUID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[ledgerUUID] == nil {
		h.clients[ledgerUUID] = make(map[*Client]struct{})
	}
	h.clients[ledgerUUID][client] = struct{}{}
	if snapshot, ok := h.last[ledgerUUID]; ok {
		select {
		case client.send <- snapshot:
		default:
		}
	}
}

func (h *Hub) Unregister(ledgerUUID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[ledgerUUID] == nil {
		return
	}
	delete(h.clients[ledgerUUID], client)
	if len(h.clients[ledgerUUID]) == 0 {
		delete(h.clients, ledgerUUID)
	}
}

// BroadcastBalance queues the update for every subscriber of the ledger.
// Subscribers with a full send queue miss the update; they catch up on the
// next one.
func (h *Hub) BroadcastBalance(ledgerUUID string, update BalanceUpdate) {
	payload, _ := json.Marshal(update)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last[ledgerUUID] = payload
	for client := range h.clients[ledgerUUID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
