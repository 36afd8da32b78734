package world

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Listener is told when the installed world changes. Calls are serialized.
type Listener interface {
	WorldCreated(w *World)
	WorldRemoved(w *World)
}

// Handler owns the currently installed world. A world is published only after
// it has been fully built, so readers either see the old world, the new one,
// or none, never a partial one.
type Handler struct {
	mu        sync.Mutex
	current   atomic.Pointer[World]
	listeners []Listener
	log       *zap.Logger
}

func NewHandler(log *zap.Logger) *Handler {
	return &Handler{log: log.Named("world")}
}

func (h *Handler) AddListener(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

// World returns the installed world or nil.
func (h *Handler) World() *World { return h.current.Load() }

// Install replaces the current world with w.
func (h *Handler) Install(w *World) {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.current.Swap(w)
	if old != nil {
		h.notifyRemoved(old)
	}
	h.log.Info("world installed",
		zap.String("name", w.Name()),
		zap.Int("width", w.Width()),
		zap.Int("height", w.Height()),
		zap.Int("actors", w.NumActors()),
	)
	for _, l := range h.listeners {
		l.WorldCreated(w)
	}
}

// Remove uninstalls the current world, if any.
func (h *Handler) Remove() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old := h.current.Swap(nil); old != nil {
		h.notifyRemoved(old)
	}
}

func (h *Handler) notifyRemoved(w *World) {
	h.log.Info("world removed", zap.String("name", w.Name()))
	for _, l := range h.listeners {
		l.WorldRemoved(w)
	}
}
