package engine

import "time"

// sweep periodically evicts terminal records older than the retention
// window, keeping the in-memory store bounded under sustained load. It
// runs from Start until Stop cancels the Manager's context.
func (m *Manager) sweep() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Debug("cleanup sweeper started",
		"interval", m.config.CleanupInterval,
		"retention_window", m.config.RetentionWindow)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("cleanup sweeper stopped")
			return

		case <-ticker.C:
			m.evictExpired()
		}
	}
}

// evictExpired removes records that are terminal and past the retention
// window. Pending and running records are never touched.
func (m *Manager) evictExpired() {
	now := time.Now()

	var evicted []TaskRecord
	m.mu.Lock()
	for id, st := range m.tasks {
		if !st.Status.Terminal() {
			continue
		}
		if now.Sub(st.CompletedAt) < m.config.RetentionWindow {
			continue
		}
		delete(m.tasks, id)
		evicted = append(evicted, st.snapshot())
	}
	m.mu.Unlock()

	for _, rec := range evicted {
		m.emit(Event{Type: EventEvicted, Record: rec, From: rec.Status, At: now})
	}
	if len(evicted) > 0 {
		m.logger.Debug("evicted finished task records", "count", len(evicted))
	}
}
