package mirror

import (
	"context"

	"github.com/barnabee/core/internal/errs"
	"github.com/barnabee/core/internal/ha"
)

// Healthy reports whether the mirror currently holds a live
// bidirectional connection. The orchestrator uses this to decide
// whether to degrade a request instead of waiting on a dead socket
// (spec §7).
func (m *Mirror) Healthy() bool {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.conn != nil
}

// CallService dispatches a command over the live bidirectional
// connection when one is established, falling back to the HTTP path
// (spec §4.3) when the socket is down. Used by the Command Executor
// (spec §4.8).
func (m *Mirror) CallService(ctx context.Context, domain, service string, entityIDs []string, data map[string]any) error {
	m.connMu.Lock()
	conn := m.conn
	m.connMu.Unlock()

	if conn == nil {
		return m.FallbackCallService(ctx, domain, service, entityIDs, data)
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	req := ha.CallServiceMessage{ID: id, Type: ha.TypeCallService, Domain: domain, Service: service, ServiceData: data}
	req.Target.EntityID = entityIDs

	m.connMu.Lock()
	writeErr := conn.WriteJSON(req)
	m.connMu.Unlock()
	if writeErr != nil {
		return m.FallbackCallService(ctx, domain, service, entityIDs, data)
	}

	var resp ha.ResultMessage
	m.connMu.Lock()
	readErr := conn.ReadJSON(&resp)
	m.connMu.Unlock()
	if readErr != nil {
		return m.FallbackCallService(ctx, domain, service, entityIDs, data)
	}
	if !resp.Success {
		msg := "call_service rejected"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return errs.New(errs.KindTransientUpstream, "mirror.CallService", msg, nil)
	}
	return nil
}
